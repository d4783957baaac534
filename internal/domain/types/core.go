package types

// DocumentID identifies a credential in the document store.
type DocumentID string

// String returns the string form of the identifier.
func (id DocumentID) String() string { return string(id) }

// DocType is an mdoc document type, e.g. "org.iso.18013.5.1.mDL".
type DocType string

// String returns the string form of the document type.
func (d DocType) String() string { return string(d) }

// Namespace groups data elements inside a document.
type Namespace string

// String returns the string form of the namespace.
func (n Namespace) String() string { return string(n) }

// ElementID names a single data element (claim) within a namespace.
type ElementID string

// String returns the string form of the element identifier.
func (e ElementID) String() string { return string(e) }

// Curve names an elliptic curve supported by the crypto provider.
type Curve string

const (
	CurveP256 Curve = "P-256"
	CurveP384 Curve = "P-384"
	CurveP521 Curve = "P-521"
)

// SignatureAlgorithm is a COSE algorithm identifier.
type SignatureAlgorithm int64

const (
	AlgES256 SignatureAlgorithm = -7
	AlgES384 SignatureAlgorithm = -35
	AlgES512 SignatureAlgorithm = -36
)
