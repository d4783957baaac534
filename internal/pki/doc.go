// Package pki creates and parses the X.509 material used around presentment:
// issuer roots (IACA), document signer certificates, and reader
// authentication roots and leaves.
//
// Certificates are ECDSA (P-256 unless the Template names another curve).
// NewRoot issues self-signed CAs, Issue and IssueFor issue leaves or
// intermediates under a parent, and the PEM helpers move certificates and
// "EC PRIVATE KEY" blocks to and from disk.
package pki
