package doctype

import (
	"sort"
	"sync"

	"mdocholder/internal/domain"
)

// Element is one data element of a document type.
type Element struct {
	ID          domain.ElementID
	DisplayName string
	Mandatory   bool
	Sample      any
}

// Namespace groups the elements of a document type.
type Namespace struct {
	ID       domain.Namespace
	Elements []Element
}

// DocumentType is a known mdoc document type.
type DocumentType struct {
	DocType     domain.DocType
	DisplayName string
	Namespaces  []Namespace
}

// Element looks up an element definition.
func (dt DocumentType) Element(ns domain.Namespace, id domain.ElementID) (Element, bool) {
	for _, n := range dt.Namespaces {
		if n.ID != ns {
			continue
		}
		for _, e := range n.Elements {
			if e.ID == id {
				return e, true
			}
		}
	}
	return Element{}, false
}

// SampleValues returns every element that has a sample value.
func (dt DocumentType) SampleValues() map[domain.Namespace]map[domain.ElementID]any {
	out := make(map[domain.Namespace]map[domain.ElementID]any, len(dt.Namespaces))
	for _, n := range dt.Namespaces {
		for _, e := range n.Elements {
			if e.Sample == nil {
				continue
			}
			if out[n.ID] == nil {
				out[n.ID] = make(map[domain.ElementID]any)
			}
			out[n.ID][e.ID] = e.Sample
		}
	}
	return out
}

// Registry holds document types by doc type string.
type Registry struct {
	mu    sync.RWMutex
	types map[domain.DocType]DocumentType
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[domain.DocType]DocumentType)}
}

// DefaultRegistry returns a registry with the built-in document types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Add(DrivingLicense())
	return r
}

// Add registers dt, replacing any type with the same doc type.
func (r *Registry) Add(dt DocumentType) {
	r.mu.Lock()
	r.types[dt.DocType] = dt
	r.mu.Unlock()
}

// Lookup returns the document type for docType.
func (r *Registry) Lookup(docType domain.DocType) (DocumentType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dt, ok := r.types[docType]
	return dt, ok
}

// DocTypes lists registered doc types in sorted order.
func (r *Registry) DocTypes() []domain.DocType {
	r.mu.RLock()
	out := make([]domain.DocType, 0, len(r.types))
	for k := range r.types {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ClaimName returns the display name of an element, or its identifier when
// the type or element is unknown.
func (r *Registry) ClaimName(docType domain.DocType, ns domain.Namespace, id domain.ElementID) string {
	if dt, ok := r.Lookup(docType); ok {
		if e, ok := dt.Element(ns, id); ok && e.DisplayName != "" {
			return e.DisplayName
		}
	}
	return string(id)
}
