// Package doctype describes known mdoc document types: their namespaces,
// data elements, human-readable names and sample values.
//
// A Registry maps doc types to definitions and names requested claims for
// consent prompts. DefaultRegistry holds the ISO/IEC 18013-5 mobile driving
// licence.
package doctype
