// Package documents provisions and lists the holder's mdoc credentials.
//
// Creating a document generates a device key in the key store, issues a
// Mobile Security Object over the claim values and persists the result.
// SeedSample provisions the sample driving licence on an empty store.
package documents
