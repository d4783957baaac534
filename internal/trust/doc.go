// Package trust implements the reader trust store.
//
// A reader proves its identity with an X.509 chain carried in the reader
// authentication structure of its request. The Store decides whether that
// chain anchors in one of the configured trust points before any credential
// data is considered for release.
//
// # Policy
//
// Chain walking is strict: each certificate must be signed by the next and
// the last one must either be a trust point or be signed by one. Validity
// period enforcement and the maximum chain length come from
// domain.TrustPolicy. There is no policy switch that lets an unanchored
// chain through.
//
// # Caching
//
// Positive results are cached per exact chain in a bounded LRU for a few
// minutes, never beyond the earliest NotAfter in the chain. The cache is
// purged whenever a trust point is added.
package trust
