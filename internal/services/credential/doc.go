// Package credential selects credentials for a reader request and discloses
// them.
//
// Candidate selection is deterministic and honours the configured
// preference between device signature and key agreement. Disclosure never
// releases an element the plan does not list.
package credential
