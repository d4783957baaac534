package app

import (
	"fmt"
	"unicode"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
)

// CheckPassphrase enforces the strength policy for the passphrase that
// seals device keys. It applies when a data directory is first initialised.
func CheckPassphrase(passphrase string) error {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len([]rune(passphrase)) < minPassphraseLength {
		return ErrWeakPassphrase
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	if !(hasUpper && hasLower && hasDigit && hasSymbol) {
		return ErrWeakPassphrase
	}
	return nil
}
