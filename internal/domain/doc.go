// Package domain defines core data models and interfaces shared across the app.
// It contains plain types (wire/state), contracts (interfaces) and the
// session failure taxonomy only.
package domain
