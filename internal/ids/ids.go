// Package ids generates the opaque identifiers surfaced to clients: 128-bit
// random values rendered as canonical 36-character hyphenated strings.
package ids

import "github.com/google/uuid"

// New returns a new random (v4) identifier in canonical lowercase
// hyphenated form, e.g. "3b7a1e2e-9c2e-4e2a-9a1a-7e6a5b4c3d2e".
func New() string {
	return uuid.NewString()
}

// Valid reports whether s parses as a canonical UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
