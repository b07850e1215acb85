package util

import "github.com/google/uuid"

// NewGUID returns a random UUID string. Session, fragment and proxy
// identifiers all come from here so the namespaces stay disjoint by
// construction.
func NewGUID() string {
	return uuid.NewString()
}

// IsGUID reports whether value parses as a UUID.
func IsGUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}
