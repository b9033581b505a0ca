package protocol

import (
	"strings"

	"github.com/google/uuid"
)

const idLen = 36

// NewID returns a random transmission id.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether s is a canonical hyphenated uuid.
func ValidID(s string) bool {
	if len(s) != idLen {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// ParseID normalizes a canonical id to lower case.
func ParseID(s string) (string, bool) {
	if !ValidID(s) {
		return "", false
	}
	return strings.ToLower(s), true
}
