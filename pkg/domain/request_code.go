package domain

import (
	"fmt"
	"math/rand/v2"
	"regexp"
)

// Request codes are short human-readable handles quoted by hospital staff,
// of the form #REQ1234. Uniqueness is enforced by the request store; callers
// retry on collision.

var requestCodePattern = regexp.MustCompile(`^#REQ\d{4}$`)

// NewRequestCode returns a fresh random request code.
func NewRequestCode() string {
	return fmt.Sprintf("#REQ%04d", 1000+rand.IntN(9000))
}

// IsRequestCode reports whether s looks like a request code.
func IsRequestCode(s string) bool {
	return requestCodePattern.MatchString(s)
}
