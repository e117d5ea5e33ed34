// Package refcode generates and validates referral codes.
// Format: REF-{8 uppercase base32 characters}, e.g. REF-K7KQJT2M.
package refcode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
)

// alphabet avoids ambiguous characters (0/O, 1/I/L).
const alphabet = "ABCDEFGHJKMNPQRSTVWXYZ23456789"

const codeLen = 8

var codeRegex = regexp.MustCompile(`^REF-[A-Z2-9]{8}$`)

// ErrInvalidCode is returned when a string is not a well-formed referral code.
var ErrInvalidCode = errors.New("refcode: invalid referral code format")

// Generate returns a new random referral code.
func Generate() (string, error) {
	buf := make([]byte, codeLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("refcode: %w", err)
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return "REF-" + string(buf), nil
}

// Validate checks that code is well-formed. It does not check existence;
// that is a store lookup.
func Validate(code string) error {
	if !codeRegex.MatchString(code) {
		return fmt.Errorf("%w: %s", ErrInvalidCode, code)
	}
	return nil
}
