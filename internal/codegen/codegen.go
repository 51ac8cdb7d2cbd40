// Package codegen produces coupon codes from an alphabet without
// visually ambiguous symbols.
package codegen

import (
	"crypto/rand"
	"strings"
)

// Alphabet is A-Z and 2-9 without I, O, 0 and 1.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultLength is the length of issued coupon codes.
const DefaultLength = 5

// Generate returns a random code of the given length. Uniqueness against
// stored codes is the caller's concern.
func Generate(length int) string {
	if length <= 0 {
		return ""
	}

	buf := make([]byte, length)
	// crypto/rand.Read does not return an error on supported platforms.
	_, _ = rand.Read(buf)

	// len(Alphabet) is 32, so the low five bits of a byte are uniform.
	for i, b := range buf {
		buf[i] = Alphabet[b&31]
	}
	return string(buf)
}

// Normalize trims and upper-cases a user-supplied code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether code has the default length and only alphabet symbols.
func Valid(code string) bool {
	if len(code) != DefaultLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
