package validation

import (
	"errors"
	"strings"
	"unicode"
)

var (
	ErrLocationEmpty        = errors.New("location is required")
	ErrLocationTooShort     = errors.New("location too short")
	ErrLocationTooLong      = errors.New("location too long")
	ErrLocationInvalidChars = errors.New("location contains invalid characters")
)

// ValidateLocation trims input and enforces rune-length bounds (0 disables a bound)
// and the city-name alphabet. At least one letter or digit is required. Returns the
// trimmed name.
func ValidateLocation(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrLocationEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrLocationTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrLocationTooLong
	}
	hasAlnum := false
	for _, c := range r {
		if !isAllowedLocationRune(c) {
			return "", ErrLocationInvalidChars
		}
		if unicode.IsLetter(c) || unicode.IsNumber(c) {
			hasAlnum = true
		}
	}
	if !hasAlnum {
		return "", ErrLocationInvalidChars
	}
	return s, nil
}

// IsValidationError reports whether err came from ValidateLocation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrLocationEmpty) ||
		errors.Is(err, ErrLocationTooShort) ||
		errors.Is(err, ErrLocationTooLong) ||
		errors.Is(err, ErrLocationInvalidChars)
}

// isAllowedLocationRune accepts letters (incl. combining marks), digits and the
// punctuation found in place names: "St. John's", "Stratford-upon-Avon", "Paris, FR".
func isAllowedLocationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.Is(unicode.Mn, r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'', '’':
		return true
	}
	return false
}
