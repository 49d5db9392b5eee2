package sms

import "strings"

// phoneSuffixLen is how many trailing digits identify a number for
// fuzzy matching (national significant number, roughly).
const phoneSuffixLen = 10

// CanonicalizeNumber strips formatting characters from a phone number:
// spaces, dashes, parentheses and the leading plus. Leading zeros are
// preserved; they can be significant in some regions.
func CanonicalizeNumber(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, c := range phone {
		switch c {
		case ' ', '-', '(', ')', '+':
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

// PhoneSuffix returns the last 10 digits of the canonical form, or the
// whole canonical form when shorter. Used for fuzzy matching numbers
// that differ only in country-code prefix.
func PhoneSuffix(phone string) string {
	digits := CanonicalizeNumber(phone)
	if len(digits) <= phoneSuffixLen {
		return digits
	}
	return digits[len(digits)-phoneSuffixLen:]
}

// SameNumber reports whether two addresses refer to the same phone
// under suffix equivalence.
func SameNumber(a, b string) bool {
	sa, sb := PhoneSuffix(a), PhoneSuffix(b)
	return sa != "" && sa == sb
}

// ValidAddress reports whether an address can be sent to: a phone
// number of 3-15 digits after canonicalization, or a rudimentary email
// shape (one @ with non-empty sides).
func ValidAddress(address string) bool {
	canonical := CanonicalizeNumber(address)
	if len(canonical) >= 3 && len(canonical) <= 15 && allDigits(canonical) {
		return true
	}
	if parts := strings.Split(address, "@"); len(parts) == 2 && parts[0] != "" && parts[1] != "" {
		return true
	}
	return false
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
