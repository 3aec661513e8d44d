package session

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxIDLength bounds identities, key aliases and policy names.
const MaxIDLength = 256

// validateID checks names that become part of storage keys: key aliases and
// policy names. The separators ':' and '/' are refused.
func validateID(id, label string) error {
	if err := validateIdentity(id, label); err != nil {
		return err
	}
	if i := strings.IndexAny(id, ":/"); i >= 0 {
		return validationErrorf("%s contains forbidden character %q", label, id[i])
	}
	return nil
}

// validateIdentity checks a value that is only sent to the issuer, so URN
// and path-like identities are allowed.
func validateIdentity(id, label string) error {
	if id == "" {
		return validationErrorf("%s must not be empty", label)
	}
	if len(id) > MaxIDLength {
		return validationErrorf("%s exceeds maximum length of %d", label, MaxIDLength)
	}
	if !utf8.ValidString(id) {
		return validationErrorf("%s contains invalid UTF-8", label)
	}
	if strings.ContainsFunc(id, unicode.IsControl) {
		return validationErrorf("%s contains control character", label)
	}
	return nil
}

func validatePolicy(p Policy) error {
	if err := validateID(p.Name, "policy name"); err != nil {
		return err
	}
	if p.MaxAge <= 0 {
		return validationErrorf("policy %q max age must be positive, got %s", p.Name, p.MaxAge)
	}
	return nil
}
