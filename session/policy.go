package session

import "time"

// Policy is a validity window: a stored credential is usable while its age
// is strictly below MaxAge.
type Policy struct {
	Name   string        `json:"name"`
	MaxAge time.Duration `json:"maxAge"`
}

var (
	// PrimaryPolicy governs the long-lived user session.
	PrimaryPolicy = Policy{Name: "primary", MaxAge: 24 * time.Hour}
	// ServicePolicy governs the short-lived service credential.
	ServicePolicy = Policy{Name: "service", MaxAge: 55 * time.Minute}
)

// Valid reports whether a credential of the given age may be reused.
// A negative age (issued in the future by a skewed clock) counts as valid.
func (p Policy) Valid(age time.Duration) bool {
	return age < p.MaxAge
}

// Namespace is the storage namespace holding this policy's session record.
func (p Policy) Namespace() string {
	return "session." + p.Name
}

// KeyAlias is the default key alias for this policy's credentials.
func (p Policy) KeyAlias() string {
	return "session-key." + p.Name
}
