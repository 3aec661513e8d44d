package session

import (
	"errors"
	"fmt"
)

var (
	// ErrIssuance matches every *IssuanceError.
	ErrIssuance = errors.New("credential issuance failed")
	// ErrCorruptRecord indicates the persisted session record could not be decoded.
	ErrCorruptRecord = errors.New("corrupt session record")
	// ErrValidation indicates an invalid identity, alias or policy.
	ErrValidation = errors.New("validation failed")

	errEmptyCredential = errors.New("issuer returned an empty credential")
)

// IssuanceError wraps the issuer's failure verbatim. The stored session is
// never modified when one is returned.
type IssuanceError struct {
	Cause error
}

func (e *IssuanceError) Error() string {
	if e.Cause == nil {
		return ErrIssuance.Error()
	}
	return ErrIssuance.Error() + ": " + e.Cause.Error()
}

func (e *IssuanceError) Is(target error) bool {
	return target == ErrIssuance
}

func (e *IssuanceError) Unwrap() error {
	return e.Cause
}

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
