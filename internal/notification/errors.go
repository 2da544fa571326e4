package notification

import "errors"

// ErrSignatureMismatch means a legacy notification failed its hash check.
var ErrSignatureMismatch = errors.New("notification: signature mismatch")

// ValidationError rejects an empty, malformed or incomplete notification.
// Nothing is changed when it is returned.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "notification: " + e.Reason
}

func invalid(reason string) error {
	return &ValidationError{Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
