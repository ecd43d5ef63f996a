package telemetry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound means no sample has been stored yet for a device class.
	ErrNotFound = errors.New("no sample stored for device class")
	// ErrUpstreamUnreachable means an outbound relay command failed or timed out.
	ErrUpstreamUnreachable = errors.New("device unreachable")
	// ErrInvalidTarget means a relay command named an unknown target.
	ErrInvalidTarget = errors.New("invalid relay target")
)

// ValidationError reports input fields that could not be coerced to their
// declared types.
type ValidationError struct {
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid payload: " + e.Reason
	}
	msg := fmt.Sprintf("invalid value for field(s): %s", strings.Join(e.Fields, ", "))
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// IsValidation reports whether err is, or wraps, a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
