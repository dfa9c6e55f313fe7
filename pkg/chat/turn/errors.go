package turn

import (
	"errors"
	"fmt"
	"strings"
)

// The error taxonomy of a turn. Validation, authorization, not-found, and
// capacity errors are detected before any stream framing begins and surface
// as ordinary structured responses; everything after framing starts becomes
// a single terminal error event.

// ValidationError rejects a malformed request. The user must resubmit.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// AuthorizationError rejects a caller who does not own the resource or is
// not entitled to a gated feature.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string { return e.Message }

// NotFoundError reports an absent conversation or message.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// CapacityError reports an exhausted anonymous rate limit.
type CapacityError struct {
	Message string
}

func (e *CapacityError) Error() string { return e.Message }

// UpstreamError wraps a model or tool provider failure.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return fmt.Sprintf("upstream: %v", e.Err) }
func (e *UpstreamError) Unwrap() error { return e.Err }

// PersistenceError wraps a storage failure. Fatal to the turn once past the
// user-message write, since partial state must not be silently lost.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence: %v", e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// userSafeMessage renders an error for the client. Image-processing failures
// on the upstream stream are normalized; everything else, including provider
// outages on turns that happen to carry an image, passes through verbatim.
func userSafeMessage(err error, hadImage bool) string {
	var up *UpstreamError
	if errors.As(err, &up) && hadImage && mentionsImage(up.Err) {
		return "The image could not be processed. Please try again with a different image."
	}
	return err.Error()
}

func mentionsImage(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "image")
}
