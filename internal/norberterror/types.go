// Package norberterror defines the error taxonomy of the connection core:
// sentinel errors, a categorized error type, and the classification of
// connect-call failures into user-facing messages.
// file: internal/norberterror/types.go
package norberterror

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Error categories.
const (
	CategoryPopup   = "popup"
	CategoryConnect = "connect"
	CategorySMS     = "sms"
	CategoryPolling = "polling"
	CategoryConfig  = "config"
	CategoryAuth    = "auth"
	CategoryPhase   = "phase"
)

// Base sentinel errors used throughout the application.
var (
	// ErrPopupBlocked means the opener returned no window.
	ErrPopupBlocked = errors.New("popup blocked")

	// ErrPopupFailed means the popup could not be opened or its page failed to load.
	ErrPopupFailed = errors.New("popup failed")

	// ErrNoActiveAttempt means an operation needed an in-flight attempt.
	ErrNoActiveAttempt = errors.New("no active connection attempt")

	// ErrInvalidPhase means the operation is not valid in the current phase.
	ErrInvalidPhase = errors.New("operation not valid in current phase")

	// ErrSMSRejected means the backend refused the SMS code or dispatch.
	ErrSMSRejected = errors.New("sms verification rejected")

	// ErrNotAuthenticated means no backend session token is available.
	ErrNotAuthenticated = errors.New("not authenticated with backend")

	// ErrAttemptSuperseded means the attempt was torn down while a call was in flight.
	ErrAttemptSuperseded = errors.New("connection attempt superseded")
)

// Error carries the category and classification of a failure.
type Error struct {
	Category string
	Class    Class
	Provider string
	Err      error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s (%s): %v", e.Category, e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// NewConnectError wraps a failure of the initial connect call, records its
// classification and attaches the user-facing message as a hint.
func NewConnectError(provider string, cause error) error {
	class := Classify(cause)
	err := &Error{
		Category: CategoryConnect,
		Class:    class,
		Provider: provider,
		Err:      errors.Wrapf(cause, "connect %s", provider),
	}
	return errors.WithHint(err, UserMessage(class))
}

// NewSMSError wraps a failed SMS send or verify call. The result matches
// ErrSMSRejected under errors.Is.
func NewSMSError(step string, cause error) error {
	err := &Error{
		Category: CategorySMS,
		Class:    ClassGeneric,
		Err:      errors.Wrapf(cause, "sms %s", step),
	}
	return errors.Mark(err, ErrSMSRejected)
}

// NewPopupBlockedError reports that no window could be opened for provider.
func NewPopupBlockedError(provider string) error {
	err := &Error{
		Category: CategoryPopup,
		Class:    ClassGeneric,
		Provider: provider,
		Err:      ErrPopupBlocked,
	}
	return errors.WithHint(err, PopupBlockedMessage)
}

// NewPopupError wraps a popup that failed to open or load. Hints already on
// cause are kept; otherwise PopupFailedMessage is attached. The result
// matches ErrPopupFailed under errors.Is.
func NewPopupError(provider string, cause error) error {
	var err error = &Error{
		Category: CategoryPopup,
		Class:    ClassGeneric,
		Provider: provider,
		Err:      errors.Wrap(cause, "popup"),
	}
	if errors.FlattenHints(cause) == "" {
		err = errors.WithHint(err, PopupFailedMessage)
	}
	return errors.Mark(err, ErrPopupFailed)
}

// NewConfigError reports an invalid configuration value.
func NewConfigError(field, message string) error {
	return &Error{
		Category: CategoryConfig,
		Class:    ClassGeneric,
		Err:      errors.Newf("invalid %s: %s", field, message),
	}
}
