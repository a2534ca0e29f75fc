// file: internal/norberterror/classify.go
package norberterror

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Class is the user-facing classification of a connect-call failure.
type Class string

// Classes of connect failures.
const (
	ClassCredentials  Class = "credentials"
	ClassServerConfig Class = "server_configuration"
	ClassGeneric      Class = "generic"
)

// Substrings are matched case-insensitively against the full error text.
var (
	credentialMarkers = []string{
		"credentials",
		"api key",
		"apikey",
		"unauthorized",
		"invalid token",
		"jwt",
	}
	serverConfigMarkers = []string{
		"server configuration",
		"configuration error",
		"not configured",
		"missing environment",
		"internal server error",
	}
)

// Classify maps an error to a Class by substring match on its message.
// Credential markers win over server-configuration markers.
func Classify(err error) Class {
	if err == nil {
		return ClassGeneric
	}
	msg := strings.ToLower(err.Error())
	for _, m := range credentialMarkers {
		if strings.Contains(msg, m) {
			return ClassCredentials
		}
	}
	for _, m := range serverConfigMarkers {
		if strings.Contains(msg, m) {
			return ClassServerConfig
		}
	}
	return ClassGeneric
}

// UserMessage returns the message shown for a class.
func UserMessage(c Class) string {
	switch c {
	case ClassCredentials:
		return "The account service rejected our credentials. Check the API key and sign in again."
	case ClassServerConfig:
		return "The account service is misconfigured. Contact support."
	default:
		return "Could not start the connection. Try again."
	}
}

// PopupBlockedMessage is shown when the opener returns no window.
const PopupBlockedMessage = "The connection window was blocked. Allow popups and try again."

// PopupFailedMessage is shown when the connection window could not load.
const PopupFailedMessage = "The connection window could not be loaded. Try again."

// GetCategory returns the category of the first *Error in the chain, or "".
func GetCategory(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}

// GetClass returns the class recorded on err, classifying it on the fly
// when the chain holds no *Error.
func GetClass(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return Classify(err)
}

// UserFacingMessage returns the hints attached to err, falling back to the
// message of its class.
func UserFacingMessage(err error) string {
	if err == nil {
		return ""
	}
	if hints := errors.FlattenHints(err); hints != "" {
		return hints
	}
	return UserMessage(GetClass(err))
}

// IsPopupBlocked reports whether err is or wraps ErrPopupBlocked.
func IsPopupBlocked(err error) bool {
	return errors.Is(err, ErrPopupBlocked)
}
