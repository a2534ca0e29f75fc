// file: internal/backend/response.go
package backend

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Kind tags a ConnectResponse variant.
type Kind int

// Connect response kinds, in decoding precedence order.
const (
	KindQRCode Kind = iota + 1
	KindPhoneInputRequired
	KindSMSRequired
	KindAuthorizationURL
	KindManualSetupRequired
	KindConnected
)

func (k Kind) String() string {
	switch k {
	case KindQRCode:
		return "qr_code"
	case KindPhoneInputRequired:
		return "requires_phone_input"
	case KindSMSRequired:
		return "requires_sms"
	case KindAuthorizationURL:
		return "authorization_url"
	case KindManualSetupRequired:
		return "requires_manual_setup"
	case KindConnected:
		return "connected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ConnectResponse is the decoded answer of the account-connect endpoint.
// The set of implementations is closed; switch on the concrete type.
type ConnectResponse interface {
	Kind() Kind
	sealed()
}

// QRCode carries a code to render for the user to scan.
type QRCode struct {
	Code      string
	AccountID string
}

// PhoneInputRequired asks for the phone number of the account to link.
type PhoneInputRequired struct {
	AccountID string
}

// SMSRequired means a code was already sent to PhoneNumber.
type SMSRequired struct {
	AccountID   string
	PhoneNumber string
}

// AuthorizationURL is the hosted consent page to open in a popup.
type AuthorizationURL struct {
	URL string
}

// ManualSetupRequired explains why the provider cannot be linked automatically.
type ManualSetupRequired struct {
	Message string
}

// Connected means the account was linked without further action.
type Connected struct {
	Message   string
	AccountID string
}

func (QRCode) Kind() Kind              { return KindQRCode }
func (PhoneInputRequired) Kind() Kind  { return KindPhoneInputRequired }
func (SMSRequired) Kind() Kind         { return KindSMSRequired }
func (AuthorizationURL) Kind() Kind    { return KindAuthorizationURL }
func (ManualSetupRequired) Kind() Kind { return KindManualSetupRequired }
func (Connected) Kind() Kind           { return KindConnected }

func (QRCode) sealed()              {}
func (PhoneInputRequired) sealed()  {}
func (SMSRequired) sealed()         {}
func (AuthorizationURL) sealed()    {}
func (ManualSetupRequired) sealed() {}
func (Connected) sealed()           {}

// APIError is a failure reported by the backend, either through a non-2xx
// status or a {"success": false, "error": ...} body.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend error (status %d): %s", e.StatusCode, e.Message)
	}
	return "backend error: " + e.Message
}

type rawConnectResponse struct {
	Success             *bool  `json:"success"`
	Error               string `json:"error"`
	Message             string `json:"message"`
	QRCode              string `json:"qr_code"`
	RequiresPhoneInput  bool   `json:"requires_phone_input"`
	RequiresSMS         bool   `json:"requires_sms"`
	PhoneNumber         string `json:"phone_number"`
	AccountID           string `json:"account_id"`
	AuthorizationURL    string `json:"authorization_url"`
	RequiresManualSetup bool   `json:"requires_manual_setup"`
}

// DecodeConnectResponse decodes a 2xx connect body. Field precedence is
// qr_code, requires_phone_input, requires_sms, authorization_url,
// requires_manual_setup; anything else is success unless the body reports
// an error.
func DecodeConnectResponse(data []byte) (ConnectResponse, error) {
	var raw rawConnectResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decode connect response")
	}

	switch {
	case raw.QRCode != "":
		return QRCode{Code: raw.QRCode, AccountID: raw.AccountID}, nil
	case raw.RequiresPhoneInput:
		return PhoneInputRequired{AccountID: raw.AccountID}, nil
	case raw.RequiresSMS:
		return SMSRequired{AccountID: raw.AccountID, PhoneNumber: raw.PhoneNumber}, nil
	case raw.AuthorizationURL != "":
		return AuthorizationURL{URL: raw.AuthorizationURL}, nil
	case raw.RequiresManualSetup:
		msg := raw.Error
		if msg == "" {
			msg = raw.Message
		}
		return ManualSetupRequired{Message: msg}, nil
	}

	if (raw.Success != nil && !*raw.Success) || raw.Error != "" {
		msg := raw.Error
		if msg == "" {
			msg = "request was not successful"
		}
		return nil, &APIError{Message: msg}
	}
	return Connected{Message: raw.Message, AccountID: raw.AccountID}, nil
}

type actionResponse struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

// decodeActionResponse checks a 2xx SMS endpoint body for a reported failure.
func decodeActionResponse(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var resp actionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return errors.Wrap(err, "decode action response")
	}
	if (resp.Success != nil && !*resp.Success) || resp.Error != "" {
		msg := resp.Error
		if msg == "" {
			msg = "request was not successful"
		}
		return &APIError{Message: msg}
	}
	return nil
}

// errorMessage extracts a message from a non-2xx body.
func errorMessage(data []byte, status string) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		for _, m := range []string{body.Error, body.Message, body.Msg} {
			if m != "" {
				return m
			}
		}
	}
	if len(data) > 0 && len(data) <= 512 {
		return string(data)
	}
	return status
}
