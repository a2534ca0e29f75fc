package norberterror

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassGeneric},
		{"missing credentials", errors.New("Invalid or missing credentials"), ClassCredentials},
		{"api key", errors.New("Unipile API key rejected"), ClassCredentials},
		{"unauthorized status", errors.New("status 401: Unauthorized"), ClassCredentials},
		{"server configuration", errors.New("Server configuration error: UNIPILE_DSN"), ClassServerConfig},
		{"not configured", errors.New("hosted auth not configured"), ClassServerConfig},
		{"generic", errors.New("connection reset by peer"), ClassGeneric},
		{"credential wins", errors.New("configuration error: missing credentials"), ClassCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestNewConnectError_CarriesClassAndHint(t *testing.T) {
	err := NewConnectError("gmail", errors.New("server configuration error"))

	assert.Equal(t, CategoryConnect, GetCategory(err))
	assert.Equal(t, ClassServerConfig, GetClass(err))
	assert.Equal(t, UserMessage(ClassServerConfig), UserFacingMessage(err))
	assert.Contains(t, err.Error(), "connect gmail")
}

func TestNewSMSError_MatchesSentinel(t *testing.T) {
	err := NewSMSError("verify", errors.New("bad code"))
	require.True(t, errors.Is(err, ErrSMSRejected))
	assert.Equal(t, CategorySMS, GetCategory(err))
}

func TestNewPopupBlockedError(t *testing.T) {
	err := NewPopupBlockedError("outlook")
	assert.True(t, IsPopupBlocked(err))
	assert.Equal(t, PopupBlockedMessage, UserFacingMessage(err))
	assert.Equal(t, CategoryPopup, GetCategory(err))
}

func TestNewPopupError_KeepsCauseHints(t *testing.T) {
	hinted := errors.WithHint(errors.New("exec: chrome not found"), "Install Chrome or set browser.chrome_path.")

	err := NewPopupError("gmail", hinted)

	assert.True(t, errors.Is(err, ErrPopupFailed))
	assert.False(t, IsPopupBlocked(err))
	assert.Equal(t, "Install Chrome or set browser.chrome_path.", UserFacingMessage(err))
	assert.Equal(t, CategoryPopup, GetCategory(err))
	assert.Contains(t, err.Error(), "chrome not found")
}

func TestNewPopupError_DefaultHint(t *testing.T) {
	err := NewPopupError("outlook", errors.New("net::ERR_NAME_NOT_RESOLVED"))
	assert.True(t, errors.Is(err, ErrPopupFailed))
	assert.Equal(t, PopupFailedMessage, UserFacingMessage(err))
}

func TestUserFacingMessage_FallsBackToClass(t *testing.T) {
	assert.Equal(t, UserMessage(ClassGeneric), UserFacingMessage(errors.New("boom")))
	assert.Equal(t, "", UserFacingMessage(nil))
}
