// file: internal/callback/handler_test.go
package callback

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	mu   sync.Mutex
	seen []string
}

func (o *countingObserver) CallbackReceived(connection string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, connection)
}

func TestParseResult(t *testing.T) {
	tests := []struct {
		query      string
		connection string
		provider   string
	}{
		{"connection=success&provider=gmail", ConnectionSuccess, "gmail"},
		{"connection=failed&provider=outlook", ConnectionFailed, "outlook"},
		{"connection=maybe&provider=outlook", ConnectionFailed, "outlook"},
		{"provider=instagram", ConnectionFailed, "instagram"},
		{"", ConnectionFailed, ""},
	}
	for _, tc := range tests {
		q, err := url.ParseQuery(tc.query)
		require.NoError(t, err)
		connection, provider := ParseResult(q)
		assert.Equal(t, tc.connection, connection, tc.query)
		assert.Equal(t, tc.provider, provider, tc.query)
	}
}

func TestHandler_PublishesAndRendersPage(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	broker := NewBroker(1, nil)
	events, cancel := broker.Subscribe()
	defer cancel()
	obs := &countingObserver{}

	h := NewHandler(HandlerOptions{Now: func() time.Time { return fixed }}, broker, obs, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/oauth/callback?connection=success&provider=gmail", nil)
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	body := rec.Body.String()
	assert.Contains(t, body, `"oauth-callback"`)
	assert.Contains(t, body, "window.opener.postMessage")
	assert.Contains(t, body, "window.close()")
	assert.Contains(t, body, "1000")
	assert.Contains(t, body, "Your gmail account is connected.")

	select {
	case e := <-events:
		assert.Equal(t, Event{Connection: ConnectionSuccess, Provider: "gmail", Success: true, ReceivedAt: fixed}, e)
	default:
		t.Fatal("event was not published")
	}
	assert.Equal(t, []string{ConnectionSuccess}, obs.seen)
}

func TestHandler_InvalidConnectionIsFailed(t *testing.T) {
	broker := NewBroker(1, nil)
	events, cancel := broker.Subscribe()
	defer cancel()

	h := NewHandler(HandlerOptions{CloseDelay: 250 * time.Millisecond}, broker, nil, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/callback?connection=bogus&provider=outlook", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "did not complete")
	assert.Contains(t, body, "250")

	e := <-events
	assert.Equal(t, ConnectionFailed, e.Connection)
	assert.False(t, e.Success)
}

func TestHandler_RedirectTargetCarriesResult(t *testing.T) {
	h := NewHandler(HandlerOptions{RedirectPath: "/channels"}, nil, nil, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/callback?connection=success&provider=outlook", nil))

	// html/template escapes the URL as a JS string literal, so only the
	// unescaped fragments are compared.
	body := rec.Body.String()
	assert.Contains(t, body, "window.location.replace(")
	assert.Contains(t, body, "channels?connection=success")
	assert.Contains(t, body, "provider=outlook")
}

func TestHandler_RejectsNonGet(t *testing.T) {
	obs := &countingObserver{}
	h := NewHandler(HandlerOptions{}, nil, obs, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/oauth/callback?connection=success", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
	assert.Empty(t, obs.seen)
}
