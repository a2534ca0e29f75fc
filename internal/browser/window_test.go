// file: internal/browser/window_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/target"
	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/config"
	"github.com/dkoosis/norbert/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWindow() *window {
	ctx, cancel := context.WithCancel(context.Background())
	w := newWindow(ctx, cancel, "oauth-gmail-1", logging.GetNoopLogger())
	w.targetID = target.ID("T1")
	return w
}

func TestWindow_CloseMarksClosed(t *testing.T) {
	w := newTestWindow()
	closed, err := w.Closed()
	require.NoError(t, err)
	assert.False(t, closed)

	require.NoError(t, w.Close())
	closed, _ = w.Closed()
	assert.True(t, closed)
	require.NoError(t, w.Close(), "closing twice is fine")
	require.NoError(t, w.Focus(), "focusing a closed window is a no-op")
}

func TestWindow_DetachedTargetIsClosed(t *testing.T) {
	w := newTestWindow()
	w.handleTargetEvent(&inspector.EventDetached{Reason: "target_closed"})
	closed, _ := w.Closed()
	assert.True(t, closed)
}

func TestWindow_BrowserEventsMatchTarget(t *testing.T) {
	w := newTestWindow()
	w.handleBrowserEvent(&target.EventTargetDestroyed{TargetID: "other"})
	closed, _ := w.Closed()
	assert.False(t, closed)

	w.handleBrowserEvent(&target.EventTargetDestroyed{TargetID: "T1"})
	closed, _ = w.Closed()
	assert.True(t, closed)
}

func TestWindow_FailCallsHandlerOnce(t *testing.T) {
	w := newTestWindow()
	var got []error
	w.OnError(func(err error) { got = append(got, err) })

	w.fail(errors.New("net::ERR_NAME_NOT_RESOLVED"))
	w.fail(errors.New("again"))

	require.Len(t, got, 1)
	assert.Contains(t, got[0].Error(), "ERR_NAME_NOT_RESOLVED")
}

func TestWindow_FailBeforeHandlerIsReplayed(t *testing.T) {
	w := newTestWindow()
	w.fail(errors.New("net::ERR_CONNECTION_REFUSED"))
	w.fail(errors.New("again"))

	got := make(chan error, 2)
	w.OnError(func(err error) { got <- err })

	select {
	case err := <-got:
		assert.Contains(t, err.Error(), "ERR_CONNECTION_REFUSED")
	case <-time.After(time.Second):
		t.Fatal("early failure was not replayed")
	}

	w.OnError(func(err error) { got <- err })
	assert.Never(t, func() bool { return len(got) > 0 }, 50*time.Millisecond, time.Millisecond, "replayed once")
}

func TestAllocatorOptions(t *testing.T) {
	base := len(AllocatorOptions(config.BrowserConfig{}))
	full := AllocatorOptions(config.BrowserConfig{ChromePath: "/usr/bin/chromium", UserDataDir: "/tmp/profile", Headless: true})
	assert.Equal(t, base+2, len(full))
}

func TestOpener_CloseWithoutBrowser(t *testing.T) {
	o := NewOpener(config.BrowserConfig{}, nil)
	assert.NoError(t, o.Close())
}

func TestOpener_RejectsBadFeatures(t *testing.T) {
	o := NewOpener(config.BrowserConfig{}, nil)
	_, err := o.Open(context.Background(), "https://auth.example", "oauth-x-1", "width=abc")
	assert.Error(t, err)
}
