// file: internal/browser/window.go
package browser

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/dkoosis/norbert/internal/logging"
	"github.com/dkoosis/norbert/internal/popup"
)

// window is one Chrome page target.
type window struct {
	ctx      context.Context
	cancel   context.CancelFunc
	name     string
	targetID target.ID
	logger   logging.Logger

	mu      sync.Mutex
	closed  bool
	failed  bool
	onError func(error)
	// pending holds a failure seen before OnError was called.
	pending error
}

var _ popup.Window = (*window)(nil)

func newWindow(ctx context.Context, cancel context.CancelFunc, name string, logger logging.Logger) *window {
	return &window{
		ctx:    ctx,
		cancel: cancel,
		name:   name,
		logger: logger.WithField("window", name),
	}
}

// Closed reports whether the user closed the window or its target went away.
func (w *window) Closed() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed || w.ctx.Err() != nil, nil
}

// Close closes the page target.
func (w *window) Close() error {
	w.markClosed()
	w.cancel()
	return nil
}

// Focus brings the page to the front.
func (w *window) Focus() error {
	if closed, _ := w.Closed(); closed {
		return nil
	}
	return chromedp.Run(w.ctx, page.BringToFront())
}

// OnError registers the handler for load failures. A failure that happened
// before registration is delivered to handler on its own goroutine, since
// callers may hold locks the handler needs.
func (w *window) OnError(handler func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onError = handler
	if handler != nil && w.pending != nil {
		err := w.pending
		w.pending = nil
		go handler(err)
	}
}

// fail reports a load failure once.
func (w *window) fail(err error) {
	w.mu.Lock()
	if w.failed {
		w.mu.Unlock()
		return
	}
	w.failed = true
	h := w.onError
	if h == nil {
		w.pending = err
	}
	w.mu.Unlock()

	w.logger.Warn("Popup page failed to load.", "error", err)
	if h != nil {
		h(err)
	}
}

func (w *window) markClosed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

// handleTargetEvent runs on the chromedp event loop and must not block.
func (w *window) handleTargetEvent(ev any) {
	switch ev.(type) {
	case *inspector.EventDetached, *inspector.EventTargetCrashed:
		w.logger.Debug("Popup target detached.")
		w.markClosed()
	}
}

// handleBrowserEvent runs on the chromedp event loop and must not block.
func (w *window) handleBrowserEvent(ev any) {
	if isTargetGone(ev, w.targetID) {
		w.logger.Debug("Popup target destroyed.")
		w.markClosed()
	}
}
