// Package popuptest provides in-memory popup.Window and popup.Opener fakes.
// file: internal/popup/popuptest/fake.go
package popuptest

import (
	"context"
	"sync"

	"github.com/dkoosis/norbert/internal/popup"
)

// Window is a scriptable popup.Window.
type Window struct {
	mu         sync.Mutex
	closed     bool
	closedErrs []error
	closeErr   error
	closeCalls int
	focusCalls int
	onError    func(error)
}

// NewWindow returns an open fake window.
func NewWindow() *Window {
	return &Window{}
}

// Closed pops a queued error if any, otherwise reports the closed flag.
func (w *Window) Closed() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.closedErrs) > 0 {
		err := w.closedErrs[0]
		w.closedErrs = w.closedErrs[1:]
		return false, err
	}
	return w.closed, nil
}

// Close records the call and marks the window closed unless a close error is set.
func (w *Window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeCalls++
	if w.closeErr != nil {
		return w.closeErr
	}
	w.closed = true
	return nil
}

// Focus records the call.
func (w *Window) Focus() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.focusCalls++
	return nil
}

// OnError stores the navigation error handler.
func (w *Window) OnError(handler func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onError = handler
}

// UserClose simulates the user closing the window.
func (w *Window) UserClose() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

// FailClosedChecks queues errors returned by the next Closed calls.
func (w *Window) FailClosedChecks(errs ...error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closedErrs = append(w.closedErrs, errs...)
}

// SetCloseError makes Close fail with err.
func (w *Window) SetCloseError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeErr = err
}

// FailNavigation invokes the registered error handler.
func (w *Window) FailNavigation(err error) {
	w.mu.Lock()
	h := w.onError
	w.mu.Unlock()
	if h != nil {
		h(err)
	}
}

// IsClosed reports the closed flag without consuming queued errors.
func (w *Window) IsClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// CloseCalls returns how many times Close was called.
func (w *Window) CloseCalls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeCalls
}

// FocusCalls returns how many times Focus was called.
func (w *Window) FocusCalls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.focusCalls
}

// OpenCall records one Open invocation.
type OpenCall struct {
	URL      string
	Name     string
	Features string
}

// Opener hands out fake windows. When Blocked is set it returns no window.
type Opener struct {
	mu      sync.Mutex
	blocked bool
	err     error
	hold    *hold
	calls   []OpenCall
	windows []*Window
}

type hold struct {
	entered chan struct{}
	gate    chan struct{}
}

// NewOpener returns an opener that opens fresh fake windows.
func NewOpener() *Opener {
	return &Opener{}
}

// Open implements popup.Opener.
func (o *Opener) Open(_ context.Context, url, name, features string) (popup.Window, error) {
	o.mu.Lock()
	h := o.hold
	o.hold = nil
	o.mu.Unlock()
	if h != nil {
		close(h.entered)
		<-h.gate
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, OpenCall{URL: url, Name: name, Features: features})
	if o.err != nil {
		return nil, o.err
	}
	if o.blocked {
		return nil, nil
	}
	w := NewWindow()
	o.windows = append(o.windows, w)
	return w, nil
}

// Hold makes the next Open wait until release is called. entered is closed
// once that Open is waiting.
func (o *Opener) Hold() (entered <-chan struct{}, release func()) {
	h := &hold{entered: make(chan struct{}), gate: make(chan struct{})}
	o.mu.Lock()
	o.hold = h
	o.mu.Unlock()
	var once sync.Once
	return h.entered, func() { once.Do(func() { close(h.gate) }) }
}

// SetBlocked makes subsequent opens return no window.
func (o *Opener) SetBlocked(blocked bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blocked = blocked
}

// SetError makes subsequent opens fail with err.
func (o *Opener) SetError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

// Calls returns a copy of the recorded Open calls.
func (o *Opener) Calls() []OpenCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]OpenCall(nil), o.calls...)
}

// Windows returns the windows opened so far.
func (o *Opener) Windows() []*Window {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Window(nil), o.windows...)
}

// Last returns the most recently opened window, or nil.
func (o *Opener) Last() *Window {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.windows) == 0 {
		return nil
	}
	return o.windows[len(o.windows)-1]
}
