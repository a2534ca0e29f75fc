// Package popup manages the lifecycle of the secondary window used to
// complete a third-party authorization: centered geometry, a polling monitor
// that detects closure or forces a timeout, and a manager that owns the
// single tracked window.
// file: internal/popup/window.go
package popup

import "context"

// Window is a handle to an opened popup. Implementations cannot inspect the
// popup's cross-origin document; Closed is the only observation available.
type Window interface {
	// Closed reports whether the window has been closed. It may fail
	// transiently, e.g. while the window navigates.
	Closed() (bool, error)
	// Close closes the window. Closing an already-closed window may error.
	Close() error
	// Focus brings the window to the foreground.
	Focus() error
	// OnError registers a handler invoked when the window's own navigation fails.
	OnError(handler func(error))
}

// Opener is the platform window-open primitive. A nil Window with a nil
// error means the platform refused to open it (blocked).
type Opener interface {
	Open(ctx context.Context, url, name, features string) (Window, error)
}

// Screen is the available screen area used to center popups.
type Screen struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}
