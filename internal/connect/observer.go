// file: internal/connect/observer.go
package connect

import (
	"github.com/dkoosis/norbert/internal/backend"
	"github.com/dkoosis/norbert/internal/fsm"
)

// NoticeKind grades a user notification.
type NoticeKind int

// Notice kinds.
const (
	NoticeInfo NoticeKind = iota
	NoticeWarning
	NoticeError
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeInfo:
		return "info"
	case NoticeWarning:
		return "warning"
	case NoticeError:
		return "error"
	default:
		return "unknown"
	}
}

// Notice is a message for the user about the attempt.
type Notice struct {
	Kind     NoticeKind
	Provider backend.Provider
	Message  string
	Err      error
}

// Observer is told about phase changes, notices and refreshed channels.
// Calls are made without internal locks held and may come from timer
// goroutines.
type Observer interface {
	PhaseChanged(attemptID string, phase fsm.State)
	Notice(n Notice)
	ChannelsRefreshed(channels []backend.Channel)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) PhaseChanged(string, fsm.State)      {}
func (NopObserver) Notice(Notice)                       {}
func (NopObserver) ChannelsRefreshed([]backend.Channel) {}
