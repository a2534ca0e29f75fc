// file: cmd/norbert/observer.go
package main

import (
	"fmt"
	"io"
	"sync"
	"text/tabwriter"

	"github.com/dkoosis/norbert/internal/backend"
	"github.com/dkoosis/norbert/internal/connect"
	"github.com/dkoosis/norbert/internal/fsm"
	"github.com/dkoosis/norbert/internal/logging"
)

// terminalObserver prints notices and hands phase changes and refreshed
// channels to the interactive loop.
type terminalObserver struct {
	out    io.Writer
	logger logging.Logger

	phases   chan fsm.State
	channels chan []backend.Channel

	mu      sync.Mutex
	lastErr error
}

var _ connect.Observer = (*terminalObserver)(nil)

func newTerminalObserver(out io.Writer, logger logging.Logger) *terminalObserver {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	return &terminalObserver{
		out:      out,
		logger:   logger,
		phases:   make(chan fsm.State, 32),
		channels: make(chan []backend.Channel, 1),
	}
}

func (t *terminalObserver) PhaseChanged(attemptID string, phase fsm.State) {
	t.logger.Debug("Phase changed.", "attempt_id", attemptID, "phase", phase)
	select {
	case t.phases <- phase:
	default:
		t.logger.Warn("Phase update dropped, interactive loop is behind.", "phase", phase)
	}
}

func (t *terminalObserver) Notice(n connect.Notice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n.Err != nil {
		t.lastErr = n.Err
	}
	fmt.Fprintf(t.out, "[%s] %s\n", n.Kind, n.Message)
}

func (t *terminalObserver) ChannelsRefreshed(channels []backend.Channel) {
	select {
	case t.channels <- channels:
	default:
		// Keep the most recent list.
		select {
		case <-t.channels:
		default:
		}
		t.channels <- channels
	}
}

// takeError returns and clears the error of the last failed notice.
func (t *terminalObserver) takeError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.lastErr
	t.lastErr = nil
	return err
}

// printChannels renders channels as an aligned table.
func printChannels(out io.Writer, channels []backend.Channel) {
	if len(channels) == 0 {
		fmt.Fprintln(out, "No linked channels.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRIORITY\tTYPE\tSTATUS\tACCOUNT\tID")
	for _, c := range channels {
		priority := "-"
		if c.Priority != nil {
			priority = fmt.Sprint(*c.Priority)
		}
		account := "-"
		if c.ExternalAccountID != nil && *c.ExternalAccountID != "" {
			account = *c.ExternalAccountID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", priority, c.ChannelType, c.Status, account, c.ID)
	}
	_ = w.Flush()
}
