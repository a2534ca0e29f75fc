// Package connect drives one provider connection attempt at a time: the
// connect call, the QR, SMS and OAuth popup branches, and the channel
// polling that detects an asynchronously completed link.
// file: internal/connect/phases.go
package connect

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/fsm"
	"github.com/dkoosis/norbert/internal/logging"
	"github.com/dkoosis/norbert/internal/norberterror"
)

// Phases of a connection attempt.
const (
	PhaseIdle                fsm.State = "idle"
	PhaseConnecting          fsm.State = "connecting"
	PhaseAwaitingQR          fsm.State = "awaiting_qr"
	PhaseAwaitingPhoneInput  fsm.State = "awaiting_phone_input"
	PhaseAwaitingSMSCode     fsm.State = "awaiting_sms_code"
	PhaseAwaitingOAuthPopup  fsm.State = "awaiting_oauth_popup"
	PhasePollingChannels     fsm.State = "polling_channels"
	PhaseManualSetupRequired fsm.State = "manual_setup_required"
	PhaseConnected           fsm.State = "connected"
)

var allPhases = []fsm.State{
	PhaseIdle,
	PhaseConnecting,
	PhaseAwaitingQR,
	PhaseAwaitingPhoneInput,
	PhaseAwaitingSMSCode,
	PhaseAwaitingOAuthPopup,
	PhasePollingChannels,
	PhaseManualSetupRequired,
	PhaseConnected,
}

// Events driving the phase machine.
const (
	EventConnect          fsm.Event = "connect"
	EventRegenerateQR     fsm.Event = "regenerate_qr"
	EventQRReceived       fsm.Event = "qr_received"
	EventPhoneRequired    fsm.Event = "phone_required"
	EventSMSRequired      fsm.Event = "sms_required"
	EventCodeSent         fsm.Event = "code_sent"
	EventCodeRejected     fsm.Event = "code_rejected"
	EventAuthorizationURL fsm.Event = "authorization_url"
	EventPopupCompleted   fsm.Event = "popup_completed"
	EventManualSetup      fsm.Event = "manual_setup"
	EventConnected        fsm.Event = "connected"
	EventReset            fsm.Event = "reset"
)

// IsActive reports whether p belongs to an attempt in flight.
func IsActive(p fsm.State) bool {
	switch p {
	case PhaseIdle, PhaseConnected, PhaseManualSetupRequired:
		return false
	default:
		return true
	}
}

// PhaseMachine is the state machine of a single connection attempt.
type PhaseMachine struct {
	fsm.FSM
	logger logging.Logger
}

// NewPhaseMachine builds the attempt state machine starting in PhaseIdle.
func NewPhaseMachine(logger logging.Logger) (*PhaseMachine, error) {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	log := logger.WithField("component", "connect_phases")

	b := fsm.NewFSM(PhaseIdle, log)
	b.OnChange(func(ctx context.Context, from, to fsm.State, e fsm.Event) {
		log.WithContext(ctx).Debug("Phase changed.", "from", from, "to", to, "event", e)
	})

	// Any phase may start over; a running attempt is torn down first.
	b.AddTransition(fsm.Transition{From: allPhases, Event: EventConnect, To: PhaseConnecting})
	b.AddTransition(fsm.Transition{From: []fsm.State{PhaseAwaitingQR}, Event: EventRegenerateQR, To: PhaseConnecting})

	// Connect responses.
	b.AddTransition(fsm.Transition{From: []fsm.State{PhaseConnecting}, Event: EventQRReceived, To: PhaseAwaitingQR})
	b.AddTransition(fsm.Transition{From: []fsm.State{PhaseConnecting}, Event: EventPhoneRequired, To: PhaseAwaitingPhoneInput})
	b.AddTransition(fsm.Transition{From: []fsm.State{PhaseConnecting}, Event: EventSMSRequired, To: PhaseAwaitingSMSCode})
	b.AddTransition(fsm.Transition{From: []fsm.State{PhaseConnecting}, Event: EventAuthorizationURL, To: PhaseAwaitingOAuthPopup})
	b.AddTransition(fsm.Transition{From: []fsm.State{PhaseConnecting}, Event: EventManualSetup, To: PhaseManualSetupRequired})

	// SMS flow.
	b.AddTransition(fsm.Transition{From: []fsm.State{PhaseAwaitingPhoneInput}, Event: EventCodeSent, To: PhaseAwaitingSMSCode})
	b.AddTransition(fsm.Transition{From: []fsm.State{PhaseAwaitingSMSCode}, Event: EventCodeRejected, To: PhaseAwaitingSMSCode})

	// OAuth popup flow.
	b.AddTransition(fsm.Transition{From: []fsm.State{PhaseAwaitingOAuthPopup}, Event: EventPopupCompleted, To: PhasePollingChannels})

	b.AddTransition(fsm.Transition{
		From:  []fsm.State{PhaseConnecting, PhaseAwaitingSMSCode, PhasePollingChannels},
		Event: EventConnected,
		To:    PhaseConnected,
	})
	b.AddTransition(fsm.Transition{From: allPhases, Event: EventReset, To: PhaseIdle})

	if err := b.Build(); err != nil {
		log.Error("Failed to build connect phase machine.", "error", err)
		return nil, errors.Wrap(err, "failed to build connect phase machine")
	}
	return &PhaseMachine{FSM: b, logger: log}, nil
}

// Require returns an error matching ErrInvalidPhase unless the machine is
// in one of phases.
func (m *PhaseMachine) Require(op string, phases ...fsm.State) error {
	current := m.CurrentState()
	for _, p := range phases {
		if p == current {
			return nil
		}
	}
	m.logger.Debug("Operation rejected in current phase.", "operation", op, "phase", current)
	return errors.Mark(
		&norberterror.Error{
			Category: norberterror.CategoryPhase,
			Class:    norberterror.ClassGeneric,
			Err:      errors.Newf("%s not allowed in phase %q", op, current),
		},
		norberterror.ErrInvalidPhase,
	)
}
