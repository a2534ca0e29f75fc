// Package fsm puts typed states and events over looplab/fsm. Transitions are
// declared first and compiled by Build, which rejects ambiguous definitions.
// file: internal/fsm/fsm.go
package fsm

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/logging"
	lfsm "github.com/looplab/fsm"
)

// State represents a state in the FSM.
type State string

// Event represents an event that can trigger a state transition.
type Event string

// Transition declares that Event moves the machine from any of From to To.
type Transition struct {
	From  []State
	To    State
	Event Event
}

// ChangeFunc observes an applied transition. from equals to for a self
// transition.
type ChangeFunc func(ctx context.Context, from, to State, event Event)

var (
	// ErrNotBuilt is returned by operations that need Build to have succeeded.
	ErrNotBuilt = errors.New("fsm not built")

	// ErrRejected marks a transition that is not defined for the current state.
	ErrRejected = errors.New("fsm transition rejected")
)

// FSM is a state machine assembled with AddTransition and finalized with Build.
type FSM interface {
	// AddTransition stores a transition definition. Call Build() after adding all transitions.
	AddTransition(t Transition) FSM
	// OnChange registers f to run after every applied transition.
	OnChange(f ChangeFunc) FSM
	// Build compiles the definitions. Later AddTransition calls are errors.
	Build() error
	// CurrentState returns the current state, or "" before Build.
	CurrentState() State
	// Transition fires event. A transition whose destination equals the
	// current state is applied, not an error. Cancelling ctx does not abort it.
	Transition(ctx context.Context, event Event) error
	// Diagram renders the machine as a Mermaid state diagram.
	Diagram() (string, error)
}

type machine struct {
	initial State
	logger  logging.Logger

	mu       sync.RWMutex
	defs     []Transition
	onChange []ChangeFunc
	lf       *lfsm.FSM
	buildErr error
}

// NewFSM creates an unbuilt machine that starts in initial.
func NewFSM(initial State, logger logging.Logger) FSM {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	return &machine{
		initial: initial,
		logger:  logger.WithField("component", "fsm"),
	}
}

func (m *machine) AddTransition(t Transition) FSM {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.lf != nil:
		m.failLocked(errors.Newf("fsm: transition %q added after Build", t.Event))
	case t.Event == "":
		m.failLocked(errors.Newf("fsm: transition to %q has no event", t.To))
	case len(t.From) == 0:
		m.failLocked(errors.Newf("fsm: transition %q has no source states", t.Event))
	default:
		m.defs = append(m.defs, t)
	}
	return m
}

func (m *machine) OnChange(f ChangeFunc) FSM {
	if f == nil {
		return m
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, f)
	return m
}

// failLocked keeps the first definition error; Build reports it.
func (m *machine) failLocked(err error) {
	m.logger.Error("Invalid transition definition.", "error", err)
	if m.buildErr == nil {
		m.buildErr = err
	}
}

func (m *machine) Build() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lf != nil || m.buildErr != nil {
		return m.buildErr
	}
	if len(m.defs) == 0 {
		m.logger.Warn("Building state machine with no transitions.")
	}
	events, err := compile(m.defs)
	if err != nil {
		m.failLocked(err)
		return err
	}
	m.lf = lfsm.NewFSM(string(m.initial), events, lfsm.Callbacks{})
	m.logger.Debug("State machine built.", "initial", m.initial, "events", len(events))
	return nil
}

// compile merges definitions by event. Each event has exactly one
// destination; sources keep their first-seen order without duplicates.
func compile(defs []Transition) ([]lfsm.EventDesc, error) {
	index := make(map[Event]int)
	seen := make(map[Event]map[State]struct{})
	var out []lfsm.EventDesc

	for _, d := range defs {
		i, ok := index[d.Event]
		if !ok {
			i = len(out)
			index[d.Event] = i
			seen[d.Event] = make(map[State]struct{})
			out = append(out, lfsm.EventDesc{Name: string(d.Event), Dst: string(d.To)})
		} else if out[i].Dst != string(d.To) {
			return nil, errors.Newf("fsm: event %q leads to both %q and %q", d.Event, out[i].Dst, d.To)
		}
		for _, s := range d.From {
			if _, dup := seen[d.Event][s]; dup {
				continue
			}
			seen[d.Event][s] = struct{}{}
			out[i].Src = append(out[i].Src, string(s))
		}
	}
	return out, nil
}

func (m *machine) built() (*lfsm.FSM, []ChangeFunc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lf == nil {
		if m.buildErr != nil {
			return nil, nil, m.buildErr
		}
		return nil, nil, ErrNotBuilt
	}
	return m.lf, m.onChange, nil
}

func (m *machine) CurrentState() State {
	lf, _, err := m.built()
	if err != nil {
		return ""
	}
	return State(lf.Current())
}

func (m *machine) Transition(ctx context.Context, event Event) error {
	lf, observers, err := m.built()
	if err != nil {
		return err
	}

	// looplab abandons a transition whose context is already cancelled and
	// then refuses every later event, so only values are passed through.
	from := State(lf.Current())
	if err := lf.Event(context.WithoutCancel(ctx), string(event)); err != nil {
		// looplab reports src == dst as NoTransitionError; without a
		// cancellation cause the event was applied.
		var noTransition lfsm.NoTransitionError
		if !errors.As(err, &noTransition) || noTransition.Err != nil {
			m.logger.Debug("Transition rejected.", "event", event, "state", from, "error", err)
			return errors.Mark(errors.Wrapf(err, "fsm: event %q in state %q", event, from), ErrRejected)
		}
	}
	to := State(lf.Current())
	m.logger.Debug("Transition applied.", "event", event, "from", from, "to", to)

	for _, f := range observers {
		f(ctx, from, to, event)
	}
	return nil
}

func (m *machine) Diagram() (string, error) {
	lf, _, err := m.built()
	if err != nil {
		return "", err
	}
	return lfsm.VisualizeForMermaidWithGraphType(lf, lfsm.StateDiagram)
}
