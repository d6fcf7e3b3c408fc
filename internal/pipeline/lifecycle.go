package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/statekit"
)

// Phase is a recorder lifecycle state.
type Phase string

// Recorder lifecycle phases, in the order a healthy run passes through
// them. Connecting self-loops on retry; AwaitingHostStart can jump straight
// to Terminated when shutdown races ahead of host startup.
const (
	PhaseConnecting        Phase = "connecting"
	PhaseRecoveringRuns    Phase = "recovering_runs"
	PhaseAwaitingHostStart Phase = "awaiting_host_start"
	PhaseConsuming         Phase = "consuming"
	PhaseDraining          Phase = "draining"
	PhaseClosingRun        Phase = "closing_run"
	PhaseClosingConnection Phase = "closing_connection"
	PhaseTerminated        Phase = "terminated"
	PhaseFailedFatally     Phase = "failed"
)

// eventType aliases statekit's event type so the rest of the package does
// not import statekit directly.
type eventType = statekit.EventType

// Lifecycle events.
const (
	evConnected statekit.EventType = "CONNECTED"
	evRecovered statekit.EventType = "RECOVERED"
	evStarted   statekit.EventType = "STARTED"
	evStop      statekit.EventType = "STOP"
	evDrained   statekit.EventType = "DRAINED"
	evRunClosed statekit.EventType = "RUN_CLOSED"
	evClosed    statekit.EventType = "CLOSED"
	evFail      statekit.EventType = "FAIL"
)

type lifecycleContext struct{}

// lifecycle wraps a statekit interpreter tracking the worker's phase.
//
// All Send calls happen on the worker goroutine; the machine exists to make
// the phase observable (tests, CLI status) and to make illegal transitions
// loud during development rather than silently skipped.
type lifecycle struct {
	interp *statekit.Interpreter[*lifecycleContext]
}

func newLifecycle() (*lifecycle, error) {
	machine, err := statekit.NewMachine[*lifecycleContext]("recorder").
		WithInitial(statekit.StateID(PhaseConnecting)).
		WithContext(&lifecycleContext{}).
		WithAction("logEntry", logPhaseEntry).
		State(statekit.StateID(PhaseConnecting)).
		OnEntry("logEntry").
		On(evConnected).Target(statekit.StateID(PhaseRecoveringRuns)).
		On(evFail).Target(statekit.StateID(PhaseFailedFatally)).
		Done().
		State(statekit.StateID(PhaseRecoveringRuns)).
		OnEntry("logEntry").
		On(evRecovered).Target(statekit.StateID(PhaseAwaitingHostStart)).
		On(evFail).Target(statekit.StateID(PhaseFailedFatally)).
		Done().
		State(statekit.StateID(PhaseAwaitingHostStart)).
		OnEntry("logEntry").
		On(evStarted).Target(statekit.StateID(PhaseConsuming)).
		On(evStop).Target(statekit.StateID(PhaseTerminated)).
		Done().
		State(statekit.StateID(PhaseConsuming)).
		OnEntry("logEntry").
		On(evStop).Target(statekit.StateID(PhaseDraining)).
		On(evFail).Target(statekit.StateID(PhaseFailedFatally)).
		Done().
		State(statekit.StateID(PhaseDraining)).
		OnEntry("logEntry").
		On(evDrained).Target(statekit.StateID(PhaseClosingRun)).
		On(evFail).Target(statekit.StateID(PhaseFailedFatally)).
		Done().
		State(statekit.StateID(PhaseClosingRun)).
		OnEntry("logEntry").
		On(evRunClosed).Target(statekit.StateID(PhaseClosingConnection)).
		On(evFail).Target(statekit.StateID(PhaseFailedFatally)).
		Done().
		State(statekit.StateID(PhaseClosingConnection)).
		OnEntry("logEntry").
		On(evClosed).Target(statekit.StateID(PhaseTerminated)).
		On(evFail).Target(statekit.StateID(PhaseFailedFatally)).
		Done().
		State(statekit.StateID(PhaseTerminated)).
		Final().
		OnEntry("logEntry").
		Done().
		State(statekit.StateID(PhaseFailedFatally)).
		Final().
		OnEntry("logEntry").
		Done().
		Build()
	if err != nil {
		return nil, fmt.Errorf("build lifecycle machine: %w", err)
	}

	interp := statekit.NewInterpreter(machine)
	interp.Start()
	return &lifecycle{interp: interp}, nil
}

// send advances the machine.
func (l *lifecycle) send(ev eventType) {
	l.interp.Send(statekit.Event{Type: ev})
}

// phase returns the current lifecycle phase.
func (l *lifecycle) phase() Phase {
	return Phase(l.interp.State().Value)
}

// stop halts the interpreter once the worker has terminated.
func (l *lifecycle) stop() {
	l.interp.Stop()
}

func logPhaseEntry(_ **lifecycleContext, ev statekit.Event) {
	slog.Debug("recorder phase transition", "event", string(ev.Type))
}
