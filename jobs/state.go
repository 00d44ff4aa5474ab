package jobs

import (
	"fmt"

	"rmcore/rpc"
)

// State is a job's position in its lifecycle.
type State int

const (
	StateNew State = iota
	StateDepend
	StatePriority
	StateSched
	StateRun
	StateCleanup
	StateInactive
)

var stateNames = map[State]string{
	StateNew:      "NEW",
	StateDepend:   "DEPEND",
	StatePriority: "PRIORITY",
	StateSched:    "SCHED",
	StateRun:      "RUN",
	StateCleanup:  "CLEANUP",
	StateInactive: "INACTIVE",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Active reports whether the job still owns resources or can change state.
func (s State) Active() bool {
	return s != StateInactive
}

// Eventlog event names.
const (
	EventSubmit    = "submit"
	EventDepend    = "depend"
	EventPriority  = "priority"
	EventAlloc     = "alloc"
	EventStart     = "start"
	EventFinish    = "finish"
	EventException = "exception"
	EventClean     = "clean"
)

// nextState drives the job state machine: given the current state and a
// posted event, it returns the state the job moves to. Events that are legal
// but do not change state (a priority update while queued, start after
// alloc) return the current state.
func nextState(state State, event string) (State, error) {
	switch event {
	case EventSubmit:
		if state == StateNew {
			return StateDepend, nil
		}
	case EventDepend:
		if state == StateDepend {
			return StatePriority, nil
		}
	case EventPriority:
		switch state {
		case StatePriority:
			return StateSched, nil
		case StateSched:
			// Priority update while queued; no transition.
			return state, nil
		}
	case EventAlloc:
		if state == StateSched {
			return StateRun, nil
		}
	case EventStart:
		if state == StateRun {
			return state, nil
		}
	case EventFinish:
		if state == StateRun {
			return StateCleanup, nil
		}
	case EventException:
		// A fatal exception moves any active job to CLEANUP.
		if state.Active() && state != StateCleanup {
			return StateCleanup, nil
		}
		if state == StateCleanup {
			return state, nil
		}
	case EventClean:
		if state == StateCleanup {
			return StateInactive, nil
		}
	default:
		return state, rpc.Errorf(rpc.ErrCodeInvalid, "unknown job event %q", event)
	}
	return state, rpc.Errorf(rpc.ErrCodeInvalid,
		"event %q not valid in state %s", event, state)
}
