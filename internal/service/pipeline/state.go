package pipeline

import (
	"fmt"
	"sync"
)

// State is the lifecycle of a video run.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateFinished
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateCancelled || s == StateFailed
}

var transitions = map[State][]State{
	StateIdle:      {StateStreaming},
	StateStreaming: {StateFinished, StateCancelled, StateFailed},
	StateFinished:  {StateIdle},
	StateCancelled: {StateIdle},
	StateFailed:    {StateIdle},
}

// stateMachine guards the Idle → Streaming → terminal → Idle cycle.
type stateMachine struct {
	mu      sync.Mutex
	current State
	onMove  func(from, to State)
}

func (m *stateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// move performs a transition, rejecting the ones the lifecycle does not allow.
func (m *stateMachine) move(to State) error {
	m.mu.Lock()
	from := m.current
	allowed := false
	for _, next := range transitions[from] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		m.mu.Unlock()
		return fmt.Errorf("invalid transition %s -> %s", from, to)
	}
	m.current = to
	onMove := m.onMove
	m.mu.Unlock()

	if onMove != nil {
		onMove(from, to)
	}
	return nil
}
