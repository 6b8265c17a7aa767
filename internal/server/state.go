package server

import (
	"fmt"
	"sync"
)

type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateAuthorized
	StateSubscribed
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateAuthorized:
		return "authorized"
	case StateSubscribed:
		return "subscribed"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Every state may move to StateClosed. Otherwise a connection advances one
// step at a time, so authorization can never be skipped.
var transitions = map[State][]State{
	StateConnecting:    {StateAuthenticated},
	StateAuthenticated: {StateAuthorized},
	StateAuthorized:    {StateSubscribed},
	StateSubscribed:    {StateClosing},
	StateClosing:       {},
}

type stateMachine struct {
	mu      sync.Mutex
	current State
}

func (m *stateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *stateMachine) transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == StateClosed {
		return fmt.Errorf("invalid transition %s -> %s", m.current, to)
	}
	if to == StateClosed {
		m.current = to
		return nil
	}
	for _, next := range transitions[m.current] {
		if next == to {
			m.current = to
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s", m.current, to)
}
