package fsm

import (
	"fmt"
	"sync"
)

type State string
type Event string

// Handler is executed when a transition fires, before the state changes.
// Returning an error vetoes the transition. Handlers run under the machine
// lock and must not call Fire.
type Handler func(event Event, args ...interface{}) error

type transition struct {
	from  State
	event Event
}

type edge struct {
	to      State
	handler Handler
}

// Machine is a small thread-safe state machine. Transitions are declared up
// front; firing an undeclared (state, event) pair is an error, which is how
// callers reject out-of-order lifecycle operations.
type Machine struct {
	mu      sync.RWMutex
	current State
	edges   map[transition]edge
}

func New(initial State) *Machine {
	return &Machine{
		current: initial,
		edges:   make(map[transition]edge),
	}
}

func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Allow declares that event moves the machine from one state to another,
// running handler (if non-nil) before the state changes.
func (m *Machine) Allow(from State, event Event, to State, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edges[transition{from, event}] = edge{to, handler}
}

// Can reports whether event is currently fireable.
func (m *Machine) Can(event Event) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.edges[transition{m.current, event}]
	return ok
}

// Fire triggers a state transition. It is thread-safe. A vetoed transition
// leaves the current state untouched.
func (m *Machine) Fire(event Event, args ...interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.edges[transition{m.current, event}]
	if !ok {
		return fmt.Errorf("invalid transition from %s via %s", m.current, event)
	}

	if e.handler != nil {
		if err := e.handler(event, args...); err != nil {
			return err
		}
	}

	m.current = e.to
	return nil
}
