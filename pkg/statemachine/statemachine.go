// Package statemachine is a small generic state machine in the state-
// function style: each state is a function that does its work and returns
// the next state, or nil when the machine is done.
package statemachine

import "sync"

// StateFn is one state of the machine over entity type T. Returning nil
// stops the machine.
type StateFn[T any] func(*T) StateFn[T]

// Machine drives an entity through its state functions. Step is meant to
// be called from the single goroutine that owns the entity; the lock only
// protects observers reading the current state from outside.
type Machine[T any] struct {
	entity *T

	mu      sync.RWMutex
	current StateFn[T]
}

// New creates a machine positioned on the initial state.
func New[T any](entity *T, initial StateFn[T]) *Machine[T] {
	return &Machine[T]{entity: entity, current: initial}
}

// Step runs the current state once and moves to whatever it returns.
// It reports whether the machine can still advance.
func (m *Machine[T]) Step() bool {
	m.mu.RLock()
	fn := m.current
	m.mu.RUnlock()

	if fn == nil {
		return false
	}
	next := fn(m.entity)

	m.mu.Lock()
	m.current = next
	m.mu.Unlock()
	return next != nil
}

// Run steps until a state returns nil.
func (m *Machine[T]) Run() {
	for m.Step() {
	}
}

// Current returns the current state function, nil when stopped.
func (m *Machine[T]) Current() StateFn[T] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Jump repositions the machine without running anything, for recovery
// paths that re-enter the loop at a known state.
func (m *Machine[T]) Jump(fn StateFn[T]) {
	m.mu.Lock()
	m.current = fn
	m.mu.Unlock()
}
