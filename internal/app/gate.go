package app

import (
	"errors"
	"sync"

	"github.com/hyperjump/personsearch/internal/embedding"
	"github.com/hyperjump/personsearch/internal/vector"
)

// ErrNotReady is returned while the collaborators are not initialized.
var ErrNotReady = errors.New("service not ready")

// State is the lifecycle state of a Gate.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateShutdown:
		return "shutdown"
	default:
		return "uninitialized"
	}
}

// Collaborators are the initialized embedding oracle and vector store.
type Collaborators struct {
	Oracle embedding.Oracle
	Store  vector.Store
	// Dimension is the probed embedding dimension.
	Dimension int
}

// Gate hands out the collaborators once they are initialized. Callers check it before touching either.
type Gate struct {
	mu     sync.RWMutex
	state  State
	collab Collaborators
}

// NewGate returns an uninitialized gate.
func NewGate() *Gate {
	return &Gate{}
}

// Acquire returns the collaborators, or ErrNotReady unless the gate is ready.
func (g *Gate) Acquire() (Collaborators, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.state != StateReady {
		return Collaborators{}, ErrNotReady
	}
	return g.collab, nil
}

// Set marks the gate ready with c. Both collaborators must be present.
func (g *Gate) Set(c Collaborators) error {
	if c.Oracle == nil || c.Store == nil {
		return errors.New("gate requires both an embedding oracle and a vector store")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateShutdown {
		return errors.New("gate is shut down")
	}
	g.collab = c
	g.state = StateReady
	return nil
}

// Clear moves the gate to shutdown and returns the collaborators it held, if any.
func (g *Gate) Clear() (Collaborators, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev, held := g.collab, g.state == StateReady
	g.collab = Collaborators{}
	g.state = StateShutdown
	return prev, held
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Ready reports whether Acquire would succeed.
func (g *Gate) Ready() bool {
	return g.State() == StateReady
}
