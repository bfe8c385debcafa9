// Package session runs one recognition session and turns adapter events into
// callback invocations and a single completion result.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a recognition session.
type State int

const (
	// StateIdle - Session created, recognition not requested yet.
	StateIdle State = iota
	// StateListening - Recognition is running and events are dispatched.
	StateListening
	// StateStopping - Completion was resolved, the adapter is being stopped.
	StateStopping
	// StateStopped - Session ended successfully.
	StateStopped
	// StateFailed - Session ended with an error.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (STOPPED or FAILED).
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// ErrAlreadyStarted is returned by Begin when the session left IDLE.
var ErrAlreadyStarted = errors.New("session already started")

// Lifecycle manages the state machine for a single session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	IDLE → LISTENING → STOPPING → STOPPED
//	                       │
//	                       └──→ FAILED
//
// Rules:
//   - Begin() moves IDLE to LISTENING, once.
//   - Resolve() moves LISTENING to STOPPING and records the outcome. Only the
//     first call has an effect.
//   - Finish() moves STOPPING to STOPPED, or FAILED when the outcome is an error.
type Lifecycle struct {
	mu    sync.RWMutex
	state State
	err   error
	done  chan struct{}
}

// NewLifecycle creates a lifecycle in IDLE state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		state: StateIdle,
		done:  make(chan struct{}),
	}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Begin transitions IDLE → LISTENING.
func (l *Lifecycle) Begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateIdle {
		return ErrAlreadyStarted
	}
	l.state = StateListening
	return nil
}

// Resolve records the session outcome and transitions LISTENING → STOPPING.
// Returns true if this call resolved the session, false if it was already
// resolved or never began.
func (l *Lifecycle) Resolve(err error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateListening {
		return false
	}
	l.state = StateStopping
	l.err = err
	close(l.done)
	return true
}

// Finish transitions STOPPING to its terminal state and returns the state.
// In any other state it is a no-op.
func (l *Lifecycle) Finish() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateStopping {
		if l.err != nil {
			l.state = StateFailed
		} else {
			l.state = StateStopped
		}
	}
	return l.state
}

// Done is closed once the session is resolved.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}

// Err returns the recorded outcome. Nil until resolved, and nil for success.
func (l *Lifecycle) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}
