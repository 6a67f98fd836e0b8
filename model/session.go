package model

import (
	"fmt"
	"time"
)

// SessionStatus is the lifecycle state of a replay session.
type SessionStatus string

// Session lifecycle: Pending -> Running -> {Completed, Failed, Cancelled, TimedOut}.
const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
	SessionTimedOut  SessionStatus = "timed_out"
)

// Terminal reports whether the status permits no further transitions.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionCancelled, SessionTimedOut:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a transition from s to next is legal.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case SessionPending:
		return next == SessionRunning || next.Terminal()
	case SessionRunning:
		return next.Terminal()
	default:
		return false
	}
}

// ReplaySession is the record of one open-loop replay invocation.
type ReplaySession struct {
	ID          string
	BagID       BagID
	Topics      []string
	Status      SessionStatus
	SpeedFactor float64
	// Environment is the opaque handle of the isolated execution
	// environment bound to this session, owned exclusively by the
	// replay controller for the session's lifetime.
	Environment string
	Error       string
	Output      []byte
	StartedAt   time.Time
	EndedAt     time.Time
}

// String returns a short representation for logging.
func (s *ReplaySession) String() string {
	return fmt.Sprintf("session(%s %s %s)", s.ID, s.BagID, s.Status)
}
