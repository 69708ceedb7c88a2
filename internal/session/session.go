package session

import (
	"time"

	"github.com/parley-ai/parley/internal/transport"
)

// State tracks a session through its lifecycle. Transitions only move
// forward; a closed session is never reused.
type State string

const (
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateTimingOut  State = "timing_out"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == StateClosed }

type Session struct {
	ID                string         `json:"session_id"`
	UserID            string         `json:"user_id"`
	Kind              transport.Kind `json:"transport"`
	State             State          `json:"state"`
	InterruptionCount int            `json:"interruption_count"`
	StartedAt         time.Time      `json:"started_at"`
	LastActivityAt    time.Time      `json:"last_activity_at"`

	release func()
}
