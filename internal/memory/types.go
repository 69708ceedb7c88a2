package memory

import (
	"context"
	"time"
)

// TurnRecord stores a single caller or assistant conversational turn.
type TurnRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists and retrieves conversational memory. All reads and writes
// are scoped by the (user_id, session_id) isolation key.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	RecentContext(ctx context.Context, userID, sessionID string, limit int) ([]TurnRecord, error)
	Close() error
}
