package memory

import (
	"context"
	"time"
)

// Roles recorded for conversational turns.
const (
	RoleLearner = "learner"
	RoleTutor   = "tutor"
)

// TurnRecord stores a single learner or tutor conversational turn.
type TurnRecord struct {
	ID          string    `json:"id"`
	LearnerID   string    `json:"learner_id"`
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Degraded    bool      `json:"degraded"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists and retrieves conversational turn history.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	// RecentTurns returns the learner's latest turns across sessions in
	// chronological order.
	RecentTurns(ctx context.Context, learnerID string, limit int) ([]TurnRecord, error)
	// SessionTurns returns the turns of one session in chronological order.
	SessionTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	Close() error
}
