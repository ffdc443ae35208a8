package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ContextTurn is one prior conversational turn included in the prompt.
type ContextTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ReplyRequest is the normalized request sent to the reply generator.
type ReplyRequest struct {
	LearnerID  string        `json:"learner_id"`
	SessionID  string        `json:"session_id"`
	TurnID     string        `json:"turn_id"`
	Transcript string        `json:"transcript"`
	History    []ContextTurn `json:"history,omitempty"`
	PersonaID  string        `json:"persona_id,omitempty"`
}

// Reply is the final response after streaming deltas.
type Reply struct {
	Text string `json:"text"`
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

// Adapter bridges the session runtime with the reply generator.
type Adapter interface {
	StreamReply(ctx context.Context, req ReplyRequest, onDelta DeltaHandler) (Reply, error)
}

// StatusError carries the HTTP status of a failed generator call so the
// caller can classify it for retry or degraded handling.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("reply generator status %d: %s", e.Code, e.Body)
}

// Config controls adapter construction.
type Config struct {
	Mode      string
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewOpenRouterAdapter(cfg), nil
		}
		return NewMockAdapter(), nil
	case "openrouter":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("reply generator api key is required for openrouter mode")
		}
		return NewOpenRouterAdapter(cfg), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported tutor adapter mode %q", cfg.Mode)
	}
}
