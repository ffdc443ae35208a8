package session

import "time"

// CreateRequest defines the payload for creating a new session.
type CreateRequest struct {
	LearnerID string `json:"learner_id"`
	PersonaID string `json:"persona_id"`
	VoiceID   string `json:"voice_id"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	LearnerID       string    `json:"learner_id"`
	State           State     `json:"state"`
	PersonaID       string    `json:"persona_id"`
	VoiceID         string    `json:"voice_id"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
