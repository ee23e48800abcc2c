package session

import "time"

// InitRequest carries the credential used for the agent handshake.
type InitRequest struct {
	APIKey string `json:"api_key"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	Status          Status    `json:"status"`
	Initialized     bool      `json:"initialized"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
