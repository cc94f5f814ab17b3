package client

import "time"

// envelope is the collector's { details: ... } request/response wrapper.
type envelope[T any] struct {
	Details T `json:"details"`
}

// Account is the owning account of an API key.
type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Agent is a registered agent definition.
type Agent struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateAgentRequest creates a new agent.
type CreateAgentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// UpdateAgentRequest carries partial agent updates.
type UpdateAgentRequest struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Environment is a deployment environment (e.g. "production", "staging").
// API tokens and agent instances are scoped to one.
type Environment struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// APIToken is a collector credential. Secret is populated only in the
// response to CreateAPIToken.
type APIToken struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	EnvironmentID string    `json:"environment_id"`
	Secret        string    `json:"secret,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
}

// CreateAPITokenRequest creates a token scoped to an environment.
type CreateAPITokenRequest struct {
	Name          string `json:"name"`
	EnvironmentID string `json:"environment_id"`
}
