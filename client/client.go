// Package client is a thin resource client for the kiseki collector API:
// account, agents, environments, and API tokens. Span export does not go
// through this package — use the root kiseki SDK for tracing.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashita-ai/kiseki/internal/api"
	"github.com/ashita-ai/kiseki/internal/auth"
	"github.com/ashita-ai/kiseki/internal/retry"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the collector (e.g. "https://api.kiseki.dev").
	BaseURL string

	// APIKey authenticates every request.
	APIKey string

	// AgentID enables API-key → JWT exchange when set. With an empty AgentID
	// the APIKey is sent directly as the bearer token.
	AgentID string

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration

	// Logger receives retry and failure logs. Defaults to slog.Default.
	Logger *slog.Logger
}

// Client is an HTTP client for the collector's resource API.
// All methods are safe for concurrent use.
type Client struct {
	api *api.Requester
}

// New creates a Client from the given configuration.
// Returns an error if BaseURL or APIKey is empty.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("client: BaseURL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("client: APIKey is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	var tokens *auth.TokenSource
	if cfg.AgentID != "" {
		tokens = auth.NewExchange(baseURL, cfg.AgentID, cfg.APIKey, cfg.HTTPClient)
	} else {
		tokens = auth.NewStatic(cfg.APIKey)
	}

	return &Client{
		api: api.NewRequester(baseURL, tokens, retry.Default(), timeout, cfg.HTTPClient, cfg.Logger),
	}, nil
}

// Account returns the account owning the API key.
func (c *Client) Account(ctx context.Context) (*Account, error) {
	var resp envelope[Account]
	if err := c.api.Do(ctx, http.MethodGet, "/api/v1/account", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Details, nil
}

// Agents lists every agent visible to the account.
func (c *Client) Agents(ctx context.Context) ([]Agent, error) {
	var resp envelope[[]Agent]
	if err := c.api.Do(ctx, http.MethodGet, "/api/v1/agents", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Details, nil
}

// Agent fetches one agent by id.
func (c *Client) Agent(ctx context.Context, id string) (*Agent, error) {
	var resp envelope[Agent]
	if err := c.api.Do(ctx, http.MethodGet, "/api/v1/agents/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Details, nil
}

// CreateAgent registers a new agent.
func (c *Client) CreateAgent(ctx context.Context, req CreateAgentRequest) (*Agent, error) {
	var resp envelope[Agent]
	if err := c.api.Do(ctx, http.MethodPost, "/api/v1/agents", envelope[CreateAgentRequest]{Details: req}, &resp); err != nil {
		return nil, err
	}
	return &resp.Details, nil
}

// UpdateAgent updates an agent's name or description. Zero fields are left
// unchanged.
func (c *Client) UpdateAgent(ctx context.Context, id string, req UpdateAgentRequest) (*Agent, error) {
	var resp envelope[Agent]
	if err := c.api.Do(ctx, http.MethodPatch, "/api/v1/agents/"+id, envelope[UpdateAgentRequest]{Details: req}, &resp); err != nil {
		return nil, err
	}
	return &resp.Details, nil
}

// DeleteAgent removes an agent and its versions.
func (c *Client) DeleteAgent(ctx context.Context, id string) error {
	return c.api.Do(ctx, http.MethodDelete, "/api/v1/agents/"+id, nil, nil)
}

// Environments lists the account's environments.
func (c *Client) Environments(ctx context.Context) ([]Environment, error) {
	var resp envelope[[]Environment]
	if err := c.api.Do(ctx, http.MethodGet, "/api/v1/environments", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Details, nil
}

// CreateEnvironment creates a named environment.
func (c *Client) CreateEnvironment(ctx context.Context, name string) (*Environment, error) {
	req := envelope[map[string]string]{Details: map[string]string{"name": name}}
	var resp envelope[Environment]
	if err := c.api.Do(ctx, http.MethodPost, "/api/v1/environments", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Details, nil
}

// DeleteEnvironment removes an environment.
func (c *Client) DeleteEnvironment(ctx context.Context, id string) error {
	return c.api.Do(ctx, http.MethodDelete, "/api/v1/environments/"+id, nil, nil)
}

// APITokens lists the account's API tokens. Secrets are never returned for
// existing tokens.
func (c *Client) APITokens(ctx context.Context) ([]APIToken, error) {
	var resp envelope[[]APIToken]
	if err := c.api.Do(ctx, http.MethodGet, "/api/v1/api_tokens", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Details, nil
}

// CreateAPIToken creates a token scoped to an environment. The returned
// token's Secret is shown exactly once.
func (c *Client) CreateAPIToken(ctx context.Context, req CreateAPITokenRequest) (*APIToken, error) {
	var resp envelope[APIToken]
	if err := c.api.Do(ctx, http.MethodPost, "/api/v1/api_tokens", envelope[CreateAPITokenRequest]{Details: req}, &resp); err != nil {
		return nil, err
	}
	return &resp.Details, nil
}

// RevokeAPIToken permanently disables a token.
func (c *Client) RevokeAPIToken(ctx context.Context, id string) error {
	return c.api.Do(ctx, http.MethodDelete, "/api/v1/api_tokens/"+id, nil, nil)
}
