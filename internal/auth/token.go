// Package auth provides the bearer token source used by the HTTP requester.
// In static mode the configured API key is the bearer token. In exchange mode
// the API key is traded for a short-lived JWT which is cached and refreshed
// ahead of expiry.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// TokenSource yields the bearer token for collector requests.
// It is safe for concurrent use.
type TokenSource struct {
	exchange bool
	baseURL  string
	agentID  string
	apiKey   string
	client   *http.Client
	margin   time.Duration

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	// Concurrent refreshes collapse into one exchange call; the resource
	// client and the queue worker may both hit an expired token at once.
	group singleflight.Group
}

// NewStatic returns a source that always yields the API key itself.
func NewStatic(apiKey string) *TokenSource {
	return &TokenSource{apiKey: apiKey}
}

// NewExchange returns a source that exchanges the API key for a JWT at
// POST {baseURL}/auth/token and caches it until shortly before expiry.
// A nil client gets a default with a 30-second timeout.
func NewExchange(baseURL, agentID, apiKey string, client *http.Client) *TokenSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenSource{
		exchange: true,
		baseURL:  baseURL,
		agentID:  agentID,
		apiKey:   apiKey,
		client:   client,
		margin:   30 * time.Second,
	}
}

// Token returns a bearer token valid for at least the refresh margin.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	if !ts.exchange {
		return ts.apiKey, nil
	}

	ts.mu.Lock()
	if ts.token != "" && time.Now().Before(ts.expiresAt.Add(-ts.margin)) {
		token := ts.token
		ts.mu.Unlock()
		return token, nil
	}
	ts.mu.Unlock()

	v, err, _ := ts.group.Do("refresh", func() (any, error) {
		// Detach from the first caller's context: singleflight shares this
		// result with callers whose own contexts are still live.
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		return ts.refresh(refreshCtx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type exchangeRequest struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}

type exchangeResponseEnvelope struct {
	Data struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	} `json:"data"`
}

func (ts *TokenSource) refresh(ctx context.Context) (string, error) {
	body, err := json.Marshal(exchangeRequest{AgentID: ts.agentID, APIKey: ts.apiKey})
	if err != nil {
		return "", fmt.Errorf("auth: marshal exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.baseURL+"/auth/token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("auth: create exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth: token exchange: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth: token exchange failed with status %d", resp.StatusCode)
	}

	var envelope exchangeResponseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", fmt.Errorf("auth: decode exchange response: %w", err)
	}
	if envelope.Data.Token == "" {
		return "", fmt.Errorf("auth: token exchange returned an empty token")
	}

	expiresAt := envelope.Data.ExpiresAt
	if claimExp, ok := tokenExpiry(envelope.Data.Token); ok {
		// The token's own exp claim wins when the server's expires_at is
		// absent or later than what the token actually encodes.
		if expiresAt.IsZero() || claimExp.Before(expiresAt) {
			expiresAt = claimExp
		}
	}
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(5 * time.Minute)
	}

	ts.mu.Lock()
	ts.token = envelope.Data.Token
	ts.expiresAt = expiresAt
	ts.mu.Unlock()

	return envelope.Data.Token, nil
}

// tokenExpiry reads the exp claim without verifying the signature — the
// client has no verification key and only needs the refresh deadline.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
