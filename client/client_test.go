package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{APIKey: "k"})
	assert.ErrorContains(t, err, "BaseURL")

	_, err = New(Config{BaseURL: "https://collector.example"})
	assert.ErrorContains(t, err, "APIKey")
}

func TestAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/v1/account", r.URL.Path)
		require.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"details":{"id":"acct-1","name":"Acme"}}`)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, APIKey: "key-1", HTTPClient: srv.Client()})
	require.NoError(t, err)

	account, err := c.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acct-1", account.ID)
	assert.Equal(t, "Acme", account.Name)
}

func TestCreateAgentWrapsDetailsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/agents", r.URL.Path)

		var req struct {
			Details CreateAgentRequest `json:"details"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "planner", req.Details.Name)

		fmt.Fprint(w, `{"details":{"id":"agent-1","name":"planner"}}`)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, APIKey: "k", HTTPClient: srv.Client()})
	require.NoError(t, err)

	agent, err := c.CreateAgent(context.Background(), CreateAgentRequest{Name: "planner"})
	require.NoError(t, err)
	assert.Equal(t, "agent-1", agent.ID)
}

func TestAgentsListUnwrapsDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"details":[{"id":"a1","name":"one"},{"id":"a2","name":"two"}]}`)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, APIKey: "k", HTTPClient: srv.Client()})
	require.NoError(t, err)

	agents, err := c.Agents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "a1", agents[0].ID)
	assert.Equal(t, "two", agents[1].Name)
}

func TestDeleteAgent(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/api/v1/agents/agent-1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, APIKey: "k", HTTPClient: srv.Client()})
	require.NoError(t, err)

	require.NoError(t, c.DeleteAgent(context.Background(), "agent-1"))
	assert.True(t, called)
}

func TestCreateAPITokenReturnsSecretOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"details":{"id":"tok-1","name":"ci","environment_id":"env-1","secret":"s3cret"}}`)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, APIKey: "k", HTTPClient: srv.Client()})
	require.NoError(t, err)

	tok, err := c.CreateAPIToken(context.Background(), CreateAPITokenRequest{Name: "ci", EnvironmentID: "env-1"})
	require.NoError(t, err)
	assert.Equal(t, "s3cret", tok.Secret)
	assert.Equal(t, "env-1", tok.EnvironmentID)
}

func TestErrorSurfacesCollectorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":"forbidden","message":"token lacks admin scope"}}`)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, APIKey: "k", HTTPClient: srv.Client()})
	require.NoError(t, err)

	_, err = c.Environments(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "token lacks admin scope")
}
