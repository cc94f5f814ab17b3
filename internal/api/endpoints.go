package api

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// AgentVersion identifies a versioned agent definition on the collector.
type AgentVersion struct {
	ExternalIdentifier string `json:"external_identifier"`
	Name               string `json:"name,omitempty"`
	Description        string `json:"description,omitempty"`
}

// RegisterInstanceRequest is the body for POST /api/v1/agent_instance/register.
type RegisterInstanceRequest struct {
	AgentID            string        `json:"agent_id,omitempty"`
	AgentVersion       *AgentVersion `json:"agent_version,omitempty"`
	AgentSchemaVersion string        `json:"agent_schema_version,omitempty"`
}

// SpanDetails is the wire form of one span create.
type SpanDetails struct {
	AgentInstanceID string         `json:"agent_instance_id"`
	SchemaName      string         `json:"schema_name"`
	Status          string         `json:"status"`
	Payload         map[string]any `json:"payload"`
	ResultPayload   map[string]any `json:"result_payload,omitempty"`
	ParentSpanID    *string        `json:"parent_span_id"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
}

// FinishSpanRequest is the body for POST /api/v1/agent_spans/{id}/finish.
type FinishSpanRequest struct {
	Timestamp     time.Time      `json:"timestamp"`
	Status        string         `json:"status,omitempty"`
	ResultPayload map[string]any `json:"result_payload,omitempty"`
}

// detailsID is the collector's { details: { id } } response envelope.
type detailsID struct {
	Details struct {
		ID string `json:"id"`
	} `json:"details"`
}

type detailsBody[T any] struct {
	Details T `json:"details"`
}

type timestampBody struct {
	Timestamp time.Time `json:"timestamp"`
}

// RegisterInstance registers an agent instance and returns its backend id.
func (r *Requester) RegisterInstance(ctx context.Context, req RegisterInstanceRequest) (string, error) {
	var resp detailsID
	if err := r.Do(ctx, http.MethodPost, "/api/v1/agent_instance/register", req, &resp); err != nil {
		return "", err
	}
	if resp.Details.ID == "" {
		return "", fmt.Errorf("api: register returned an empty instance id")
	}
	return resp.Details.ID, nil
}

// StartInstance marks a registered instance as started.
func (r *Requester) StartInstance(ctx context.Context, instanceID string, ts time.Time) error {
	return r.Do(ctx, http.MethodPost, "/api/v1/agent_instance/"+instanceID+"/start", timestampBody{Timestamp: ts}, nil)
}

// FinishInstance marks an instance as finished. Finishing an already-finished
// instance is idempotent.
func (r *Requester) FinishInstance(ctx context.Context, instanceID string, ts time.Time) error {
	err := r.Do(ctx, http.MethodPost, "/api/v1/agent_instance/"+instanceID+"/finish", timestampBody{Timestamp: ts}, nil)
	if IsInvalidAction(err) {
		return nil
	}
	return err
}

// CreateSpan sends one span record and returns the backend span id.
func (r *Requester) CreateSpan(ctx context.Context, details SpanDetails) (string, error) {
	var resp detailsID
	if err := r.Do(ctx, http.MethodPost, "/api/v1/agent_spans", detailsBody[SpanDetails]{Details: details}, &resp); err != nil {
		return "", err
	}
	if resp.Details.ID == "" {
		return "", fmt.Errorf("api: span create returned an empty span id")
	}
	return resp.Details.ID, nil
}

// FinishSpan closes a span on the backend. A 409 invalid_action response
// means the span is already finished and is treated as success.
func (r *Requester) FinishSpan(ctx context.Context, backendSpanID string, req FinishSpanRequest) error {
	err := r.Do(ctx, http.MethodPost, "/api/v1/agent_spans/"+backendSpanID+"/finish", req, nil)
	if IsInvalidAction(err) {
		return nil
	}
	return err
}
