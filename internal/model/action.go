package model

import (
	"time"

	"github.com/google/uuid"
)

// Action is the unit of work consumed by the transport queue. It is a closed
// union: the only implementations live in this package, and the processor
// switches exhaustively over them. Each action is consumed exactly once by
// the single queue worker; redelivery happens only through the worker's own
// bounded retry, never by external re-enqueue.
type Action interface {
	// Kind returns the wire tag for the action, used for stdout serialization
	// and log fields.
	Kind() string

	isAction()
}

// AgentStartOptions carries caller-supplied identity overrides for an
// agent_start action. Non-zero fields are merged into the transport config
// before registration.
type AgentStartOptions struct {
	AgentID     string         `json:"agent_id,omitempty"`
	Identifier  string         `json:"identifier,omitempty"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SchemaRegister declares the payload schema for the agent version.
// Schema is the caller's schema value, compared structurally (via canonical
// JSON) against the previously registered schema.
type SchemaRegister struct {
	Schema any `json:"schema"`
}

// AgentStart registers (if needed) and starts an agent instance.
type AgentStart struct {
	Options AgentStartOptions `json:"options"`
}

// AgentFinish finishes the current agent instance.
type AgentFinish struct {
	Timestamp time.Time `json:"timestamp"`
}

// SpanEnd carries a span to be created on the backend. The name is
// historical: the "open" record for a span is sent by this action, and the
// closing update arrives separately as a SpanFinish.
type SpanEnd struct {
	Span *Span `json:"span"`
}

// SpanFinish closes a previously emitted span.
type SpanFinish struct {
	SpanID  uuid.UUID      `json:"span_id"`
	EndTime time.Time      `json:"end_time"`
	Status  SpanStatus     `json:"status,omitempty"`
	Result  map[string]any `json:"result,omitempty"`
}

func (SchemaRegister) Kind() string { return "schema_register" }
func (AgentStart) Kind() string     { return "agent_start" }
func (AgentFinish) Kind() string    { return "agent_finish" }
func (SpanEnd) Kind() string        { return "span_end" }
func (SpanFinish) Kind() string     { return "span_finish" }

func (SchemaRegister) isAction() {}
func (AgentStart) isAction()     {}
func (AgentFinish) isAction()    {}
func (SpanEnd) isAction()        {}
func (SpanFinish) isAction()     {}
