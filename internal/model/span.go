// Package model defines the span/trace data model and the transport action
// union shared by the tracer, queue, and transports.
package model

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SpanStatus is the lifecycle state of a span.
type SpanStatus string

const (
	SpanStatusRunning SpanStatus = "running"
	SpanStatusSuccess SpanStatus = "success"
	SpanStatusError   SpanStatus = "error"
)

// Common span types. The namespace is open — framework adapters prefix their
// own (e.g. "langchain.chain"); these are the conventional bare values.
const (
	SpanTypeLLM   = "llm"
	SpanTypeTool  = "tool"
	SpanTypeChain = "chain"
)

// TokenUsage records LLM token counts for a span.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// SpanError describes the failure that ended a span with SpanStatusError.
type SpanError struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	Stacktrace string `json:"stacktrace,omitempty"`
}

// Span is one traced operation. SpanID and TraceID are assigned at start;
// ParentSpanID is nil for a trace root and otherwise refers to a span with
// the same TraceID. EndTime is set at most once — once Status leaves
// SpanStatusRunning the span is immutable.
type Span struct {
	SpanID       uuid.UUID      `json:"span_id"`
	TraceID      uuid.UUID      `json:"trace_id"`
	ParentSpanID *uuid.UUID     `json:"parent_span_id,omitempty"`
	Name         string         `json:"name"`
	SpanType     string         `json:"span_type"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      *time.Time     `json:"end_time,omitempty"`
	Status       SpanStatus     `json:"status"`
	Inputs       map[string]any `json:"inputs,omitempty"`
	Outputs      map[string]any `json:"outputs,omitempty"`
	TokenUsage   *TokenUsage    `json:"token_usage,omitempty"`
	Error        *SpanError     `json:"error,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Tags         []string       `json:"tags,omitempty"`

	ended atomic.Bool
}

// Root reports whether the span is a trace root.
func (s *Span) Root() bool { return s.ParentSpanID == nil }

// Finished reports whether the span has left the running state.
func (s *Span) Finished() bool { return s.Status != SpanStatusRunning }

// EndOnce returns true exactly once per span. The tracer uses it to make a
// second EndSpan call a deterministic no-op.
func (s *Span) EndOnce() bool { return !s.ended.Swap(true) }

// Clone returns a snapshot of the span for hand-off to a transport, so the
// tracer finishing the original later does not race the queue worker.
// Payload maps are shared — they are captured at start/finish and not
// mutated afterwards.
func (s *Span) Clone() *Span {
	c := &Span{
		SpanID:    s.SpanID,
		TraceID:   s.TraceID,
		Name:      s.Name,
		SpanType:  s.SpanType,
		StartTime: s.StartTime,
		Status:    s.Status,
		Inputs:    s.Inputs,
		Outputs:   s.Outputs,
		Metadata:  s.Metadata,
	}
	if s.ParentSpanID != nil {
		parent := *s.ParentSpanID
		c.ParentSpanID = &parent
	}
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	if s.TokenUsage != nil {
		usage := *s.TokenUsage
		c.TokenUsage = &usage
	}
	if s.Error != nil {
		spanErr := *s.Error
		c.Error = &spanErr
	}
	if s.Tags != nil {
		c.Tags = append([]string(nil), s.Tags...)
	}
	return c
}
