package kiseki

import (
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiseki/internal/model"
)

// Status is a span's lifecycle state.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Conventional span types. The namespace is open — adapters may prefix
// their own (e.g. "langchain.chain").
const (
	SpanTypeLLM   = "llm"
	SpanTypeTool  = "tool"
	SpanTypeChain = "chain"
)

// TokenUsage records LLM token counts for a span.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// SpanError describes the failure that ended a span with StatusError.
type SpanError struct {
	Type       string
	Message    string
	Stacktrace string
}

// SpanOptions configures StartSpan.
type SpanOptions struct {
	Name     string
	SpanType string
	Inputs   map[string]any
	Metadata map[string]any
	Tags     []string
}

// EndOptions carries the results captured when a span finishes. A non-nil
// Error sets the span status to StatusError.
type EndOptions struct {
	Outputs    map[string]any
	TokenUsage *TokenUsage
	Error      *SpanError
}

// InstanceOptions carries identity overrides for StartInstance. Non-zero
// fields are merged into the transport configuration before registration.
type InstanceOptions struct {
	AgentID     string
	Identifier  string // agent version external identifier
	Name        string
	Description string
	Metadata    map[string]any
}

// Span is a handle to one traced operation. It is created by StartSpan and
// mutated only through EndSpan; all accessors are read-only views.
type Span struct {
	s *model.Span
}

// SpanID returns the span's unique id.
func (s *Span) SpanID() uuid.UUID { return s.s.SpanID }

// TraceID returns the id shared by every span in the span's trace.
func (s *Span) TraceID() uuid.UUID { return s.s.TraceID }

// ParentSpanID returns the parent span id, or uuid.Nil for a trace root.
func (s *Span) ParentSpanID() uuid.UUID {
	if s.s.ParentSpanID == nil {
		return uuid.Nil
	}
	return *s.s.ParentSpanID
}

// Name returns the span's operation name.
func (s *Span) Name() string { return s.s.Name }

// SpanType returns the span's type.
func (s *Span) SpanType() string { return s.s.SpanType }

// Status returns the span's current lifecycle state.
func (s *Span) Status() Status { return Status(s.s.Status) }

// StartTime returns when the span was started.
func (s *Span) StartTime() time.Time { return s.s.StartTime }

// EndTime returns when the span finished; the zero time while running.
func (s *Span) EndTime() time.Time {
	if s.s.EndTime == nil {
		return time.Time{}
	}
	return *s.s.EndTime
}

// SpanData is a plain snapshot of a span, used at the Exporter boundary so
// custom exporters need no internal imports.
type SpanData struct {
	SpanID       uuid.UUID
	TraceID      uuid.UUID
	ParentSpanID *uuid.UUID
	Name         string
	SpanType     string
	StartTime    time.Time
	EndTime      *time.Time
	Status       Status
	Inputs       map[string]any
	Outputs      map[string]any
	TokenUsage   *TokenUsage
	Error        *SpanError
	Metadata     map[string]any
	Tags         []string
}

// ── Type converters ────────────────────────────────────────────────────────────

// toSpanData converts an internal span to the public snapshot. Lives here
// because the root package is the only one that sees both sides of the
// boundary.
func toSpanData(s *model.Span) SpanData {
	d := SpanData{
		SpanID:       s.SpanID,
		TraceID:      s.TraceID,
		ParentSpanID: s.ParentSpanID,
		Name:         s.Name,
		SpanType:     s.SpanType,
		StartTime:    s.StartTime,
		EndTime:      s.EndTime,
		Status:       Status(s.Status),
		Inputs:       s.Inputs,
		Outputs:      s.Outputs,
		Metadata:     s.Metadata,
		Tags:         s.Tags,
	}
	if s.TokenUsage != nil {
		d.TokenUsage = &TokenUsage{
			PromptTokens:     s.TokenUsage.PromptTokens,
			CompletionTokens: s.TokenUsage.CompletionTokens,
			TotalTokens:      s.TokenUsage.TotalTokens,
		}
	}
	if s.Error != nil {
		d.Error = &SpanError{
			Type:       s.Error.Type,
			Message:    s.Error.Message,
			Stacktrace: s.Error.Stacktrace,
		}
	}
	return d
}

func toInternalUsage(u *TokenUsage) *model.TokenUsage {
	if u == nil {
		return nil
	}
	return &model.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func toInternalError(e *SpanError) *model.SpanError {
	if e == nil {
		return nil
	}
	return &model.SpanError{
		Type:       e.Type,
		Message:    e.Message,
		Stacktrace: e.Stacktrace,
	}
}

func toInternalInstanceOptions(o InstanceOptions) model.AgentStartOptions {
	return model.AgentStartOptions{
		AgentID:     o.AgentID,
		Identifier:  o.Identifier,
		Name:        o.Name,
		Description: o.Description,
		Metadata:    o.Metadata,
	}
}
