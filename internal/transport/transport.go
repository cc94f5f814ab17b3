// Package transport defines the export contract between the tracer and the
// outside world, and provides the two implementations: the queue-backed HTTP
// exporter and the stdout NDJSON writer.
package transport

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiseki/internal/model"
)

// Transport receives span lifecycle events and agent instance commands.
// Every method except Close is fire-and-forget: implementations must never
// block the caller on network health, and failures surface through logs, not
// return values — observability must not take down the host application.
type Transport interface {
	// Emit hands off a freshly started span (the "open" record).
	Emit(span *model.Span)

	// FinishSpan supplies the closing update for a previously emitted span.
	FinishSpan(spanID uuid.UUID, endTime time.Time, status model.SpanStatus, result map[string]any)

	// StartInstance registers and starts an agent instance.
	StartInstance(opts model.AgentStartOptions)

	// FinishInstance finishes the current agent instance.
	FinishInstance()

	// RegisterSchema declares the span payload schema for the agent version.
	RegisterSchema(schema any)

	// Close stops intake and drains pending work within ctx's deadline.
	// Anything left unresolved is discarded with a logged warning.
	Close(ctx context.Context) error
}
