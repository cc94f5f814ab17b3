package kiseki

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiseki/internal/model"
	"github.com/ashita-ai/kiseki/internal/transport"
)

// Exporter is the extension point for custom trace destinations. The SDK
// calls exporters synchronously from the instrumented goroutine, in emission
// order; an exporter that does slow work should queue internally.
//
// Implementations see only public types — SpanData snapshots, never the SDK's
// live span handles.
type Exporter interface {
	// ExportSpan receives a span when it is started. EndTime is nil and
	// Status is StatusRunning at this point.
	ExportSpan(span SpanData)

	// ExportSpanFinish receives the closing update for a previously exported
	// span. Result holds the outputs/token_usage/error map, or nil when the
	// span finished empty.
	ExportSpanFinish(spanID uuid.UUID, endTime time.Time, status Status, result map[string]any)

	// StartInstance and FinishInstance bracket an agent run.
	StartInstance(opts InstanceOptions)
	FinishInstance()

	// RegisterSchema declares the span payload schema for the agent version.
	RegisterSchema(schema any)

	// Close flushes any internal buffering. Called once from SDK.Close.
	Close(ctx context.Context) error
}

// exporterTransport adapts a public Exporter to the internal transport
// boundary. Lives at the root because only this package sees both sides.
type exporterTransport struct {
	e Exporter
}

func (t exporterTransport) Emit(span *model.Span) {
	t.e.ExportSpan(toSpanData(span.Clone()))
}

func (t exporterTransport) FinishSpan(spanID uuid.UUID, endTime time.Time, status model.SpanStatus, result map[string]any) {
	t.e.ExportSpanFinish(spanID, endTime, Status(status), result)
}

func (t exporterTransport) StartInstance(opts model.AgentStartOptions) {
	t.e.StartInstance(InstanceOptions{
		AgentID:     opts.AgentID,
		Identifier:  opts.Identifier,
		Name:        opts.Name,
		Description: opts.Description,
		Metadata:    opts.Metadata,
	})
}

func (t exporterTransport) FinishInstance() {
	t.e.FinishInstance()
}

func (t exporterTransport) RegisterSchema(schema any) {
	t.e.RegisterSchema(schema)
}

func (t exporterTransport) Close(ctx context.Context) error {
	return t.e.Close(ctx)
}

var _ transport.Transport = exporterTransport{}
