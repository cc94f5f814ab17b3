package trace

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiseki/internal/model"
	"github.com/ashita-ai/kiseki/internal/transport"
)

// StartOptions configures a new span.
type StartOptions struct {
	Name     string
	SpanType string
	Inputs   map[string]any
	Metadata map[string]any
	Tags     []string
}

// EndOptions carries the results captured when a span finishes.
type EndOptions struct {
	Outputs    map[string]any
	TokenUsage *model.TokenUsage
	Error      *model.SpanError
}

// Tracer is the public span lifecycle API. It stamps spans, maintains the
// context stack, and funnels every side effect through the injected
// transport — the tracer itself holds no network state, and transport
// failures never propagate back to the instrumented application.
type Tracer struct {
	transport transport.Transport
	logger    *slog.Logger

	// Injectable for tests.
	now   func() time.Time
	newID func() uuid.UUID
}

// New creates a Tracer over the given transport.
func New(t transport.Transport, logger *slog.Logger) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		transport: t,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.New,
	}
}

// StartSpan opens a span parented to whatever is currently open on ctx's
// stack: the parent's trace is inherited, or a fresh trace id is generated
// for a root. The span is pushed on the stack and its open record emitted.
// Callers mutate the returned span only through EndSpan.
func (t *Tracer) StartSpan(ctx context.Context, opts StartOptions) (context.Context, *model.Span) {
	ctx, stack := ensure(ctx)

	span := &model.Span{
		SpanID:    t.newID(),
		Name:      opts.Name,
		SpanType:  opts.SpanType,
		StartTime: t.now(),
		Status:    model.SpanStatusRunning,
		Inputs:    opts.Inputs,
		Metadata:  opts.Metadata,
		Tags:      opts.Tags,
	}
	if span.SpanType == "" {
		span.SpanType = model.SpanTypeChain
	}

	if parent := stack.Current(); parent != nil {
		span.TraceID = parent.TraceID
		parentID := parent.SpanID
		span.ParentSpanID = &parentID
	} else {
		span.TraceID = t.newID()
	}

	stack.Enter(span)
	t.transport.Emit(span)
	return ctx, span
}

// EndSpan finishes a span: stamps the end time, sets the status (error iff
// opts carries an error), merges outputs and usage, pops the stack, and
// forwards the closing update. A second EndSpan on the same span is ignored
// deterministically — no second transport call.
func (t *Tracer) EndSpan(ctx context.Context, span *model.Span, opts EndOptions) {
	if span == nil {
		return
	}
	if !span.EndOnce() {
		t.logger.Debug("tracer: span already ended, ignoring", "span_id", span.SpanID)
		return
	}

	end := t.now()
	span.EndTime = &end
	if opts.Error != nil {
		span.Status = model.SpanStatusError
		span.Error = opts.Error
	} else {
		span.Status = model.SpanStatusSuccess
	}
	span.Outputs = opts.Outputs
	if opts.TokenUsage != nil {
		span.TokenUsage = opts.TokenUsage
	}

	if stack := FromContext(ctx); stack != nil {
		if stack.Current() == span {
			stack.Exit()
		} else {
			t.logger.Debug("tracer: ended span is not top of stack, leaving stack untouched",
				"span_id", span.SpanID)
		}
	}

	t.transport.FinishSpan(span.SpanID, end, span.Status, finishResult(span))
}

// Run opens a span around fn: the span finishes when fn returns, with an
// error status when fn fails or panics. Panics are re-raised after the span
// is closed.
func (t *Tracer) Run(ctx context.Context, opts StartOptions, fn func(ctx context.Context) error) error {
	ctx, span := t.StartSpan(ctx, opts)
	defer func() {
		if r := recover(); r != nil {
			t.EndSpan(ctx, span, EndOptions{Error: &model.SpanError{
				Type:    "panic",
				Message: panicMessage(r),
			}})
			panic(r)
		}
	}()

	err := fn(ctx)
	if err != nil {
		t.EndSpan(ctx, span, EndOptions{Error: &model.SpanError{
			Type:    "error",
			Message: err.Error(),
		}})
		return err
	}
	t.EndSpan(ctx, span, EndOptions{})
	return nil
}

// finishResult packages the span's outcome for the transport's finish call.
func finishResult(span *model.Span) map[string]any {
	result := map[string]any{}
	if span.Outputs != nil {
		result["outputs"] = span.Outputs
	}
	if span.TokenUsage != nil {
		result["token_usage"] = span.TokenUsage
	}
	if span.Error != nil {
		result["error"] = span.Error
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func panicMessage(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	if s, ok := r.(string); ok {
		return s
	}
	return "panic"
}
