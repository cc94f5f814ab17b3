package transport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiseki/internal/api"
	"github.com/ashita-ai/kiseki/internal/model"
	"github.com/ashita-ai/kiseki/internal/queue"
)

// spanState tracks a span through the reconciliation lifecycle:
// tracked → (deferred →) confirmed, or failed when the create call gave up.
type spanState int

const (
	spanStateTracked   spanState = iota // seen locally, create not yet succeeded
	spanStateDeferred                   // parked until the parent is confirmed
	spanStateConfirmed                  // backend id assigned
	spanStateFailed                     // create failed after retries
)

func (s spanState) String() string {
	switch s {
	case spanStateTracked:
		return "tracked"
	case spanStateDeferred:
		return "deferred"
	case spanStateConfirmed:
		return "confirmed"
	case spanStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// spanRecord is the per-span reconciliation entry. A record may exist before
// its span arrives: a child or a finish can reference a span id the worker
// has not processed yet.
type spanRecord struct {
	span      *model.Span // nil until the span's own SpanEnd is processed
	state     spanState
	backendID string

	// children holds span ids deferred until this span is confirmed.
	children []uuid.UUID

	// finish holds a parked finish awaiting this span's confirmation.
	finish *model.SpanFinish
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	// Agent identity merged with AgentStart options.
	AgentID          string
	AgentIdentifier  string // agent_version.external_identifier
	AgentName        string
	AgentDescription string

	// SchemaName is sent with every span create.
	SchemaName string

	// Queue settings.
	QueueMaxRetries  int
	QueueRetryDelay  time.Duration
	QueueMaxCapacity int

	// Clock is injectable for tests; defaults to time.Now UTC.
	Clock func() time.Time
}

// HTTP exports actions to the collector through a single-worker queue. The
// processor makes the backend's synchronous, id-returning create semantics
// behave under asynchronous, order-unpredictable, partial-failure conditions:
// children arriving before their parent's create response are parked, and
// finishes arriving before the create are parked, both released on
// confirmation.
type HTTP struct {
	api    *api.Requester
	cfg    HTTPConfig
	logger *slog.Logger
	queue  *queue.Executor
	clock  func() time.Time

	// Reconciliation state. Owned exclusively by the single queue worker's
	// execution; the worker count is fixed at 1, so no locking is needed.
	instanceID            string
	records               map[uuid.UUID]*spanRecord
	previousSchema        string // canonical JSON of the last registered schema
	schemaVersion         string
	requiresNewIdentifier bool
	previousIdentifier    string
}

// NewHTTP creates the HTTP transport. Call Start before use.
func NewHTTP(requester *api.Requester, cfg HTTPConfig, logger *slog.Logger) *HTTP {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	if cfg.QueueRetryDelay <= 0 {
		cfg.QueueRetryDelay = 200 * time.Millisecond
	}

	t := &HTTP{
		api:     requester,
		cfg:     cfg,
		logger:  logger,
		clock:   cfg.Clock,
		records: make(map[uuid.UUID]*spanRecord),
	}
	t.queue = queue.New(t.process, queue.Config{
		Workers:     1, // reconciliation state is lock-free by single-worker ownership
		MaxRetries:  cfg.QueueMaxRetries,
		RetryDelay:  func(int) time.Duration { return cfg.QueueRetryDelay },
		MaxCapacity: cfg.QueueMaxCapacity,
		OnError:     t.onActionDropped,
	}, logger)
	return t
}

// Start launches the queue worker.
func (t *HTTP) Start(ctx context.Context) {
	t.queue.Start(ctx)
}

// Emit enqueues the span's create. The span is snapshotted so the caller
// finishing it later does not race the worker.
func (t *HTTP) Emit(span *model.Span) {
	t.queue.Enqueue(model.SpanEnd{Span: span.Clone()})
}

// FinishSpan enqueues the closing update for a span.
func (t *HTTP) FinishSpan(spanID uuid.UUID, endTime time.Time, status model.SpanStatus, result map[string]any) {
	t.queue.Enqueue(model.SpanFinish{SpanID: spanID, EndTime: endTime, Status: status, Result: result})
}

// StartInstance enqueues agent registration and start.
func (t *HTTP) StartInstance(opts model.AgentStartOptions) {
	t.queue.Enqueue(model.AgentStart{Options: opts})
}

// FinishInstance enqueues the instance finish.
func (t *HTTP) FinishInstance() {
	t.queue.Enqueue(model.AgentFinish{Timestamp: t.clock()})
}

// RegisterSchema enqueues a schema registration.
func (t *HTTP) RegisterSchema(schema any) {
	t.queue.Enqueue(model.SchemaRegister{Schema: schema})
}

// Close drains the queue within ctx's deadline, then discards whatever is
// still parked in the reconciliation maps — with counts, never silently.
func (t *HTTP) Close(ctx context.Context) error {
	err := t.queue.Close(ctx)

	var deferred, parkedFinishes, failed int
	for _, rec := range t.records {
		switch rec.state {
		case spanStateDeferred:
			deferred++
		case spanStateFailed:
			failed++
		case spanStateTracked, spanStateConfirmed:
		}
		if rec.finish != nil && rec.state != spanStateConfirmed {
			parkedFinishes++
		}
	}
	if deferred > 0 || parkedFinishes > 0 || failed > 0 {
		t.logger.Warn("transport: discarding unresolved spans at close",
			"deferred_children", deferred,
			"pending_finishes", parkedFinishes,
			"failed_creates", failed,
		)
	}
	t.records = make(map[uuid.UUID]*spanRecord)
	t.instanceID = ""
	return err
}

// process is the queue handler: one exhaustive switch over the action union.
// A returned error triggers the queue's bounded per-item retry; errors never
// stop the worker loop.
func (t *HTTP) process(ctx context.Context, action model.Action) error {
	switch a := action.(type) {
	case model.SchemaRegister:
		return t.handleSchemaRegister(a)
	case model.AgentStart:
		return t.handleAgentStart(ctx, a)
	case model.AgentFinish:
		return t.handleAgentFinish(ctx, a)
	case model.SpanEnd:
		return t.handleSpanEnd(ctx, a.Span)
	case model.SpanFinish:
		return t.handleSpanFinish(ctx, a)
	default:
		return fmt.Errorf("transport: unknown action type %T", action)
	}
}

// onActionDropped records permanent failures so deferred descendants are
// accounted for at close instead of waiting forever.
func (t *HTTP) onActionDropped(action model.Action, err error) {
	if a, ok := action.(model.SpanEnd); ok {
		rec := t.record(a.Span.SpanID)
		if rec.state != spanStateConfirmed {
			rec.state = spanStateFailed
		}
	}
	_ = err // already logged by the queue
}

// handleSchemaRegister compares the canonical form of the schema against the
// previously registered one. A change invalidates the current instance and
// arms the new-identifier gate: new-shaped spans must never silently attach
// to an old agent-version record.
func (t *HTTP) handleSchemaRegister(a model.SchemaRegister) error {
	canonical, err := json.Marshal(a.Schema)
	if err != nil {
		t.logger.Error("transport: schema is not serializable, registration dropped", "error", err)
		return nil
	}

	current := string(canonical)
	if t.previousSchema != "" && t.previousSchema != current {
		t.logger.Warn("transport: agent schema changed, invalidating instance",
			"previous_identifier", t.cfg.AgentIdentifier)
		t.requiresNewIdentifier = true
		t.previousIdentifier = t.cfg.AgentIdentifier
		t.instanceID = ""
	}
	t.previousSchema = current

	sum := sha256.Sum256(canonical)
	t.schemaVersion = hex.EncodeToString(sum[:8])
	return nil
}

// handleAgentStart merges caller identity into the transport config, then
// registers (idempotently) and starts the instance. When the schema-change
// gate is armed, a start that does not supply a fresh identifier is refused
// and dropped rather than registering under a stale identity.
func (t *HTTP) handleAgentStart(ctx context.Context, a model.AgentStart) error {
	if t.requiresNewIdentifier {
		identifier := a.Options.Identifier
		if identifier == "" || identifier == t.previousIdentifier {
			t.logger.Error("transport: agent schema changed — agent_start must supply a new identifier, start refused",
				"previous_identifier", t.previousIdentifier,
				"supplied_identifier", identifier,
			)
			return nil
		}
		t.requiresNewIdentifier = false
	}

	if a.Options.AgentID != "" {
		t.cfg.AgentID = a.Options.AgentID
	}
	if a.Options.Identifier != "" {
		t.cfg.AgentIdentifier = a.Options.Identifier
	}
	if a.Options.Name != "" {
		t.cfg.AgentName = a.Options.Name
	}
	if a.Options.Description != "" {
		t.cfg.AgentDescription = a.Options.Description
	}

	if err := t.ensureRegistered(ctx); err != nil {
		return err
	}
	return t.api.StartInstance(ctx, t.instanceID, t.clock())
}

// handleAgentFinish finishes the current instance and clears it: an agent
// instance is a bounded-lifetime unit of work, so subsequent spans force
// re-registration.
func (t *HTTP) handleAgentFinish(ctx context.Context, a model.AgentFinish) error {
	if t.instanceID == "" {
		t.logger.Debug("transport: agent_finish with no registered instance, ignored")
		return nil
	}
	if err := t.api.FinishInstance(ctx, t.instanceID, a.Timestamp); err != nil {
		return err
	}
	t.instanceID = ""
	return nil
}

// handleSpanEnd sends a span create, deferring it when its parent has not
// been confirmed yet. Deferral is not a queue retry: the span is released by
// the parent's confirmation, so later-enqueued siblings are never blocked.
func (t *HTTP) handleSpanEnd(ctx context.Context, span *model.Span) error {
	if t.requiresNewIdentifier {
		// Schema changed and no agent_start with a new identifier has
		// arrived; sending now would attach new-shaped spans to a stale
		// agent version. Fail loudly instead.
		return fmt.Errorf("transport: schema changed, span sends blocked until agent_start supplies a new identifier")
	}

	if err := t.ensureRegistered(ctx); err != nil {
		return err
	}

	rec := t.record(span.SpanID)
	if rec.state == spanStateConfirmed {
		t.logger.Debug("transport: duplicate span create ignored", "span_id", span.SpanID)
		return nil
	}
	rec.span = span

	if span.ParentSpanID != nil {
		parent := t.record(*span.ParentSpanID)
		if parent.state != spanStateConfirmed {
			rec.state = spanStateDeferred
			parent.children = append(parent.children, span.SpanID)
			t.logger.Debug("transport: span deferred until parent is confirmed",
				"span_id", span.SpanID, "parent_span_id", *span.ParentSpanID, "parent_state", parent.state.String())
			return nil
		}
	}

	return t.sendSpan(ctx, rec)
}

// handleSpanFinish applies the finish when the span is already confirmed,
// and parks it otherwise; the parked finish is flushed by the span's own
// confirmation.
func (t *HTTP) handleSpanFinish(ctx context.Context, a model.SpanFinish) error {
	rec := t.record(a.SpanID)
	if rec.state == spanStateConfirmed {
		return t.finishConfirmed(ctx, rec, a)
	}
	rec.finish = &a
	t.logger.Debug("transport: finish parked until span is confirmed",
		"span_id", a.SpanID, "state", rec.state.String())
	return nil
}

// sendSpan performs the create call for a record whose parent (if any) is
// confirmed. On success it flushes the parked finish and releases deferred
// children, which lets grandchildren release transitively.
func (t *HTTP) sendSpan(ctx context.Context, rec *spanRecord) error {
	span := rec.span

	var parentBackendID *string
	if span.ParentSpanID != nil {
		parent := t.record(*span.ParentSpanID)
		id := parent.backendID
		parentBackendID = &id
	}

	backendID, err := t.api.CreateSpan(ctx, api.SpanDetails{
		AgentInstanceID: t.instanceID,
		SchemaName:      t.cfg.SchemaName,
		Status:          string(span.Status),
		Payload:         spanPayload(span),
		ResultPayload:   spanResultPayload(span),
		ParentSpanID:    parentBackendID,
		StartedAt:       span.StartTime,
		FinishedAt:      span.EndTime,
	})
	if err != nil {
		return err
	}

	rec.backendID = backendID
	rec.state = spanStateConfirmed

	if rec.finish != nil {
		finish := *rec.finish
		rec.finish = nil
		if err := t.finishConfirmed(ctx, rec, finish); err != nil {
			t.logger.Warn("transport: flushing parked finish failed",
				"span_id", span.SpanID, "error", err)
		}
	}

	children := rec.children
	rec.children = nil
	for _, childID := range children {
		child := t.record(childID)
		if child.state != spanStateDeferred || child.span == nil {
			continue
		}
		child.state = spanStateTracked
		if err := t.sendSpan(ctx, child); err != nil {
			child.state = spanStateFailed
			t.logger.Warn("transport: releasing deferred child failed",
				"span_id", childID, "parent_span_id", span.SpanID, "error", err)
		}
	}

	return nil
}

func (t *HTTP) finishConfirmed(ctx context.Context, rec *spanRecord, finish model.SpanFinish) error {
	return t.api.FinishSpan(ctx, rec.backendID, api.FinishSpanRequest{
		Timestamp:     finish.EndTime,
		Status:        string(finish.Status),
		ResultPayload: finish.Result,
	})
}

// ensureRegistered lazily registers the agent instance: the first span of a
// run may arrive before any explicit agent_start.
func (t *HTTP) ensureRegistered(ctx context.Context) error {
	if t.instanceID != "" {
		return nil
	}

	req := api.RegisterInstanceRequest{
		AgentID:            t.cfg.AgentID,
		AgentSchemaVersion: t.schemaVersion,
	}
	if t.cfg.AgentIdentifier != "" {
		req.AgentVersion = &api.AgentVersion{
			ExternalIdentifier: t.cfg.AgentIdentifier,
			Name:               t.cfg.AgentName,
			Description:        t.cfg.AgentDescription,
		}
	}

	id, err := t.api.RegisterInstance(ctx, req)
	if err != nil {
		return err
	}
	t.instanceID = id
	t.logger.Info("transport: agent instance registered", "instance_id", id)
	return nil
}

// record returns the reconciliation entry for a span id, creating a
// placeholder when the id has not been seen yet.
func (t *HTTP) record(spanID uuid.UUID) *spanRecord {
	rec, ok := t.records[spanID]
	if !ok {
		rec = &spanRecord{state: spanStateTracked}
		t.records[spanID] = rec
	}
	return rec
}

// spanPayload is the create-time payload: identity and inputs.
func spanPayload(span *model.Span) map[string]any {
	payload := map[string]any{
		"span_id":   span.SpanID.String(),
		"trace_id":  span.TraceID.String(),
		"name":      span.Name,
		"span_type": span.SpanType,
	}
	if span.Inputs != nil {
		payload["inputs"] = span.Inputs
	}
	if span.Metadata != nil {
		payload["metadata"] = span.Metadata
	}
	if len(span.Tags) > 0 {
		payload["tags"] = span.Tags
	}
	return payload
}

// spanResultPayload is non-nil only for spans that were already finished
// when emitted (their close rode along with the create).
func spanResultPayload(span *model.Span) map[string]any {
	if !span.Finished() {
		return nil
	}
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
