package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiseki/internal/model"
)

// StdioMarker prefixes every action line so downstream consumers can pick
// trace lines out of mixed stdout.
const StdioMarker = "KISEKI_TRACE "

// stdioLine is the one-object-per-line wire format of the stdio transport.
type stdioLine struct {
	Type string       `json:"type"`
	Data model.Action `json:"data"`
}

// Stdio is the degenerate transport: every action becomes one marker-prefixed
// JSON line on the writer, in strict call order. No network, no retry, no
// reconciliation. A write lock guarantees lines never interleave even under
// concurrent emit calls.
type Stdio struct {
	mu     sync.Mutex
	w      io.Writer
	logger *slog.Logger
	clock  func() time.Time
}

// NewStdio creates a stdout transport. A nil writer defaults to os.Stdout.
func NewStdio(w io.Writer, logger *slog.Logger) *Stdio {
	if w == nil {
		w = os.Stdout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stdio{w: w, logger: logger, clock: func() time.Time { return time.Now().UTC() }}
}

func (t *Stdio) Emit(span *model.Span) {
	t.write(model.SpanEnd{Span: span.Clone()})
}

func (t *Stdio) FinishSpan(spanID uuid.UUID, endTime time.Time, status model.SpanStatus, result map[string]any) {
	t.write(model.SpanFinish{SpanID: spanID, EndTime: endTime, Status: status, Result: result})
}

func (t *Stdio) StartInstance(opts model.AgentStartOptions) {
	t.write(model.AgentStart{Options: opts})
}

func (t *Stdio) FinishInstance() {
	t.write(model.AgentFinish{Timestamp: t.clock()})
}

func (t *Stdio) RegisterSchema(schema any) {
	t.write(model.SchemaRegister{Schema: schema})
}

// Close is a no-op: every write is flushed synchronously.
func (t *Stdio) Close(context.Context) error { return nil }

// write serializes the action and writes marker+line+newline as a single
// Write call under the lock.
func (t *Stdio) write(action model.Action) {
	encoded, err := json.Marshal(stdioLine{Type: action.Kind(), Data: action})
	if err != nil {
		t.logger.Error("stdio transport: marshal action failed", "action", action.Kind(), "error", err)
		return
	}

	line := make([]byte, 0, len(StdioMarker)+len(encoded)+1)
	line = append(line, StdioMarker...)
	line = append(line, encoded...)
	line = append(line, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.w.Write(line); err != nil {
		t.logger.Error("stdio transport: write failed", "action", action.Kind(), "error", err)
	}
}
