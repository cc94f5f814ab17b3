package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiseki/internal/model"
)

// syncBuffer serializes writes the way a real os.Stdout would under the
// transport's lock.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func decodeLines(t *testing.T, out string) []map[string]any {
	t.Helper()
	var lines []map[string]any
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		require.True(t, strings.HasPrefix(line, StdioMarker), "line missing marker: %q", line)
		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, StdioMarker)), &decoded))
		lines = append(lines, decoded)
	}
	return lines
}

func TestStdioEmitsMarkerPrefixedJSON(t *testing.T) {
	var buf syncBuffer
	tr := NewStdio(&buf, nil)

	span := &model.Span{
		SpanID:    uuid.New(),
		TraceID:   uuid.New(),
		Name:      "op",
		SpanType:  model.SpanTypeLLM,
		StartTime: time.Now().UTC(),
		Status:    model.SpanStatusRunning,
	}
	tr.Emit(span)

	lines := decodeLines(t, buf.String())
	require.Len(t, lines, 1)
	assert.Equal(t, "span_end", lines[0]["type"])

	data := lines[0]["data"].(map[string]any)
	spanData := data["span"].(map[string]any)
	assert.Equal(t, span.SpanID.String(), spanData["span_id"])
	assert.Equal(t, "op", spanData["name"])
	assert.Equal(t, "running", spanData["status"])
}

func TestStdioActionOrder(t *testing.T) {
	var buf syncBuffer
	tr := NewStdio(&buf, nil)

	tr.RegisterSchema(map[string]any{"fields": []string{"a"}})
	tr.StartInstance(model.AgentStartOptions{AgentID: "agent-1"})
	span := &model.Span{SpanID: uuid.New(), TraceID: uuid.New(), Name: "op", Status: model.SpanStatusRunning}
	tr.Emit(span)
	tr.FinishSpan(span.SpanID, time.Now(), model.SpanStatusSuccess, map[string]any{"outputs": map[string]any{"x": 1}})
	tr.FinishInstance()

	lines := decodeLines(t, buf.String())
	require.Len(t, lines, 5)

	var kinds []string
	for _, l := range lines {
		kinds = append(kinds, l["type"].(string))
	}
	assert.Equal(t, []string{"schema_register", "agent_start", "span_end", "span_finish", "agent_finish"}, kinds)
}

func TestStdioConcurrentWritesNeverInterleave(t *testing.T) {
	var buf syncBuffer
	tr := NewStdio(&buf, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				span := &model.Span{SpanID: uuid.New(), TraceID: uuid.New(), Name: "op", Status: model.SpanStatusRunning}
				tr.Emit(span)
			}
		}()
	}
	wg.Wait()

	// Every line must decode on its own: torn or interleaved writes would
	// break JSON framing.
	lines := decodeLines(t, buf.String())
	assert.Len(t, lines, 500)
}

func TestStdioCloseIsNoOp(t *testing.T) {
	var buf syncBuffer
	tr := NewStdio(&buf, nil)
	require.NoError(t, tr.Close(context.Background()))
}
