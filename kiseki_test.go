package kiseki

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiseki/internal/transport"
)

type lockedBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

type traceLine struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func parseTraceLines(t *testing.T, out string) []traceLine {
	t.Helper()
	var lines []traceLine
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		text := sc.Text()
		require.True(t, strings.HasPrefix(text, transport.StdioMarker))
		var line traceLine
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(text, transport.StdioMarker)), &line))
		lines = append(lines, line)
	}
	return lines
}

func TestNewRequiresCredentialsForHTTP(t *testing.T) {
	t.Setenv("KISEKI_TRANSPORT", "http")
	t.Setenv("KISEKI_BASE_URL", "")
	t.Setenv("KISEKI_API_KEY", "")
	t.Setenv("KISEKI_SCHEMA_NAME", "")

	_, err := New()
	require.Error(t, err)
	assert.ErrorContains(t, err, "KISEKI_BASE_URL")
}

func TestOptionOverridesSatisfyValidation(t *testing.T) {
	t.Setenv("KISEKI_TRANSPORT", "http")
	t.Setenv("KISEKI_BASE_URL", "")
	t.Setenv("KISEKI_API_KEY", "")
	t.Setenv("KISEKI_SCHEMA_NAME", "")

	// Credentials supplied through options instead of env must pass the same
	// validation. Force stdio afterwards so New does not dial anything — the
	// point is that option merging happens before validation.
	sdk, err := New(
		WithBaseURL("https://collector.example"),
		WithAPIKey("key"),
		WithSchemaName("orders_v1"),
		WithStdioTransport(),
	)
	require.NoError(t, err)
	require.NoError(t, sdk.Close(context.Background()))
}

func TestStdioEndToEnd(t *testing.T) {
	t.Setenv("KISEKI_TRANSPORT", "stdio")

	var buf lockedBuffer
	sdk, err := New(WithWriter(&buf))
	require.NoError(t, err)

	sdk.RegisterSchema(map[string]any{"fields": []string{"question"}})
	sdk.StartInstance(InstanceOptions{AgentID: "agent-1"})

	ctx, root := sdk.StartSpan(context.Background(), SpanOptions{
		Name:     "run",
		SpanType: SpanTypeChain,
		Inputs:   map[string]any{"question": "why"},
	})
	ctx, child := sdk.StartSpan(ctx, SpanOptions{Name: "step", SpanType: SpanTypeLLM})

	assert.Equal(t, root.TraceID(), child.TraceID())
	assert.Equal(t, root.SpanID(), child.ParentSpanID())
	assert.Equal(t, uuid.Nil, root.ParentSpanID())

	sdk.EndSpan(ctx, child, EndOptions{TokenUsage: &TokenUsage{TotalTokens: 7}})
	sdk.EndSpan(ctx, root, EndOptions{Outputs: map[string]any{"answer": "because"}})

	sdk.FinishInstance()
	require.NoError(t, sdk.Close(context.Background()))

	lines := parseTraceLines(t, buf.String())
	var kinds []string
	for _, l := range lines {
		kinds = append(kinds, l.Type)
	}
	assert.Equal(t, []string{
		"schema_register",
		"agent_start",
		"span_end",    // root create
		"span_end",    // child create
		"span_finish", // child close
		"span_finish", // root close
		"agent_finish",
	}, kinds)
}

func TestCloseFinishesOpenInstance(t *testing.T) {
	t.Setenv("KISEKI_TRANSPORT", "stdio")

	var buf lockedBuffer
	sdk, err := New(WithWriter(&buf))
	require.NoError(t, err)

	sdk.StartInstance(InstanceOptions{})
	require.NoError(t, sdk.Close(context.Background()))

	lines := parseTraceLines(t, buf.String())
	require.Len(t, lines, 2)
	assert.Equal(t, "agent_start", lines[0].Type)
	assert.Equal(t, "agent_finish", lines[1].Type)
}

func TestEndSpanTwiceEmitsOneFinish(t *testing.T) {
	t.Setenv("KISEKI_TRANSPORT", "stdio")

	var buf lockedBuffer
	sdk, err := New(WithWriter(&buf))
	require.NoError(t, err)

	ctx, span := sdk.StartSpan(context.Background(), SpanOptions{Name: "op"})
	sdk.EndSpan(ctx, span, EndOptions{})
	sdk.EndSpan(ctx, span, EndOptions{})
	require.NoError(t, sdk.Close(context.Background()))

	var finishes int
	for _, l := range parseTraceLines(t, buf.String()) {
		if l.Type == "span_finish" {
			finishes++
		}
	}
	assert.Equal(t, 1, finishes)
}

func TestBranchIsolatesConcurrentSiblings(t *testing.T) {
	t.Setenv("KISEKI_TRANSPORT", "stdio")

	var buf lockedBuffer
	sdk, err := New(WithWriter(&buf))
	require.NoError(t, err)
	defer sdk.Close(context.Background())

	ctx, root := sdk.StartSpan(context.Background(), SpanOptions{Name: "root"})

	var wg sync.WaitGroup
	children := make([]*Span, 4)
	for i := range children {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			branchCtx := Branch(ctx)
			branchCtx, span := sdk.StartSpan(branchCtx, SpanOptions{Name: "worker"})
			children[i] = span
			sdk.EndSpan(branchCtx, span, EndOptions{})
		}(i)
	}
	wg.Wait()

	for _, child := range children {
		assert.Equal(t, root.TraceID(), child.TraceID())
		// Every sibling parents to the root, never to another sibling.
		assert.Equal(t, root.SpanID(), child.ParentSpanID())
	}
	sdk.EndSpan(ctx, root, EndOptions{})
}

type countingExporter struct {
	mu       sync.Mutex
	spans    []SpanData
	finishes []uuid.UUID
	closed   bool
}

func (c *countingExporter) ExportSpan(s SpanData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spans = append(c.spans, s)
}

func (c *countingExporter) ExportSpanFinish(id uuid.UUID, _ time.Time, _ Status, _ map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishes = append(c.finishes, id)
}

func (c *countingExporter) StartInstance(InstanceOptions) {}
func (c *countingExporter) FinishInstance()               {}
func (c *countingExporter) RegisterSchema(any)            {}

func (c *countingExporter) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestCustomExporterReplacesTransport(t *testing.T) {
	// No credentials anywhere: an exporter bypasses HTTP validation.
	t.Setenv("KISEKI_TRANSPORT", "http")
	t.Setenv("KISEKI_BASE_URL", "")
	t.Setenv("KISEKI_API_KEY", "")
	t.Setenv("KISEKI_SCHEMA_NAME", "")

	exp := &countingExporter{}
	sdk, err := New(WithExporter(exp))
	require.NoError(t, err)

	ctx, span := sdk.StartSpan(context.Background(), SpanOptions{Name: "op", SpanType: SpanTypeTool})
	sdk.EndSpan(ctx, span, EndOptions{})
	require.NoError(t, sdk.Close(context.Background()))

	require.Len(t, exp.spans, 1)
	assert.Equal(t, "op", exp.spans[0].Name)
	assert.Equal(t, StatusRunning, exp.spans[0].Status)
	require.Len(t, exp.finishes, 1)
	assert.Equal(t, span.SpanID(), exp.finishes[0])
	assert.True(t, exp.closed)
}
