package instance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/kiseki/internal/model"
)

type countingTransport struct {
	mu       sync.Mutex
	starts   []model.AgentStartOptions
	finishes int
	schemas  []any
}

func (c *countingTransport) Emit(*model.Span) {}
func (c *countingTransport) FinishSpan(uuid.UUID, time.Time, model.SpanStatus, map[string]any) {}

func (c *countingTransport) StartInstance(opts model.AgentStartOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts = append(c.starts, opts)
}

func (c *countingTransport) FinishInstance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishes++
}

func (c *countingTransport) RegisterSchema(schema any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schemas = append(c.schemas, schema)
}

func (c *countingTransport) Close(context.Context) error { return nil }

func TestDuplicateStartIsDropped(t *testing.T) {
	tr := &countingTransport{}
	m := New(tr, nil)

	m.StartInstance(model.AgentStartOptions{AgentID: "a"})
	m.StartInstance(model.AgentStartOptions{AgentID: "b"})

	assert.Len(t, tr.starts, 1)
	assert.Equal(t, "a", tr.starts[0].AgentID)
	assert.True(t, m.Started())
}

func TestStartAfterFinishIsAllowed(t *testing.T) {
	tr := &countingTransport{}
	m := New(tr, nil)

	m.StartInstance(model.AgentStartOptions{})
	m.FinishInstance()
	assert.False(t, m.Started())

	m.StartInstance(model.AgentStartOptions{})
	assert.Len(t, tr.starts, 2)
	assert.Equal(t, 1, tr.finishes)
}

func TestFinishWithoutStartIsForwarded(t *testing.T) {
	tr := &countingTransport{}
	m := New(tr, nil)

	// The transport decides what a finish with no instance means; the manager
	// just clears its gate.
	m.FinishInstance()
	assert.Equal(t, 1, tr.finishes)
	assert.False(t, m.Started())
}

func TestRegisterSchemaForwards(t *testing.T) {
	tr := &countingTransport{}
	m := New(tr, nil)

	schema := map[string]any{"fields": []string{"a"}}
	m.RegisterSchema(schema)
	assert.Len(t, tr.schemas, 1)
}
