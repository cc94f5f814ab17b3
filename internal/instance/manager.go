// Package instance manages the agent instance lifecycle: schema registration
// and the started/finished gate the transport's bookkeeping depends on.
package instance

import (
	"log/slog"
	"sync"

	"github.com/ashita-ai/kiseki/internal/model"
	"github.com/ashita-ai/kiseki/internal/transport"
)

// Manager is the public-facing gate over agent instance commands. Commands
// are forwarded to the transport fire-and-forget; the transport's queue
// worker performs the actual registration.
type Manager struct {
	transport transport.Transport
	logger    *slog.Logger

	mu      sync.Mutex
	started bool
}

// New creates a Manager over the given transport.
func New(t transport.Transport, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{transport: t, logger: logger}
}

// RegisterSchema declares the span payload schema for the agent version.
// Registering a different schema than before forces the next StartInstance
// to carry a new identifier.
func (m *Manager) RegisterSchema(schema any) {
	m.transport.RegisterSchema(schema)
}

// StartInstance starts an agent instance. A second start without an
// intervening FinishInstance is dropped with a logged warning.
func (m *Manager) StartInstance(opts model.AgentStartOptions) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		m.logger.Warn("instance: already started, ignoring duplicate start")
		return
	}
	m.started = true
	m.mu.Unlock()

	m.transport.StartInstance(opts)
}

// FinishInstance finishes the current instance. Safe to call without a
// preceding start — the transport ignores a finish with nothing registered.
func (m *Manager) FinishInstance() {
	m.mu.Lock()
	m.started = false
	m.mu.Unlock()

	m.transport.FinishInstance()
}

// Started reports whether an instance start has been issued and not yet
// finished.
func (m *Manager) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}
