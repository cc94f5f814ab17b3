// Package trace provides the span lifecycle API: the per-flow stack of open
// spans used to infer parent/child nesting, and the Tracer that stamps spans
// and forwards them to a transport.
package trace

import (
	"context"
	"sync"

	"github.com/ashita-ai/kiseki/internal/model"
)

type stackKey struct{}

// Stack is the ordered set of currently-open spans for one logical flow of
// execution. It travels inside a context.Context, so the flow's suspension
// points carry it implicitly; concurrent sibling flows get isolated copies
// via Branch. The mutex covers Enter/Exit pairs issued from framework hooks
// that may resume on a different goroutine of the same flow.
type Stack struct {
	mu    sync.Mutex
	spans []*model.Span
}

// NewContext returns ctx carrying a fresh, empty stack.
func NewContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, stackKey{}, &Stack{})
}

// FromContext returns the flow's stack, or nil when ctx carries none.
func FromContext(ctx context.Context) *Stack {
	s, _ := ctx.Value(stackKey{}).(*Stack)
	return s
}

// ensure returns ctx's stack, installing a fresh one when absent.
func ensure(ctx context.Context) (context.Context, *Stack) {
	if s := FromContext(ctx); s != nil {
		return ctx, s
	}
	s := &Stack{}
	return context.WithValue(ctx, stackKey{}, s), s
}

// Branch returns a context whose stack is an independent copy of ctx's:
// from this point the branches diverge, and a child span opened on one
// branch is never visible to a sibling. Hand the returned context to the
// goroutine running the branch.
func Branch(ctx context.Context) context.Context {
	src := FromContext(ctx)
	if src == nil {
		return NewContext(ctx)
	}
	branch := &Stack{spans: src.Snapshot()}
	return context.WithValue(ctx, stackKey{}, branch)
}

// Enter pushes a span without scoping to a callback. The caller is
// responsible for a balanced Exit — used when a suspension crosses hook
// boundaries managed by an external framework.
func (s *Stack) Enter(span *model.Span) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spans = append(s.spans, span)
}

// Exit pops the top of the stack and returns it, or nil when empty.
func (s *Stack) Exit() *model.Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.spans) == 0 {
		return nil
	}
	top := s.spans[len(s.spans)-1]
	s.spans = s.spans[:len(s.spans)-1]
	return top
}

// Current returns the top of the stack, or nil when no span is open.
func (s *Stack) Current() *model.Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.spans) == 0 {
		return nil
	}
	return s.spans[len(s.spans)-1]
}

// Snapshot returns a defensive copy of the stack, bottom first. Mutating it
// does not affect the live stack.
func (s *Stack) Snapshot() []*model.Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Span(nil), s.spans...)
}

// Depth returns the number of open spans.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spans)
}

// truncate restores the stack to depth n, dropping anything above it.
func (s *Stack) truncate(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if len(s.spans) > n {
		s.spans = s.spans[:n]
	}
}

// Run executes fn with span pushed on ctx's stack, restoring the stack to
// its pre-call depth on every exit path — normal return, error, or panic.
func Run(ctx context.Context, span *model.Span, fn func(ctx context.Context) error) error {
	ctx, s := ensure(ctx)
	depth := s.Depth()
	s.Enter(span)
	defer s.truncate(depth)
	return fn(ctx)
}
