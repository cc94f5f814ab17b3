package trace

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiseki/internal/model"
)

func newSpan(name string) *model.Span {
	return &model.Span{Name: name}
}

func TestFromContextWithoutStack(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
}

func TestEnterExitNesting(t *testing.T) {
	ctx := NewContext(context.Background())
	s := FromContext(ctx)
	require.NotNil(t, s)

	outer := newSpan("outer")
	inner := newSpan("inner")

	s.Enter(outer)
	assert.Same(t, outer, s.Current())

	s.Enter(inner)
	assert.Same(t, inner, s.Current())
	assert.Equal(t, 2, s.Depth())

	assert.Same(t, inner, s.Exit())
	assert.Same(t, outer, s.Current())
	assert.Same(t, outer, s.Exit())
	assert.Nil(t, s.Current())
	assert.Nil(t, s.Exit())
}

func TestRunRestoresDepthOnReturn(t *testing.T) {
	ctx := NewContext(context.Background())
	s := FromContext(ctx)

	err := Run(ctx, newSpan("a"), func(ctx context.Context) error {
		assert.Equal(t, 1, FromContext(ctx).Depth())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Depth())
}

func TestRunRestoresDepthOnError(t *testing.T) {
	ctx := NewContext(context.Background())
	s := FromContext(ctx)

	wantErr := errors.New("nope")
	err := Run(ctx, newSpan("a"), func(context.Context) error { return wantErr })
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 0, s.Depth())
}

func TestRunRestoresDepthOnPanic(t *testing.T) {
	ctx := NewContext(context.Background())
	s := FromContext(ctx)
	s.Enter(newSpan("outer"))

	assert.Panics(t, func() {
		_ = Run(ctx, newSpan("inner"), func(ctx context.Context) error {
			// Leave an extra span open; the panic must not strand it.
			FromContext(ctx).Enter(newSpan("stranded"))
			panic("boom")
		})
	})
	assert.Equal(t, 1, s.Depth())
	assert.Equal(t, "outer", s.Current().Name)
}

func TestRunInstallsStackWhenAbsent(t *testing.T) {
	err := Run(context.Background(), newSpan("a"), func(ctx context.Context) error {
		require.NotNil(t, FromContext(ctx))
		assert.Equal(t, "a", FromContext(ctx).Current().Name)
		return nil
	})
	require.NoError(t, err)
}

func TestBranchIsolatesSiblings(t *testing.T) {
	ctx := NewContext(context.Background())
	root := newSpan("root")
	FromContext(ctx).Enter(root)

	left := Branch(ctx)
	right := Branch(ctx)

	// Each branch starts from the shared prefix...
	assert.Same(t, root, FromContext(left).Current())
	assert.Same(t, root, FromContext(right).Current())

	// ...but spans opened on one branch never leak to the other.
	FromContext(left).Enter(newSpan("left-child"))
	assert.Same(t, root, FromContext(right).Current())
	assert.Equal(t, 1, FromContext(ctx).Depth())
}

func TestBranchWithoutStack(t *testing.T) {
	ctx := Branch(context.Background())
	s := FromContext(ctx)
	require.NotNil(t, s)
	assert.Equal(t, 0, s.Depth())
}

func TestSnapshotIsDefensive(t *testing.T) {
	ctx := NewContext(context.Background())
	s := FromContext(ctx)
	s.Enter(newSpan("a"))

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	snap[0] = newSpan("mutated")

	assert.Equal(t, "a", s.Current().Name)
}
