package syncsem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewClampsCapacityToOne(t *testing.T) {
	s := New(0)
	require.Equal(t, 1, s.Cap())

	s = New(-5)
	require.Equal(t, 1, s.Cap())
}

func TestAcquireBlocksWhenFull(t *testing.T) {
	s := New(1)
	require.NoError(t, s.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReleaseFreesASlot(t *testing.T) {
	s := New(1)
	require.NoError(t, s.Acquire(context.Background()))
	s.Release()

	require.NoError(t, s.Acquire(context.Background()))
}

func TestReleaseWithoutAcquireIsNoop(t *testing.T) {
	s := New(2)
	s.Release()

	require.NoError(t, s.Acquire(context.Background()))
	require.NoError(t, s.Acquire(context.Background()))
}
