// Copyright 2025 James Ross
package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireBlocksUntilSlotFrees(t *testing.T) {
	l := New(1000, 1)
	ctx := context.Background()

	release1, err := l.Acquire(ctx)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		release2, err := l.Acquire(ctx)
		require.NoError(t, err)
		close(acquired)
		release2()
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire should not complete while the only slot is held")
	case <-time.After(50 * time.Millisecond):
	}

	release1()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire did not complete after release")
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	l := New(1000, 1)
	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegistryGetUnregisteredReturnsNil(t *testing.T) {
	r := NewRegistry()
	require.Nil(t, r.Get("unknown"))

	l := New(10, 1)
	r.Register("llm", l)
	require.Same(t, l, r.Get("llm"))
}
