package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManual_Advance(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	clk := NewManual(base)

	assert.Equal(t, base, clk.Now())

	ch := clk.After(10 * time.Second)
	require.Equal(t, 1, clk.Waiters())

	// Partial advance does not fire.
	clk.Advance(9 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	clk.Advance(time.Second)
	select {
	case now := <-ch:
		assert.Equal(t, base.Add(10*time.Second), now)
	default:
		t.Fatal("did not fire at deadline")
	}
	assert.Equal(t, 0, clk.Waiters())
}

func TestManual_AfterNonPositive(t *testing.T) {
	clk := NewManual(time.Unix(0, 0))
	select {
	case <-clk.After(0):
	default:
		t.Fatal("zero-duration After must fire immediately")
	}
}

func TestManual_SleepCancelled(t *testing.T) {
	clk := NewManual(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- clk.Sleep(ctx, time.Hour) }()

	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	// The abandoned waiter is deregistered, not left pending forever.
	assert.Equal(t, 0, clk.Waiters())
}

func TestManual_SleepCompletes(t *testing.T) {
	clk := NewManual(time.Unix(0, 0))

	done := make(chan error, 1)
	go func() { done <- clk.Sleep(context.Background(), time.Minute) }()

	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, time.Second, time.Millisecond)
	clk.Advance(time.Minute)
	require.NoError(t, <-done)
}

func TestReal_SleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Real{}.Sleep(ctx, time.Hour), context.Canceled)
	require.NoError(t, Real{}.Sleep(context.Background(), 0))
}
