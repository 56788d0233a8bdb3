package timeout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardReturnsRoutineResult(t *testing.T) {
	sentinel := errors.New("boom")
	g := Guard{Name: "iteration", Timeout: time.Second}

	require.NoError(t, g.Run(context.Background(), func(ctx context.Context) error { return nil }))
	assert.ErrorIs(t, g.Run(context.Background(), func(ctx context.Context) error { return sentinel }), sentinel)
}

func TestGuardTimesOutNonCooperativeRoutine(t *testing.T) {
	g := Guard{Name: "iteration", Timeout: 50 * time.Millisecond, Message: "raise the budget"}
	block := make(chan struct{})
	defer close(block)

	start := time.Now()
	err := g.Run(context.Background(), func(ctx context.Context) error {
		<-block
		return nil
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Contains(t, err.Error(), "raise the budget")
	assert.Less(t, elapsed, time.Second)

	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 50*time.Millisecond, te.After)
}

func TestGuardCancelsRoutineContextOnTimeout(t *testing.T) {
	g := Guard{Timeout: 20 * time.Millisecond}
	cancelled := make(chan struct{})

	err := g.Run(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	require.True(t, IsTimeout(err))

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("routine context was not cancelled")
	}
}

func TestGuardUnboundedRunsInline(t *testing.T) {
	g := Guard{}
	ran := false
	require.NoError(t, g.Run(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
	assert.False(t, g.Bounded())
}

func TestGuardRecoversPanic(t *testing.T) {
	for _, g := range []Guard{{}, {Timeout: time.Second}} {
		err := g.Run(context.Background(), func(ctx context.Context) error { panic("bad routine") })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad routine")
		assert.False(t, IsTimeout(err))
	}
}

func TestGuardParentCancellationIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := Guard{Timeout: time.Second}
	err := g.Run(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTimeout(err))
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, time.Duration(0), Seconds(nil))
	zero := 0.0
	assert.Equal(t, time.Duration(0), Seconds(&zero))
	half := 1.5
	assert.Equal(t, 1500*time.Millisecond, Seconds(&half))
}
