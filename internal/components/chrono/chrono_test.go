package chrono

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStandardSleepInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := NewStandardImpl().Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second)
}

func TestStandardSleepCompletes(t *testing.T) {
	err := NewStandardImpl().Sleep(context.Background(), time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, NewStandardImpl().Sleep(context.Background(), 0))
}

func TestFakeAdvancesClock(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fake := NewFakeImpl(start)

	require.NoError(t, fake.Sleep(context.Background(), 2*time.Second))
	require.NoError(t, fake.Sleep(context.Background(), 4*time.Second))
	require.Equal(t, start.Add(6*time.Second), fake.Now())
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, fake.Sleeps())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, fake.Sleep(ctx, time.Second), context.Canceled)
	require.Len(t, fake.Sleeps(), 2)
}
