package retry

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		base     time.Duration
		attempt  int
		expected time.Duration
	}{
		{"attempt 0 returns base", 100 * time.Millisecond, 0, 100 * time.Millisecond},
		{"attempt 1 doubles base", 100 * time.Millisecond, 1, 200 * time.Millisecond},
		{"attempt 3 is 8x base", 100 * time.Millisecond, 3, 800 * time.Millisecond},
		{"negative attempt treated as 0", 100 * time.Millisecond, -5, 100 * time.Millisecond},
		{"zero base returns 0", 0, 5, 0},
		{"overflow saturates", time.Hour, 62, time.Duration(math.MaxInt64)},
		{"very large attempt saturates", time.Millisecond, math.MaxInt32, time.Duration(math.MaxInt64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, Exponential(tt.base, tt.attempt))
		})
	}
}

func TestDelay(t *testing.T) {
	t.Parallel()

	base := 10 * time.Millisecond
	assert.Equal(t, 10*time.Millisecond, Delay(base, time.Second, 1))
	assert.Equal(t, 20*time.Millisecond, Delay(base, time.Second, 2))
	assert.Equal(t, 40*time.Millisecond, Delay(base, time.Second, 3))
	assert.Equal(t, 50*time.Millisecond, Delay(base, 50*time.Millisecond, 4))
	assert.Equal(t, 80*time.Millisecond, Delay(base, 0, 4), "zero max means uncapped")
}

func TestEqualJitter(t *testing.T) {
	t.Parallel()

	delay := 100 * time.Millisecond
	for i := 0; i < 1000; i++ {
		got := EqualJitter(delay)
		require.GreaterOrEqual(t, got, delay/2)
		require.Less(t, got, delay)
	}

	assert.Equal(t, time.Duration(0), EqualJitter(0))
	assert.Equal(t, time.Duration(0), EqualJitter(-time.Second))
	assert.Equal(t, time.Duration(1), EqualJitter(1))
}

func TestSleepWithContext(t *testing.T) {
	t.Parallel()

	t.Run("completes", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, SleepWithContext(context.Background(), time.Millisecond))
	})

	t.Run("zero duration returns immediately", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, SleepWithContext(context.Background(), 0))
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := SleepWithContext(ctx, time.Hour)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
