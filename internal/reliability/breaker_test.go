package reliability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Breaker State Transitions
// ==========================

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker("model", 3, time.Second)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		assert.Equal(t, StateClosed, b.State())
	}

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.Error(t, b.Allow())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker("model", 1, time.Minute)
	current := time.Now()
	b.now = func() time.Time { return current }

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	// Still inside cooldown.
	assert.Error(t, b.Allow())

	// Cooldown elapsed: one probe allowed, concurrent calls rejected.
	current = current.Add(2 * time.Minute)
	assert.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	assert.Error(t, b.Allow())
}

func TestBreakerClosesOnProbeSuccess(t *testing.T) {
	b := NewBreaker("model", 1, time.Minute)
	current := time.Now()
	b.now = func() time.Time { return current }

	b.RecordFailure()
	current = current.Add(2 * time.Minute)
	require.NoError(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerReopensOnProbeFailure(t *testing.T) {
	b := NewBreaker("model", 1, time.Minute)
	current := time.Now()
	b.now = func() time.Time { return current }

	b.RecordFailure()
	current = current.Add(2 * time.Minute)
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.Error(t, b.Allow())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("model", 2, time.Second)

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()

	assert.Equal(t, StateClosed, b.State())
}
