package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker() (*Breaker, *time.Time) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	b := NewBreaker("t1/aws", DefaultBreakerConfig(), zerolog.Nop())
	b.now = func() time.Time { return now }
	return b, &now
}

func failN(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		if err := b.Allow(); err == nil {
			b.RecordFailure(errors.New("upstream 503"))
		}
	}
}

func TestBreakerOpensAfterFiveConsecutiveFailures(t *testing.T) {
	b, _ := testBreaker()

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure(errors.New("upstream 503"))
		assert.Equal(t, StateClosed, b.State())
	}

	require.NoError(t, b.Allow())
	b.RecordFailure(errors.New("upstream 503"))
	assert.Equal(t, StateOpen, b.State())

	// The 6th call fails immediately.
	assert.Error(t, b.Allow())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := testBreaker()

	failN(b, 4)
	require.NoError(t, b.Allow())
	b.RecordSuccess()

	failN(b, 4)
	assert.Equal(t, StateClosed, b.State(), "non-consecutive failures must not open the circuit")
}

func TestBreakerHalfOpenAfterResetTimeout(t *testing.T) {
	b, now := testBreaker()

	failN(b, 5)
	require.Equal(t, StateOpen, b.State())
	require.Error(t, b.Allow())

	*now = now.Add(61 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	// Up to 3 trial calls pass, the 4th is rejected.
	for i := 0; i < 3; i++ {
		assert.NoError(t, b.Allow())
	}
	assert.Error(t, b.Allow())
}

func TestBreakerTrialSuccessCloses(t *testing.T) {
	b, now := testBreaker()

	failN(b, 5)
	*now = now.Add(61 * time.Second)

	require.NoError(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerTrialFailureReopensAndRestartsTimeout(t *testing.T) {
	b, now := testBreaker()

	failN(b, 5)
	*now = now.Add(61 * time.Second)

	require.NoError(t, b.Allow())
	b.RecordFailure(errors.New("still down"))
	assert.Equal(t, StateOpen, b.State())

	// Timeout restarted: 30s later the circuit is still open.
	*now = now.Add(30 * time.Second)
	assert.Equal(t, StateOpen, b.State())

	*now = now.Add(31 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerSetIsolatesKeys(t *testing.T) {
	set := NewBreakerSet(DefaultBreakerConfig(), zerolog.Nop())

	a := set.For("tenant-a", "aws")
	failN(a, 5)
	assert.Equal(t, StateOpen, a.State())

	assert.Equal(t, StateClosed, set.For("tenant-a", "gcp").State())
	assert.Equal(t, StateClosed, set.For("tenant-b", "aws").State())
	assert.Same(t, a, set.For("tenant-a", "aws"))
}
