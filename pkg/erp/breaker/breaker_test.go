package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Enabled:            true,
		ErrorRateThreshold: 0.5,
		MinSamples:         4,
		Window:             time.Minute,
		OpenFor:            2 * time.Minute,
		HalfOpenMaxCalls:   1,
	}
}

func TestBreakerStaysClosedBelowMinSamples(t *testing.T) {
	b := New(testConfig())
	b.Record(false)
	b.Record(false)
	b.Record(false)
	assert.Equal(t, Closed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerOpensOnErrorRate(t *testing.T) {
	b := New(testConfig())
	b.Record(true)
	b.Record(false)
	b.Record(false)
	b.Record(false)
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := New(testConfig()).WithClock(func() time.Time { return now })

	for i := 0; i < 4; i++ {
		b.Record(false)
	}
	require.Equal(t, Open, b.State())

	now = now.Add(2*time.Minute + time.Second)
	assert.Equal(t, HalfOpen, b.State())

	// One probe admitted, the second refused.
	assert.True(t, b.Allow())
	assert.False(t, b.Allow())
}

func TestBreakerClosesOnSuccessfulProbe(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := New(testConfig()).WithClock(func() time.Time { return now })

	for i := 0; i < 4; i++ {
		b.Record(false)
	}
	now = now.Add(3 * time.Minute)
	require.True(t, b.Allow())

	b.Record(true)
	assert.Equal(t, Closed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := New(testConfig()).WithClock(func() time.Time { return now })

	for i := 0; i < 4; i++ {
		b.Record(false)
	}
	now = now.Add(3 * time.Minute)
	require.True(t, b.Allow())

	b.Record(false)
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerIgnoresSamplesOutsideWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := New(testConfig()).WithClock(func() time.Time { return now })

	b.Record(false)
	b.Record(false)
	b.Record(false)

	// Old failures age out; fresh successes keep it closed.
	now = now.Add(2 * time.Minute)
	b.Record(true)
	b.Record(true)
	b.Record(true)
	b.Record(false)
	assert.Equal(t, Closed, b.State())
}

func TestDisabledBreakerAlwaysAllows(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	b := New(cfg)
	for i := 0; i < 20; i++ {
		b.Record(false)
	}
	assert.Equal(t, Closed, b.State())
	assert.True(t, b.Allow())
}
