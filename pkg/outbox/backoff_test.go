package outbox

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffGrowsExponentially(t *testing.T) {
	base := 10 * time.Second
	max := 10 * time.Minute

	assert.Equal(t, 10*time.Second, Backoff(1, base, max, 0, ""))
	assert.Equal(t, 20*time.Second, Backoff(2, base, max, 0, ""))
	assert.Equal(t, 40*time.Second, Backoff(3, base, max, 0, ""))
	assert.Equal(t, 80*time.Second, Backoff(4, base, max, 0, ""))
}

func TestBackoffCapsAtMax(t *testing.T) {
	base := 10 * time.Second
	max := time.Minute
	assert.Equal(t, max, Backoff(5, base, max, 0, ""))
	assert.Equal(t, max, Backoff(30, base, max, 0, ""))
}

func TestBackoffClampsAttemptBelowOne(t *testing.T) {
	base := 10 * time.Second
	assert.Equal(t, base, Backoff(0, base, time.Minute, 0, ""))
	assert.Equal(t, base, Backoff(-3, base, time.Minute, 0, ""))
}

func TestBackoffJitterIsDeterministicAndBounded(t *testing.T) {
	base := 10 * time.Second
	max := 10 * time.Minute

	first := Backoff(3, base, max, 0.2, "acme/17")
	second := Backoff(3, base, max, 0.2, "acme/17")
	assert.Equal(t, first, second)

	nextAttempt := Backoff(4, base, max, 0.2, "acme/17")
	assert.NotEqual(t, first, nextAttempt)

	for attempt := 1; attempt <= 6; attempt++ {
		for i := 0; i < 20; i++ {
			seed := fmt.Sprintf("tenant/%d", i)
			d := Backoff(attempt, base, max, 0.2, seed)
			raw := Backoff(attempt, base, max, 0, seed)
			require.GreaterOrEqual(t, d, time.Duration(float64(raw)*0.8))
			require.LessOrEqual(t, d, time.Duration(float64(raw)*1.2))
		}
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	p := &Payload{
		Kind:            PayloadKindPoPush,
		PurchaseOrderID: 42,
		CanonicalPo:     []byte(`{"external_ref":"42"}`),
		ContentHash:     "abc",
	}
	raw, err := p.Encode()
	require.NoError(t, err)

	parsed, err := ParsePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(42), parsed.PurchaseOrderID)
	assert.Equal(t, PayloadKindPoPush, parsed.Kind)
	assert.False(t, parsed.DeadLetter)

	_, err = ParsePayload([]byte(`{broken`))
	assert.Error(t, err)
}
