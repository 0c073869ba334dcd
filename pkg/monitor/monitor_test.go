package monitor

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/harun/regstream/internal/metrics"
	"github.com/harun/regstream/internal/observability"
)

func TestMonitor_SamplesCounters(t *testing.T) {
	m := New(20*time.Millisecond, nil, zerolog.Nop())
	m.Start()
	defer m.Stop()

	observability.RecordTrialsPersisted(10)
	observability.RecordStoreQuery(2 * time.Millisecond)

	assert.Eventually(t, func() bool {
		sample := m.Latest()
		return !sample.Timestamp.IsZero() && sample.MemoryUsageBytes > 0
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_LatestOverwritten(t *testing.T) {
	m := New(10*time.Millisecond, nil, zerolog.Nop())
	m.Start()
	defer m.Stop()

	assert.Eventually(t, func() bool {
		return !m.Latest().Timestamp.IsZero()
	}, time.Second, 5*time.Millisecond)

	first := m.Latest().Timestamp
	assert.Eventually(t, func() bool {
		return m.Latest().Timestamp.After(first)
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_MirrorsGauges(t *testing.T) {
	gauges := metrics.NewMetrics()
	m := New(10*time.Millisecond, gauges, zerolog.Nop())
	m.Start()
	defer m.Stop()

	assert.Eventually(t, func() bool {
		return !m.Latest().Timestamp.IsZero()
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_StopIsIdempotentSafe(t *testing.T) {
	m := New(10*time.Millisecond, nil, zerolog.Nop())
	m.Start()
	m.Stop()

	sample := m.Latest()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, sample, m.Latest(), "no samples after stop")
}
