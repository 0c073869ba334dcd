package generator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/regstream/pkg/rng"
	"github.com/harun/regstream/pkg/store"
)

type staticLabels struct {
	label Label
}

func (s *staticLabels) Label() Label { return s.label }

type captureSink struct {
	mu     sync.Mutex
	trials []store.Trial
}

func (c *captureSink) Append(trial store.Trial) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trials = append(c.trials, trial)
	return nil
}

func (c *captureSink) all() []store.Trial {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]store.Trial, len(c.trials))
	copy(out, c.trials)
	return out
}

type captureStats struct {
	mu      sync.Mutex
	updates map[string][]int
}

func (c *captureStats) Update(scopeID string, value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updates == nil {
		c.updates = map[string][]int{}
	}
	c.updates[scopeID] = append(c.updates[scopeID], value)
	return nil
}

func (c *captureStats) count(scopeID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.updates[scopeID])
}

func fastConfig() Config {
	return Config{
		Frequency:          200,
		MaxJitter:          100 * time.Millisecond,
		TimestampPrecision: time.Microsecond,
	}
}

func newTestGenerator(cfg Config, labels LabelProvider) (*Generator, *captureSink, *captureStats) {
	sink := &captureSink{}
	st := &captureStats{}
	g := New(cfg, rng.NewPseudo(42), labels, st, sink, nil, zerolog.Nop())
	return g, sink, st
}

func TestGenerator_ProducesStampedTrials(t *testing.T) {
	labels := &staticLabels{label: Label{
		Mode:      store.ModeSession,
		SessionID: "sess-1",
		Intention: store.IntentionHigh,
		ScopeID:   "sess-1",
	}}
	g, sink, st := newTestGenerator(fastConfig(), labels)

	require.NoError(t, g.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return len(sink.all()) >= 20
	}, 2*time.Second, 5*time.Millisecond)
	g.Stop()

	trials := sink.all()
	require.NotEmpty(t, trials)
	for i, trial := range trials {
		assert.GreaterOrEqual(t, trial.Value, 0)
		assert.LessOrEqual(t, trial.Value, 200)
		assert.Equal(t, store.ModeSession, trial.Mode)
		assert.Equal(t, "sess-1", trial.SessionID)
		assert.Equal(t, store.IntentionHigh, trial.Intention)
		if i > 0 {
			assert.Equal(t, trials[i-1].Sequence+1, trial.Sequence, "sequence strictly increasing")
		}
	}

	// Statistics saw every trial the sink saw, in the same order
	assert.Equal(t, len(trials), st.count("sess-1"))
}

func TestGenerator_UnlabelledTrialsSkipStatistics(t *testing.T) {
	labels := &staticLabels{label: Label{
		Mode:      store.ModeContinuous,
		Intention: store.IntentionNone,
	}}
	g, sink, st := newTestGenerator(fastConfig(), labels)

	require.NoError(t, g.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return len(sink.all()) >= 5
	}, 2*time.Second, 5*time.Millisecond)
	g.Stop()

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Empty(t, st.updates)
}

func TestGenerator_DoubleStartRejected(t *testing.T) {
	g, _, _ := newTestGenerator(fastConfig(), &staticLabels{})

	require.NoError(t, g.Start(context.Background()))
	defer g.Stop()

	assert.ErrorIs(t, g.Start(context.Background()), ErrAlreadyRunning)
}

func TestGenerator_StopHaltsGeneration(t *testing.T) {
	g, sink, _ := newTestGenerator(fastConfig(), &staticLabels{})

	require.NoError(t, g.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return len(sink.all()) >= 5
	}, 2*time.Second, 5*time.Millisecond)

	g.Stop()
	assert.False(t, g.Running())

	count := len(sink.all())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, count, len(sink.all()), "no trials after stop")
}

func TestGenerator_RestartContinuesSequence(t *testing.T) {
	g, sink, _ := newTestGenerator(fastConfig(), &staticLabels{})

	require.NoError(t, g.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return len(sink.all()) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	g.Stop()

	before := sink.all()
	last := before[len(before)-1].Sequence

	require.NoError(t, g.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return len(sink.all()) > len(before)
	}, 2*time.Second, 5*time.Millisecond)
	g.Stop()

	after := sink.all()
	assert.Equal(t, last+1, after[len(before)].Sequence)
}

func TestGenerator_SetFirstSequence(t *testing.T) {
	g, sink, _ := newTestGenerator(fastConfig(), &staticLabels{})
	g.SetFirstSequence(1000)

	require.NoError(t, g.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return len(sink.all()) >= 1
	}, 2*time.Second, 5*time.Millisecond)
	g.Stop()

	assert.Equal(t, uint64(1000), sink.all()[0].Sequence)
}

func TestGenerator_SourceFailureSkipsTick(t *testing.T) {
	sink := &captureSink{}
	st := &captureStats{}
	hw := rng.NewHardware("/nonexistent/device")
	g := New(fastConfig(), hw, &staticLabels{}, st, sink, nil, zerolog.Nop())

	require.NoError(t, g.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)
	g.Stop()

	assert.Empty(t, sink.all(), "no fabricated trials on source failure")
	assert.False(t, g.Healthy())
}

func TestGenerator_TimingReport(t *testing.T) {
	g, sink, _ := newTestGenerator(fastConfig(), &staticLabels{})

	require.NoError(t, g.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return len(sink.all()) >= 10
	}, 2*time.Second, 5*time.Millisecond)
	g.Stop()

	report := g.Report()
	assert.GreaterOrEqual(t, report.Ticks, uint64(10))
	assert.GreaterOrEqual(t, report.MaxErrorMs, report.AvgErrorMs)
}

func TestGenerator_QualityTrackerFed(t *testing.T) {
	sink := &captureSink{}
	qual := rng.NewQualityTracker(0.9)
	g := New(fastConfig(), rng.NewPseudo(42), &staticLabels{}, &captureStats{}, sink, qual, zerolog.Nop())

	require.NoError(t, g.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return len(sink.all()) >= 10
	}, 2*time.Second, 5*time.Millisecond)
	g.Stop()

	assert.True(t, qual.Acceptable(), "pseudo source is unbiased")
}
