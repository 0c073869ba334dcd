package stats

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openScope(t *testing.T, e *Engine, id string) {
	t.Helper()
	require.NoError(t, e.OpenScope(id))
}

func feed(t *testing.T, e *Engine, id string, values []int) {
	t.Helper()
	for _, v := range values {
		require.NoError(t, e.Update(id, v))
	}
}

// fixedValues is a deterministic 1,000-value input used for reproducibility
// checks. Values oscillate around 100 with a mild positive drift.
func fixedValues() []int {
	values := make([]int, 1000)
	for i := range values {
		values[i] = 95 + (i*7)%11
	}
	return values
}

func TestEngine_EmptyScope(t *testing.T) {
	e := New(6)
	openScope(t, e, "s1")

	snap, err := e.Snapshot("s1")
	require.NoError(t, err)
	assert.Zero(t, snap.Count)
	assert.Equal(t, SignificanceNone, snap.Significance)
	assert.Equal(t, EffectUndefined, snap.EffectClass)
	assert.Equal(t, 1.0, snap.Probability)
}

func TestEngine_UnknownScope(t *testing.T) {
	e := New(6)

	_, err := e.Snapshot("missing")
	assert.ErrorIs(t, err, ErrUnknownScope)

	err = e.Update("missing", 100)
	assert.ErrorIs(t, err, ErrUnknownScope)
}

func TestEngine_MeanFromSum(t *testing.T) {
	e := New(6)
	openScope(t, e, "s1")
	feed(t, e, "s1", []int{98, 100, 102, 104})

	snap, err := e.Snapshot("s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), snap.Count)
	assert.Equal(t, 404.0, snap.Sum)
	assert.Equal(t, 101.0, snap.Mean)
}

func TestEngine_NetvarAndZScore(t *testing.T) {
	e := New(6)
	openScope(t, e, "s1")

	// Four trials each deviating by +5: sumSqDev = 100, netvar = 100/(4*50)
	feed(t, e, "s1", []int{105, 105, 105, 105})

	snap, err := e.Snapshot("s1")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, snap.Netvar, 1e-9)
	assert.InDelta(t, math.Sqrt(0.5), snap.ZScore, 1e-6)
}

func TestEngine_ZScoreSignTracksMean(t *testing.T) {
	e := New(6)
	openScope(t, e, "low")
	feed(t, e, "low", []int{90, 92, 95})

	snap, err := e.Snapshot("low")
	require.NoError(t, err)
	assert.Negative(t, snap.ZScore)
}

func TestEngine_SignificanceTiers(t *testing.T) {
	tests := []struct {
		p    float64
		want Significance
	}{
		{0.0005, SignificanceHighly},
		{0.005, SignificanceSig},
		{0.03, SignificanceMarg},
		{0.2, SignificanceNone},
		{0.05, SignificanceNone},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, classifySignificance(tt.p), "p=%v", tt.p)
	}
}

func TestEngine_EffectClasses(t *testing.T) {
	tests := []struct {
		effect float64
		want   EffectClass
	}{
		{0.05, EffectNegligible},
		{0.2, EffectSmall},
		{0.4, EffectMedium},
		{0.5, EffectLarge},
		{1.2, EffectLarge},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyEffect(tt.effect), "effect=%v", tt.effect)
	}
}

func TestEngine_EffectUndefinedBelow100Trials(t *testing.T) {
	e := New(6)
	openScope(t, e, "s1")

	for i := 0; i < 99; i++ {
		require.NoError(t, e.Update("s1", 110))
	}
	snap, err := e.Snapshot("s1")
	require.NoError(t, err)
	assert.Equal(t, EffectUndefined, snap.EffectClass)
	assert.Zero(t, snap.EffectSize)

	require.NoError(t, e.Update("s1", 110))
	snap, err = e.Snapshot("s1")
	require.NoError(t, err)
	assert.NotEqual(t, EffectUndefined, snap.EffectClass)
}

func TestEngine_Deterministic(t *testing.T) {
	values := fixedValues()

	run := func() Snapshot {
		e := New(6)
		openScope(t, e, "s1")
		feed(t, e, "s1", values)
		snap, err := e.Snapshot("s1")
		require.NoError(t, err)
		return snap
	}

	first := run()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, run(), "identical inputs must yield identical snapshots")
	}
	assert.Equal(t, uint64(1000), first.Count)
	assert.Contains(t, []Significance{
		SignificanceNone, SignificanceMarg, SignificanceSig, SignificanceHighly,
	}, first.Significance)
	assert.NotEqual(t, EffectUndefined, first.EffectClass)
}

func TestEngine_FreezeRejectsUpdates(t *testing.T) {
	e := New(6)
	openScope(t, e, "s1")
	feed(t, e, "s1", []int{100, 105})

	final, err := e.Freeze("s1")
	require.NoError(t, err)
	assert.True(t, final.Frozen)
	assert.Equal(t, uint64(2), final.Count)

	err = e.Update("s1", 100)
	assert.ErrorIs(t, err, ErrScopeFrozen)

	// Frozen snapshot stays stable and queryable
	again, err := e.Snapshot("s1")
	require.NoError(t, err)
	assert.Equal(t, final, again)
}

func TestEngine_ReopenFrozenScope(t *testing.T) {
	e := New(6)
	openScope(t, e, "s1")
	_, err := e.Freeze("s1")
	require.NoError(t, err)

	require.NoError(t, e.OpenScope("s1"))
	snap, err := e.Snapshot("s1")
	require.NoError(t, err)
	assert.Zero(t, snap.Count)

	err = e.OpenScope("s1")
	assert.Error(t, err, "reopening a live scope is rejected")
}

func TestEngine_ConcurrentReadsDuringIngestion(t *testing.T) {
	e := New(6)
	openScope(t, e, "s1")

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 5000; i++ {
			_ = e.Update("s1", 100+i%5)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 5000; i++ {
			snap, err := e.Snapshot("s1")
			if err == nil {
				assert.LessOrEqual(t, snap.Count, uint64(5000))
			}
		}
	}()
	wg.Wait()

	snap, err := e.Snapshot("s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), snap.Count)
}

func TestEngine_PrecisionRounding(t *testing.T) {
	e := New(2)
	openScope(t, e, "s1")
	feed(t, e, "s1", []int{101, 102, 104})

	snap, err := e.Snapshot("s1")
	require.NoError(t, err)
	assert.InDelta(t, 102.33, snap.Mean, 1e-9)
}

func TestEngine_DropScope(t *testing.T) {
	e := New(6)
	openScope(t, e, "s1")
	e.DropScope("s1")

	_, err := e.Snapshot("s1")
	assert.ErrorIs(t, err, ErrUnknownScope)
	assert.Empty(t, e.Scopes())
}
