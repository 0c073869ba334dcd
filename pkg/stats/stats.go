// Package stats maintains incremental per-scope aggregates over the trial
// stream and derives significance indicators on demand. Updates are O(1)
// per trial; no rescans of historical data.
package stats

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// Expected per-trial distribution for sums of 200 Bernoulli(0.5) draws.
const (
	expectedMean     = 100.0
	expectedVariance = 50.0
)

// minEffectTrials is the sample size below which effect size is not reported.
const minEffectTrials = 100

// ErrUnknownScope is returned when no aggregate exists for a scope id.
var ErrUnknownScope = errors.New("unknown statistics scope")

// ErrScopeFrozen is returned when a frozen scope receives an update.
var ErrScopeFrozen = errors.New("statistics scope is frozen")

// Significance tiers derived from the two-tailed p-value.
type Significance string

const (
	SignificanceNone   Significance = "none"
	SignificanceMarg   Significance = "marginal"
	SignificanceSig    Significance = "significant"
	SignificanceHighly Significance = "highly_significant"
)

// EffectClass buckets the effect size magnitude.
type EffectClass string

const (
	EffectUndefined  EffectClass = "undefined"
	EffectNegligible EffectClass = "negligible"
	EffectSmall      EffectClass = "small"
	EffectMedium     EffectClass = "medium"
	EffectLarge      EffectClass = "large"
)

// Snapshot is an immutable read-only view of one scope's statistics.
type Snapshot struct {
	ScopeID       string       `json:"scope_id"`
	Count         uint64       `json:"count"`
	Sum           float64      `json:"sum"`
	SumSquares    float64      `json:"sum_squares"`
	Mean          float64      `json:"mean"`
	Netvar        float64      `json:"netvar"`
	ZScore        float64      `json:"z_score"`
	StandardError float64      `json:"standard_error"`
	Probability   float64      `json:"probability"`
	Significance  Significance `json:"significance"`
	EffectSize    float64      `json:"effect_size"`
	EffectClass   EffectClass  `json:"effect_class"`
	Frozen        bool         `json:"frozen"`
}

type aggregate struct {
	count      uint64
	sum        float64
	sumSquares float64
	sumSqDev   float64
	frozen     bool
	final      Snapshot
}

// Engine holds the live aggregates. Reads never block ingestion for long;
// the update path takes the write lock for a few arithmetic operations only.
type Engine struct {
	precision int

	mu     sync.RWMutex
	scopes map[string]*aggregate
}

// New returns an engine rounding derived values to the given number of
// decimal places (1 to 15).
func New(precision int) *Engine {
	return &Engine{
		precision: precision,
		scopes:    map[string]*aggregate{},
	}
}

// OpenScope creates an empty aggregate for a scope. Reopening an existing
// live scope is an error; a frozen scope of the same id is replaced.
func (e *Engine) OpenScope(scopeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if agg, ok := e.scopes[scopeID]; ok && !agg.frozen {
		return fmt.Errorf("scope %s already open", scopeID)
	}
	e.scopes[scopeID] = &aggregate{}
	return nil
}

// Update folds one trial value into a scope's aggregate.
func (e *Engine) Update(scopeID string, value int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	agg, ok := e.scopes[scopeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScope, scopeID)
	}
	if agg.frozen {
		return fmt.Errorf("%w: %s", ErrScopeFrozen, scopeID)
	}

	v := float64(value)
	dev := v - expectedMean
	agg.count++
	agg.sum += v
	agg.sumSquares += v * v
	agg.sumSqDev += dev * dev
	return nil
}

// Snapshot derives the current statistics for a scope. Frozen scopes return
// their final snapshot unchanged.
func (e *Engine) Snapshot(scopeID string) (Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	agg, ok := e.scopes[scopeID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownScope, scopeID)
	}
	if agg.frozen {
		return agg.final, nil
	}
	return e.derive(scopeID, agg), nil
}

// Freeze finalizes a scope. Further updates are rejected; the final snapshot
// stays queryable until the scope is dropped.
func (e *Engine) Freeze(scopeID string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	agg, ok := e.scopes[scopeID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownScope, scopeID)
	}
	if !agg.frozen {
		agg.final = e.derive(scopeID, agg)
		agg.final.Frozen = true
		agg.frozen = true
	}
	return agg.final, nil
}

// DropScope removes a scope entirely.
func (e *Engine) DropScope(scopeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.scopes, scopeID)
}

// Scopes returns the ids of all known scopes.
func (e *Engine) Scopes() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.scopes))
	for id := range e.scopes {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) derive(scopeID string, agg *aggregate) Snapshot {
	snap := Snapshot{
		ScopeID:     scopeID,
		Count:       agg.count,
		Sum:         agg.sum,
		SumSquares:  agg.sumSquares,
		Probability: 1,
		EffectClass: EffectUndefined,
	}
	snap.Significance = SignificanceNone
	if agg.count == 0 {
		return snap
	}

	n := float64(agg.count)
	mean := agg.sum / n
	netvar := agg.sumSqDev / (n * expectedVariance)

	z := math.Sqrt(netvar)
	if mean < expectedMean {
		z = -z
	}

	// Two-tailed normal tail probability for |z|
	p := math.Erfc(math.Abs(z) / math.Sqrt2)

	snap.Mean = e.round(mean)
	snap.Netvar = e.round(netvar)
	snap.ZScore = e.round(z)
	snap.StandardError = e.round(math.Sqrt(expectedVariance / n))
	snap.Probability = e.round(p)
	snap.Significance = classifySignificance(p)

	if agg.count >= minEffectTrials {
		effect := math.Sqrt(netvar) / math.Sqrt(n)
		snap.EffectSize = e.round(effect)
		snap.EffectClass = classifyEffect(effect)
	}
	return snap
}

func (e *Engine) round(v float64) float64 {
	scale := math.Pow(10, float64(e.precision))
	return math.Round(v*scale) / scale
}

func classifySignificance(p float64) Significance {
	switch {
	case p < 0.001:
		return SignificanceHighly
	case p < 0.01:
		return SignificanceSig
	case p < 0.05:
		return SignificanceMarg
	default:
		return SignificanceNone
	}
}

func classifyEffect(effect float64) EffectClass {
	switch {
	case effect < 0.1:
		return EffectNegligible
	case effect < 0.3:
		return EffectSmall
	case effect < 0.5:
		return EffectMedium
	default:
		return EffectLarge
	}
}
