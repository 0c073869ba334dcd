package rng

import "sync"

// defaultQualityWindow is the number of recent trials scored.
const defaultQualityWindow = 1000

// QualityTracker scores a source from the proportion of one-bits in recent
// trial values. A fair source keeps the proportion near 0.5; the score maps
// that to [0, 1] where 1 is unbiased. Scores below the configured threshold
// mark the source degraded.
type QualityTracker struct {
	threshold float64

	mu     sync.Mutex
	window []int
	next   int
	filled bool
	sum    int
}

// NewQualityTracker returns a tracker with the given acceptance threshold
// (0.5 to 1.0).
func NewQualityTracker(threshold float64) *QualityTracker {
	return &QualityTracker{
		threshold: threshold,
		window:    make([]int, defaultQualityWindow),
	}
}

// Record folds one trial value into the sliding window.
func (q *QualityTracker) Record(value int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.filled {
		q.sum -= q.window[q.next]
	}
	q.window[q.next] = value
	q.sum += value
	q.next++
	if q.next == len(q.window) {
		q.next = 0
		q.filled = true
	}
}

// Score returns the current quality in [0, 1]. With no samples recorded the
// score is 1 so startup is never reported as degraded.
func (q *QualityTracker) Score() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := q.next
	if q.filled {
		count = len(q.window)
	}
	if count == 0 {
		return 1
	}

	proportion := float64(q.sum) / float64(count*TrialBits)
	bias := proportion - 0.5
	if bias < 0 {
		bias = -bias
	}
	score := 1 - 2*bias
	if score < 0 {
		score = 0
	}
	return score
}

// Acceptable reports whether the current score meets the threshold.
func (q *QualityTracker) Acceptable() bool {
	return q.Score() >= q.threshold
}
