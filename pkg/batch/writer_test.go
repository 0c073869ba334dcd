package batch

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/regstream/pkg/store"
)

type fakePersister struct {
	mu       sync.Mutex
	batches  [][]store.Trial
	failNext int
}

func (f *fakePersister) InsertTrials(trials []store.Trial) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errors.New("disk unavailable")
	}
	batch := make([]store.Trial, len(trials))
	copy(batch, trials)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakePersister) sequences() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var seqs []uint64
	for _, batch := range f.batches {
		for _, trial := range batch {
			seqs = append(seqs, trial.Sequence)
		}
	}
	return seqs
}

func testConfig() Config {
	return Config{
		Capacity:       100,
		FlushThreshold: 10,
		FlushInterval:  time.Hour,
		MaxRetries:     2,
	}
}

func trial(seq uint64) store.Trial {
	return store.Trial{
		Sequence:  seq,
		Timestamp: time.Now().UTC(),
		Value:     100,
		Mode:      store.ModeContinuous,
		Intention: store.IntentionNone,
	}
}

func TestWriter_FlushOnDemand(t *testing.T) {
	p := &fakePersister{}
	w := NewWriter(testConfig(), p, zerolog.Nop())
	w.Start()
	defer w.Stop()

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, w.Append(trial(i)))
	}
	assert.Equal(t, 5, w.Buffered())

	require.NoError(t, w.Flush())
	assert.Zero(t, w.Buffered())
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, p.sequences())
}

func TestWriter_FlushOnThreshold(t *testing.T) {
	p := &fakePersister{}
	w := NewWriter(testConfig(), p, zerolog.Nop())
	w.Start()
	defer w.Stop()

	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, w.Append(trial(i)))
	}

	assert.Eventually(t, func() bool {
		return len(p.sequences()) == 10
	}, time.Second, 10*time.Millisecond)
}

func TestWriter_FlushOnInterval(t *testing.T) {
	cfg := testConfig()
	cfg.FlushInterval = 20 * time.Millisecond

	p := &fakePersister{}
	w := NewWriter(cfg, p, zerolog.Nop())
	w.Start()
	defer w.Stop()

	require.NoError(t, w.Append(trial(1)))

	assert.Eventually(t, func() bool {
		return len(p.sequences()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestWriter_BackpressureForcesSynchronousFlush(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 5
	cfg.FlushThreshold = 100 // never trips

	p := &fakePersister{}
	w := NewWriter(cfg, p, zerolog.Nop())
	w.Start()
	defer w.Stop()

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, w.Append(trial(i)))
	}

	// The fifth append hit capacity and flushed inline
	assert.Zero(t, w.Buffered())
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, p.sequences())
}

func TestWriter_RetriesTransientFailure(t *testing.T) {
	p := &fakePersister{failNext: 1}
	w := NewWriter(testConfig(), p, zerolog.Nop())
	w.Start()
	defer w.Stop()

	require.NoError(t, w.Append(trial(1)))
	require.NoError(t, w.Flush())
	assert.Equal(t, []uint64{1}, p.sequences())
}

func TestWriter_ExhaustedRetriesRequeueInOrder(t *testing.T) {
	p := &fakePersister{failNext: 3}
	w := NewWriter(testConfig(), p, zerolog.Nop())
	w.Start()

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, w.Append(trial(i)))
	}

	err := w.Flush()
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 3, w.Buffered(), "failed batch stays buffered")

	// Next flush succeeds and preserves order
	require.NoError(t, w.Append(trial(4)))
	require.NoError(t, w.Stop())
	assert.Equal(t, []uint64{1, 2, 3, 4}, p.sequences())
}

func TestWriter_StopFlushesRemainder(t *testing.T) {
	p := &fakePersister{}
	w := NewWriter(testConfig(), p, zerolog.Nop())
	w.Start()

	require.NoError(t, w.Append(trial(1)))
	require.NoError(t, w.Append(trial(2)))
	require.NoError(t, w.Stop())

	assert.Equal(t, []uint64{1, 2}, p.sequences())
}

func TestWriter_EmptyFlushIsNoop(t *testing.T) {
	p := &fakePersister{}
	w := NewWriter(testConfig(), p, zerolog.Nop())
	w.Start()
	defer w.Stop()

	require.NoError(t, w.Flush())
	assert.Empty(t, p.sequences())
}
