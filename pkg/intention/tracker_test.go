package intention

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/regstream/pkg/stats"
	"github.com/harun/regstream/pkg/store"
)

type fakePersistence struct {
	saved   []store.IntentionPeriod
	updated []store.IntentionPeriod
}

func (f *fakePersistence) SavePeriod(p store.IntentionPeriod) error {
	f.saved = append(f.saved, p)
	return nil
}

func (f *fakePersistence) UpdatePeriod(p store.IntentionPeriod) error {
	f.updated = append(f.updated, p)
	return nil
}

type failingStatistics struct {
	openErr error
}

func (f *failingStatistics) OpenScope(string) error { return f.openErr }

func (f *failingStatistics) Freeze(string) (stats.Snapshot, error) {
	return stats.Snapshot{}, nil
}

func newTestTracker(t *testing.T) (*Tracker, *fakePersistence, *stats.Engine) {
	t.Helper()
	p := &fakePersistence{}
	e := stats.New(6)
	return NewTracker(p, e, zerolog.Nop()), p, e
}

func TestTracker_StartPeriod(t *testing.T) {
	tr, p, _ := newTestTracker(t)

	period, err := tr.StartPeriod(store.IntentionHigh)
	require.NoError(t, err)
	assert.NotEmpty(t, period.ID)
	assert.Nil(t, period.EndTime)
	assert.Len(t, p.saved, 1)

	id, label, ok := tr.Scope()
	assert.True(t, ok)
	assert.Equal(t, period.ID, id)
	assert.Equal(t, store.IntentionHigh, label)
}

func TestTracker_SecondOpenPeriodConflicts(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	_, err := tr.StartPeriod(store.IntentionLow)
	require.NoError(t, err)

	_, err = tr.StartPeriod(store.IntentionHigh)
	assert.ErrorIs(t, err, ErrStateConflict)

	current, ok := tr.Current()
	assert.True(t, ok)
	assert.Equal(t, store.IntentionLow, current.Intention)
}

func TestTracker_InvalidLabel(t *testing.T) {
	tr, p, _ := newTestTracker(t)

	_, err := tr.StartPeriod("diagonal")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, p.saved)
}

func TestTracker_StartRollsBackWhenScopeFails(t *testing.T) {
	p := &fakePersistence{}
	tr := NewTracker(p, &failingStatistics{openErr: errors.New("scope busy")}, zerolog.Nop())

	_, err := tr.StartPeriod(store.IntentionHigh)
	require.Error(t, err)

	_, ok := tr.Current()
	assert.False(t, ok)

	require.Len(t, p.updated, 1, "persisted record closed out")
	assert.NotNil(t, p.updated[0].EndTime)

	// The tracker can open a fresh period afterwards
	tr2 := NewTracker(p, stats.New(6), zerolog.Nop())
	_, err = tr2.StartPeriod(store.IntentionHigh)
	assert.NoError(t, err)
}

func TestTracker_EndPeriodFreezesSnapshot(t *testing.T) {
	tr, p, e := newTestTracker(t)

	period, err := tr.StartPeriod(store.IntentionBaseline)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, e.Update(period.ID, 102))
	}

	closed, snapshot, err := tr.EndPeriod()
	require.NoError(t, err)
	assert.Equal(t, period.ID, closed.ID)
	require.NotNil(t, closed.EndTime)
	assert.True(t, snapshot.Frozen)
	assert.Equal(t, uint64(10), snapshot.Count)
	require.Len(t, p.updated, 1)

	_, ok := tr.Current()
	assert.False(t, ok)

	// Scope is frozen, further updates rejected
	assert.ErrorIs(t, e.Update(period.ID, 100), stats.ErrScopeFrozen)
}

func TestTracker_EndWithoutOpenConflicts(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	_, _, err := tr.EndPeriod()
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestTracker_ReopenAfterEnd(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	first, err := tr.StartPeriod(store.IntentionHigh)
	require.NoError(t, err)
	_, _, err = tr.EndPeriod()
	require.NoError(t, err)

	second, err := tr.StartPeriod(store.IntentionLow)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}
