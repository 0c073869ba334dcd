package commandqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupCache_SetGet(t *testing.T) {
	dc := newDedupCache(context.Background(), time.Minute)
	defer dc.Stop()

	dc.Set("req-1", taskResult{value: 42})

	result, ok := dc.Get("req-1")
	assert.True(t, ok)
	assert.Equal(t, 42, result.value)

	_, ok = dc.Get("req-2")
	assert.False(t, ok)
	assert.Equal(t, 1, dc.Size())
}

func TestDedupCache_Expiry(t *testing.T) {
	dc := newDedupCache(context.Background(), 10*time.Millisecond)
	defer dc.Stop()

	dc.Set("req-1", taskResult{value: "x"})
	time.Sleep(20 * time.Millisecond)

	_, ok := dc.Get("req-1")
	assert.False(t, ok)
}
