package procmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWakeQueueOrdersByDeadline(t *testing.T) {
	q := newWakeQueue()
	now := time.Now()

	q.set("c", now.Add(3*time.Second))
	q.set("a", now.Add(1*time.Second))
	q.set("b", now.Add(2*time.Second))

	d, ok := q.nextDeadline()
	require.True(t, ok)
	assert.True(t, d.Equal(now.Add(1*time.Second)))
}

func TestWakeQueueRescheduleReplacesEntry(t *testing.T) {
	q := newWakeQueue()
	now := time.Now()

	q.set("a", now.Add(5*time.Second))
	q.set("a", now.Add(1*time.Second))

	d, ok := q.nextDeadline()
	require.True(t, ok)
	assert.True(t, d.Equal(now.Add(1*time.Second)))
	assert.Len(t, q.h, 1)
}

func TestWakeQueueClear(t *testing.T) {
	q := newWakeQueue()
	now := time.Now()
	q.set("a", now.Add(time.Second))
	q.clear("a")

	_, ok := q.nextDeadline()
	assert.False(t, ok)
}
