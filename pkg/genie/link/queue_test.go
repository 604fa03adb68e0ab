package link

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventQueueFIFO(t *testing.T) {
	var q EventQueue
	frames := []Frame{
		NewFrame(ReportEvent, 1, 0, 1),
		NewFrame(ReportEvent, 2, 0, 2),
		NewFrame(ReportObject, 3, 0, 3),
	}
	for _, f := range frames {
		require.True(t, q.Enqueue(f))
	}
	require.Equal(t, 3, q.Len())
	for _, expect := range frames {
		f, ok := q.Dequeue()
		require.True(t, ok)
		require.Equal(t, expect, f)
	}
	_, ok := q.Dequeue()
	require.False(t, ok)
}

func TestEventQueueLimit(t *testing.T) {
	var q EventQueue
	for i := 0; i < QueueLimit; i++ {
		require.True(t, q.Enqueue(NewFrame(ReportEvent, 1, byte(i), 0)))
	}
	require.False(t, q.Enqueue(NewFrame(ReportEvent, 2, 0, 0)))
	require.Equal(t, 1, q.Overflows())
	require.Equal(t, QueueLimit, q.Len())
	for i := 0; i < QueueLimit; i++ {
		f, ok := q.Dequeue()
		require.True(t, ok)
		require.Equal(t, byte(i), f.Index())
		require.Equal(t, byte(1), f.Object())
	}
}

func TestEventQueueWrap(t *testing.T) {
	var q EventQueue
	for n := 0; n < 3*QueueCapacity; n++ {
		require.True(t, q.Enqueue(NewFrame(ReportEvent, 1, byte(n), 0)))
		require.True(t, q.Enqueue(NewFrame(ReportEvent, 1, byte(n+1), 0)))
		f, ok := q.Dequeue()
		require.True(t, ok)
		require.Equal(t, byte(n), f.Index())
		f, ok = q.Dequeue()
		require.True(t, ok)
		require.Equal(t, byte(n+1), f.Index())
	}
	require.Equal(t, 0, q.Len())
}

func TestEventQueueFlush(t *testing.T) {
	var q EventQueue
	q.Enqueue(NewFrame(ReportEvent, 1, 0, 0))
	q.Enqueue(NewFrame(ReportEvent, 1, 1, 0))
	q.Flush()
	require.Equal(t, 0, q.Len())
	_, ok := q.Dequeue()
	require.False(t, ok)
	require.True(t, q.Enqueue(NewFrame(ReportEvent, 1, 2, 0)))
	f, _ := q.Dequeue()
	require.Equal(t, byte(2), f.Index())
}
