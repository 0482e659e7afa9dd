package network

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func queuedConn(hostID string) *Conn {
	return &Conn{hostID: hostID, dead: atomic.NewBool(false)}
}

func TestIntakeQueueFIFO(t *testing.T) {
	q := NewIntakeQueue(RoleClient, nil)
	a, b, c := queuedConn("a:1"), queuedConn("b:2"), queuedConn("c:3")
	q.Put(a)
	q.Put(b)
	q.Put(c)
	require.Equal(t, 3, q.Len())

	for _, want := range []*Conn{a, b, c} {
		got, err := q.Take(context.Background())
		require.NoError(t, err)
		assert.Same(t, want, got)
	}
	assert.Equal(t, 0, q.Len())
}

func TestIntakeQueuePermitsMatchLength(t *testing.T) {
	q := NewIntakeQueue(RoleWorker, nil)
	q.Put(queuedConn("a:1"))
	q.Put(queuedConn("b:2"))
	q.Put(queuedConn("c:3"))

	for i := 0; i < 3; i++ {
		require.True(t, q.sema.TryAcquire(1), "permit %d", i)
	}
	assert.False(t, q.sema.TryAcquire(1), "no permit without an entry")
}

func TestIntakeQueueRemove(t *testing.T) {
	q := NewIntakeQueue(RoleClient, nil)
	a, b, c := queuedConn("a:1"), queuedConn("b:2"), queuedConn("c:3")
	q.Put(a)
	q.Put(b)
	q.Put(c)

	require.True(t, q.Remove(b))
	assert.Equal(t, 2, q.Len())
	assert.False(t, q.Remove(b), "second remove finds nothing")

	got, err := q.Take(context.Background())
	require.NoError(t, err)
	assert.Same(t, a, got)
	got, err = q.Take(context.Background())
	require.NoError(t, err)
	assert.Same(t, c, got)

	// Remove burned the permit it had released.
	assert.False(t, q.sema.TryAcquire(1))
}

func TestIntakeQueueRemoveDuringTake(t *testing.T) {
	q := NewIntakeQueue(RoleClient, nil)
	a := queuedConn("a:1")
	q.Put(a)

	// A taker already holds the permit when the remove lands.
	require.NoError(t, q.sema.Acquire(context.Background(), 1))
	require.True(t, q.Remove(a))
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.sema.TryAcquire(1))
}

func TestIntakeQueuePutFront(t *testing.T) {
	q := NewIntakeQueue(RoleClient, nil)
	a, b, c := queuedConn("a:1"), queuedConn("b:2"), queuedConn("c:3")
	q.Put(a)
	q.Put(b)

	q.PutFront(c)
	require.Equal(t, 3, q.Len())

	for _, want := range []*Conn{c, a, b} {
		got, err := q.Take(context.Background())
		require.NoError(t, err)
		assert.Same(t, want, got)
	}
}

func TestIntakeQueueTakeBlocksUntilPut(t *testing.T) {
	q := NewIntakeQueue(RoleWorker, nil)
	a := queuedConn("a:1")

	got := make(chan *Conn, 1)
	go func() {
		c, err := q.Take(context.Background())
		require.NoError(t, err)
		got <- c
	}()

	select {
	case c := <-got:
		t.Fatalf("take returned %v from an empty queue", c)
	case <-time.After(50 * time.Millisecond):
	}

	q.Put(a)
	select {
	case c := <-got:
		assert.Same(t, a, c)
	case <-time.After(time.Second):
		t.Fatal("take did not observe the put")
	}
}

func TestIntakeQueueTakeCanceled(t *testing.T) {
	q := NewIntakeQueue(RoleClient, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, err := q.Take(ctx)
	require.Error(t, err)
	assert.Nil(t, c)
}

func TestIntakeQueueLengthCallback(t *testing.T) {
	var lens []int
	q := NewIntakeQueue(RoleClient, func(l int) { lens = append(lens, l) })

	a, b := queuedConn("a:1"), queuedConn("b:2")
	q.Put(a)
	q.Put(b)
	q.Remove(a)
	_, err := q.Take(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 1, 0}, lens)
}
