package network

import (
	"context"
	"math"
	"sync"

	"golang.org/x/sync/semaphore"
)

// IntakeQueue is a FIFO of unpaired connections of one role. One mutex
// guards the slice and one counting semaphore tracks how many entries
// may be taken: a permit is released per enqueue and acquired per
// dequeue, so the available count equals the queue length whenever the
// queue is quiet. Take is never attempted without holding a permit.
type IntakeQueue struct {
	role Role

	queueLock sync.Mutex
	conns     []*Conn
	sema      *semaphore.Weighted

	lenUpdateF func(int)
}

// NewIntakeQueue returns an empty queue for the given role.
// lenMetricsUpdater is called with the new length after every change,
// it may be nil.
func NewIntakeQueue(role Role, lenMetricsUpdater func(l int)) *IntakeQueue {
	return &IntakeQueue{
		role:       role,
		sema:       semaphore.NewWeighted(math.MaxInt64),
		lenUpdateF: lenMetricsUpdater,
	}
}

// Role returns the role this queue holds connections for.
func (q *IntakeQueue) Role() Role { return q.role }

// Len returns the current queue length.
func (q *IntakeQueue) Len() int {
	q.queueLock.Lock()
	defer q.queueLock.Unlock()
	return len(q.conns)
}

// Put appends c and releases one permit.
func (q *IntakeQueue) Put(c *Conn) {
	q.queueLock.Lock()
	q.conns = append(q.conns, c)
	l := len(q.conns)
	q.queueLock.Unlock()
	q.sema.Release(1)
	q.updateLen(l)
}

// PutFront returns c to the head of the queue. It is used when a
// dequeued connection could not be paired through no fault of its own,
// so that FIFO order survives.
func (q *IntakeQueue) PutFront(c *Conn) {
	q.queueLock.Lock()
	q.conns = append([]*Conn{c}, q.conns...)
	l := len(q.conns)
	q.queueLock.Unlock()
	q.sema.Release(1)
	q.updateLen(l)
}

// Take acquires one permit and pops the head of the queue. It blocks
// until a permit is available or ctx is done. A nil connection with a
// nil error means the matching entry was removed concurrently; the
// caller retries.
func (q *IntakeQueue) Take(ctx context.Context) (*Conn, error) {
	if err := q.sema.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	q.queueLock.Lock()
	var c *Conn
	if len(q.conns) > 0 {
		c = q.conns[0]
		q.conns = q.conns[1:]
	}
	l := len(q.conns)
	q.queueLock.Unlock()
	q.updateLen(l)
	return c, nil
}

// Remove drops the entry equal to c (by host identity) and burns the
// permit that was released for it. It reports whether c was queued.
func (q *IntakeQueue) Remove(c *Conn) bool {
	q.queueLock.Lock()
	found := false
	for i, x := range q.conns {
		if x.HostID() == c.HostID() {
			q.conns = append(q.conns[:i], q.conns[i+1:]...)
			found = true
			break
		}
	}
	l := len(q.conns)
	q.queueLock.Unlock()
	if !found {
		return false
	}
	// The permit may already be held by a concurrent Take, which will
	// observe the shortened queue and retry.
	q.sema.TryAcquire(1)
	q.updateLen(l)
	return true
}

func (q *IntakeQueue) updateLen(l int) {
	if q.lenUpdateF != nil {
		q.lenUpdateF(l)
	}
}
