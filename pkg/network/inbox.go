package network

import "sync"

// DefaultInboxSize bounds the inbox when no explicit size is given.
const DefaultInboxSize = 1024

// InboxMessage is one buffered inbound line together with the host
// identity of the socket it arrived on.
type InboxMessage struct {
	Origin string
	Line   string

	consumed bool
}

// Inbox buffers inbound lines until a consumer retrieves them. Per
// origin, lines come out in arrival order; across origins no order is
// guaranteed. Consumed entries are garbage and a compaction pass drops
// them once they pile up past half the capacity.
type Inbox struct {
	mu   sync.Mutex
	msgs []InboxMessage
	cap  int
}

// NewInbox returns an inbox with the default capacity.
func NewInbox() *Inbox {
	return NewInboxSize(DefaultInboxSize)
}

// NewInboxSize returns an inbox holding at most size entries. The
// oldest unconsumed entry is evicted when a push finds the inbox full.
func NewInboxSize(size int) *Inbox {
	if size < 1 {
		size = 1
	}
	return &Inbox{cap: size}
}

// Push buffers one line.
func (b *Inbox) Push(origin, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.compact()
	if len(b.msgs) >= b.cap {
		b.msgs = b.msgs[1:]
	}
	b.msgs = append(b.msgs, InboxMessage{Origin: origin, Line: line})
}

// Depth returns the number of unconsumed entries.
func (b *Inbox) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, m := range b.msgs {
		if !m.consumed {
			n++
		}
	}
	return n
}

// PopLatest returns the most recent unconsumed entry and marks it
// consumed. It returns false when nothing is buffered.
func (b *Inbox) PopLatest() (InboxMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.msgs) - 1; i >= 0; i-- {
		if !b.msgs[i].consumed {
			b.msgs[i].consumed = true
			return b.msgs[i], true
		}
	}
	return InboxMessage{}, false
}

// PopByOrigin returns the oldest unconsumed entry from the given
// origin and marks it consumed.
func (b *Inbox) PopByOrigin(origin string) (InboxMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.msgs {
		if !b.msgs[i].consumed && b.msgs[i].Origin == origin {
			b.msgs[i].consumed = true
			return b.msgs[i], true
		}
	}
	return InboxMessage{}, false
}

// compact drops consumed entries once they exceed half the capacity.
// Callers must hold the mutex.
func (b *Inbox) compact() {
	consumed := 0
	for _, m := range b.msgs {
		if m.consumed {
			consumed++
		}
	}
	if consumed <= b.cap/2 {
		return
	}
	kept := b.msgs[:0]
	for _, m := range b.msgs {
		if !m.consumed {
			kept = append(kept, m)
		}
	}
	b.msgs = kept
}
