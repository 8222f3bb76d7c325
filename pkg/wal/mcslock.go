package wal

import (
	"sync/atomic"
)

// mcsNode is one waiter's queue node in the MCS lock.
type mcsNode struct {
	next   atomic.Pointer[mcsNode]
	locked atomic.Bool
}

// mcsLock is the MCS (Mellor-Crummey/Scott) queue lock gating the log's
// consolidation-array reservation step (spec.md §4.3, §5). Unlike a naive
// spinlock, every waiter spins on its own cache line, giving FIFO fairness
// under contention — exactly the property the insert path wants, since
// reservation must stay a short, bounded critical section. No repo in the
// retrieval pack vendors an MCS lock as a library (see DESIGN.md), so this
// is hand-rolled against sync/atomic per the original's mcs_lock.
type mcsLock struct {
	tail atomic.Pointer[mcsNode]
}

// mcsHandle is returned by Lock and must be passed back to Unlock.
type mcsHandle struct {
	node *mcsNode
}

// Lock acquires the lock, blocking (by spinning on a private flag) until
// granted.
func (l *mcsLock) Lock() *mcsHandle {
	n := &mcsNode{}
	n.locked.Store(true)
	prev := l.tail.Swap(n)
	if prev != nil {
		prev.next.Store(n)
		for n.locked.Load() {
			// spin on our own node's flag, not shared state
		}
	}
	return &mcsHandle{node: n}
}

// Unlock releases the lock acquired by a matching Lock call.
func (l *mcsLock) Unlock(h *mcsHandle) {
	n := h.node
	next := n.next.Load()
	if next == nil {
		if l.tail.CompareAndSwap(n, nil) {
			return
		}
		// A successor is in the process of linking; wait for it to appear.
		for next == nil {
			next = n.next.Load()
		}
	}
	next.locked.Store(false)
}
