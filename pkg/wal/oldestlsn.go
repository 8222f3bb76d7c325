package wal

import (
	"sync"

	"github.com/google/btree"

	"github.com/JABClari/zero/pkg/page"
)

// lsnItem adapts a page.LSN into a google/btree.Item by its packed uint64
// ordering, letting OldestLSNTracker keep a sorted multiset of outstanding
// rec-LSNs without hand-rolling tree balancing.
type lsnItem page.LSN

func (a lsnItem) Less(than btree.Item) bool {
	return page.LSN(a).Less(page.LSN(than.(lsnItem)))
}

// OldestLSNTracker answers "what is the oldest LSN any dirty page or active
// transaction still depends on", the quantity that gates WAL truncation
// (spec.md §4.3: "the log may truncate only up to the oldest LSN still
// referenced"). Grounded on log_core.h's PoorMansOldestLsnTracker, but
// backed by github.com/google/btree (as etcd's mvcc and lease packages use
// it for keyIndex/interval bookkeeping) instead of a flat linear scan, so
// Oldest() stays O(log n) as the active set grows.
type OldestLSNTracker struct {
	mu    sync.Mutex
	tree  *btree.BTree
	count map[uint64]int // dedupe multiple holders of the same LSN
}

// NewOldestLSNTracker constructs an empty tracker.
func NewOldestLSNTracker() *OldestLSNTracker {
	return &OldestLSNTracker{
		tree:  btree.New(32),
		count: make(map[uint64]int),
	}
}

// Add registers lsn as referenced by one more holder (a dirty page's
// rec-LSN, or a transaction's first LSN).
func (t *OldestLSNTracker) Add(lsn page.LSN) {
	if lsn.IsNull() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	k := lsn.Uint64()
	if t.count[k] == 0 {
		t.tree.ReplaceOrInsert(lsnItem(lsn))
	}
	t.count[k]++
}

// Remove releases one holder's reference to lsn.
func (t *OldestLSNTracker) Remove(lsn page.LSN) {
	if lsn.IsNull() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	k := lsn.Uint64()
	if t.count[k] == 0 {
		return
	}
	t.count[k]--
	if t.count[k] == 0 {
		delete(t.count, k)
		t.tree.Delete(lsnItem(lsn))
	}
}

// Oldest returns the smallest currently-referenced LSN, or page.NullLSN if
// nothing is being tracked (in which case the log may truncate freely up to
// the current durable LSN).
func (t *OldestLSNTracker) Oldest() page.LSN {
	t.mu.Lock()
	defer t.mu.Unlock()
	var min page.LSN
	found := false
	t.tree.Ascend(func(item btree.Item) bool {
		min = page.LSN(item.(lsnItem))
		found = true
		return false
	})
	if !found {
		return page.NullLSN
	}
	return min
}
