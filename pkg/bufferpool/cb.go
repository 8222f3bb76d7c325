// Package bufferpool implements the fixed-size frame table, page-id hash
// map, free-frame protocol, and evictioner described in spec.md §4.4-4.5.
// Grounded on original_source/src/sm/bf_tree_evict.cpp for the
// grab/add-free-block state machine, and on etcd's server/storage/backend
// for the Go idiom of a latch-guarded, metrics-instrumented resource pool
// fronting raw page I/O.
package bufferpool

import (
	"sync"
	"sync/atomic"

	"github.com/JABClari/zero/pkg/page"
)

// LatchMode is the mode a frame's reader-writer latch is held in.
type LatchMode int

const (
	LatchNone LatchMode = iota
	LatchShared
	LatchExclusive
)

// pageKey identifies a page by its owning store plus page id, used as the
// buffer pool's hash map key (spec.md §4.4's "hash (page-id → frame)").
type pageKey struct {
	store page.StoreID
	pid   page.PageID
}

// controlBlock is one frame's metadata, per spec.md §4.4: "a fixed-size
// array of control blocks, one per frame, carrying {used, dirty, pid,
// pin_count, latch, lsn}."
type controlBlock struct {
	latch sync.RWMutex

	used    atomic.Bool
	dirty   atomic.Bool
	pinCnt  atomic.Int32
	store   page.StoreID
	pid     page.PageID
	recLSN  page.LSN // LSN as of which the in-memory page reflects the log
	clock   atomic.Bool // reference bit consulted by the evictioner's clock sweep
	next    int         // free-list link; valid only while on the free list
}

func (cb *controlBlock) reset() {
	cb.used.Store(false)
	cb.dirty.Store(false)
	cb.pinCnt.Store(0)
	cb.store = 0
	cb.pid = 0
	cb.recLSN = page.NullLSN
	cb.clock.Store(false)
}
