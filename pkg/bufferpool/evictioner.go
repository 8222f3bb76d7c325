package bufferpool

import (
	"sync"

	"go.uber.org/zap"

	"github.com/JABClari/zero/pkg/metrics"
)

// evictioner is the background worker that scans control blocks for an
// unpinned frame to reclaim, per spec.md §4.4: "Evictioner scans CBs,
// selects an unpinned frame, downgrades latches, writes the page if dirty
// via the page cleaner, clears the mapping, and pushes the frame."
type evictioner struct {
	pool *Pool

	mu      sync.Mutex
	cond    *sync.Cond
	pending bool
	closed  bool
	sweep   int // clock-sweep cursor
}

func newEvictioner(p *Pool) *evictioner {
	e := &evictioner{pool: p}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// wakeup requests an eviction pass; if block is true it waits for the pass
// to complete (or for the evictioner to stop).
func (e *evictioner) wakeup(block bool) {
	e.mu.Lock()
	e.pending = true
	e.cond.Signal()
	if !block {
		e.mu.Unlock()
		return
	}
	for e.pending && !e.closed {
		e.cond.Wait()
	}
	e.mu.Unlock()
}

// run is the evictioner's main loop; call it in its own goroutine.
func (e *evictioner) run() {
	e.mu.Lock()
	for {
		for !e.pending && !e.closed {
			e.cond.Wait()
		}
		if e.closed {
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		e.evictOne()

		e.mu.Lock()
		e.pending = false
		e.cond.Broadcast()
	}
}

func (e *evictioner) stop() {
	e.mu.Lock()
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()
}

// evictOne performs one clock-sweep pass looking for an unpinned, unlatched
// frame to reclaim.
func (e *evictioner) evictOne() {
	p := e.pool
	n := len(p.cbs)
	for i := 0; i < n; i++ {
		idx := (e.sweep + i) % n
		cb := &p.cbs[idx]
		if !cb.used.Load() || cb.pinCnt.Load() != 0 {
			continue
		}
		if cb.clock.Load() {
			cb.clock.Store(false)
			continue
		}
		if !cb.latch.TryLock() {
			continue
		}
		if cb.pinCnt.Load() != 0 {
			cb.latch.Unlock()
			continue
		}
		if cb.dirty.Load() {
			if err := e.writeBack(cb, idx); err != nil {
				p.log.Error("evictioner write failed", zap.Error(err))
				cb.latch.Unlock()
				continue
			}
			cb.dirty.Store(false)
		}
		p.hashMu.Lock()
		delete(p.hash, pageKey{cb.store, cb.pid})
		p.hashMu.Unlock()

		cb.latch.Unlock()
		cb.reset()
		p.addFreeBlock(idx)
		metrics.BufferPoolEvictions.Inc()
		metrics.BufferPoolFreeListLen.Set(float64(p.freeListLen.Load()))
		e.sweep = (idx + 1) % n
		return
	}
	// No evictable frame found this pass; grabFreeBlock's caller will retry.
}

// writeBack durably writes the dirty frame at idx back to storage, per
// spec.md §4.4 ("writes the page if dirty via the page cleaner"): routed
// through the same Cleaner.writeBack a checkpoint's Sweep uses, so an
// eviction-driven write gets the same WAL-flushed-past-rec-LSN-first
// ordering guarantee instead of bypassing it. Falls back to writing
// straight to the pager when no cleaner is wired (only true of pools
// built for package tests that exercise no recovery semantics).
func (e *evictioner) writeBack(cb *controlBlock, idx int) error {
	p := e.pool
	if p.cleaner != nil {
		return p.cleaner.writeBack(cb.store, cb.pid, p.pages[idx], cb.recLSN)
	}
	return p.pager.WritePage(cb.store, cb.pid, p.pages[idx])
}
