package bufferpool

import "github.com/JABClari/zero/pkg/zerr"

// grabFreeBlock implements spec.md §4.4's _grab_free_block: a
// double-checked read of the free-list length to avoid taking the lock on
// the common "pool is not full" path, then a locked pop of the head.
//
// mayEvict controls whether the caller is willing to wait for the
// evictioner to produce a free frame (true) or wants to fail fast with
// a zerr.BufferFull error (false) — the distinction the original draws between a
// normal fix and a recovery-time fix that must not block on eviction.
func (p *Pool) grabFreeBlock(mayEvict bool) (int, error) {
	for {
		if p.freeListLen.Load() > 0 {
			p.freeListMu.Lock()
			if p.freeListLen.Load() > 0 {
				idx := p.freeListHead
				cb := &p.cbs[idx]
				if cb.used.Load() {
					p.freeListMu.Unlock()
					continue
				}
				n := p.freeListLen.Add(-1)
				if n == 0 {
					p.freeListHead = 0
				} else {
					p.freeListHead = cb.next
				}
				p.freeListMu.Unlock()
				return idx, nil
			}
			p.freeListMu.Unlock()
		}

		if !mayEvict {
			return 0, zerr.New(zerr.BufferFull, "buffer pool full")
		}
		p.evictioner.wakeup(true)
	}
}

// addFreeBlock implements spec.md §4.4's _add_free_block: push idx onto the
// free list's head under the free-list lock. idx's control block must
// already be marked unused.
func (p *Pool) addFreeBlock(idx int) {
	p.freeListMu.Lock()
	cb := &p.cbs[idx]
	cb.next = p.freeListHead
	p.freeListHead = idx
	p.freeListLen.Add(1)
	p.freeListMu.Unlock()
}
