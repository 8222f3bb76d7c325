package bufferpool

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JABClari/zero/pkg/config"
	"github.com/JABClari/zero/pkg/metrics"
	"github.com/JABClari/zero/pkg/page"
	"github.com/JABClari/zero/pkg/zerr"
)

// Pager is the narrow capability the buffer pool needs from the volume to
// service misses and flush dirty frames: raw, unlatched page I/O against
// backing storage.
type Pager interface {
	ReadPage(store page.StoreID, pid page.PageID) (*page.Page, error)
	WritePage(store page.StoreID, pid page.PageID, p *page.Page) error
}

// Pool is the fixed-size frame table described in spec.md §4.4: a frame
// array, a page-id hash map, a free list, and an evictioner.
type Pool struct {
	cfg    config.Config
	log    *zap.Logger
	pager  Pager

	cbs   []controlBlock
	pages []*page.Page

	hashMu sync.RWMutex
	hash   map[pageKey]int

	freeListMu   sync.Mutex
	freeListHead int
	freeListLen  atomic.Int32

	evictioner *evictioner
	cleaner    *Cleaner
}

// New allocates a pool of n frames backed by pager.
func New(cfg config.Config, n int, pager Pager, log *zap.Logger) *Pool {
	p := &Pool{
		cfg:   cfg,
		log:   log,
		pager: pager,
		cbs:   make([]controlBlock, n),
		pages: make([]*page.Page, n),
		hash:  make(map[pageKey]int, n),
	}
	for i := range p.pages {
		p.pages[i] = page.New(cfg.PageSize)
	}
	for i := 0; i < n; i++ {
		p.cbs[i].next = i + 1
	}
	p.freeListHead = 0
	p.freeListLen.Store(int32(n))
	p.evictioner = newEvictioner(p)
	metrics.BufferPoolFreeListLen.Set(float64(n))
	return p
}

// LatchGuard is a scoped, pinned, latched reference to a frame, returned by
// Fix. Callers must call Unfix exactly once.
type LatchGuard struct {
	pool *Pool
	idx  int
	mode LatchMode
}

// Page returns the frame's current page contents.
func (g *LatchGuard) Page() *page.Page { return g.pool.pages[g.idx] }

// MarkDirty records that the caller mutated the page, with recLSN the LSN
// of the log record justifying the mutation (spec.md §5's WAL ordering
// guarantee: a page's on-disk LSN must never precede the log record that
// produced it).
func (g *LatchGuard) MarkDirty(recLSN page.LSN) {
	cb := &g.pool.cbs[g.idx]
	cb.dirty.Store(true)
	if cb.recLSN.IsNull() || cb.recLSN.Less(recLSN) {
		cb.recLSN = recLSN
	}
}

// Unfix releases the latch and unpins the frame.
func (g *LatchGuard) Unfix() {
	cb := &g.pool.cbs[g.idx]
	if g.mode == LatchExclusive {
		cb.latch.Unlock()
	} else if g.mode == LatchShared {
		cb.latch.RUnlock()
	}
	cb.pinCnt.Add(-1)
}

// Fix pins and latches the page identified by (store, pid), loading it from
// the pager on a miss. mode selects shared or exclusive latching.
func (p *Pool) Fix(store page.StoreID, pid page.PageID, mode LatchMode) (*LatchGuard, error) {
	for {
		p.hashMu.RLock()
		idx, ok := p.hash[pageKey{store, pid}]
		p.hashMu.RUnlock()
		if ok {
			cb := &p.cbs[idx]
			cb.pinCnt.Add(1)
			if !cb.used.Load() || cb.pid != pid || cb.store != store {
				// Evicted out from under us between the lookup and the pin.
				cb.pinCnt.Add(-1)
				continue
			}
			p.latchFrame(cb, mode)
			cb.clock.Store(true)
			metrics.BufferPoolHits.Inc()
			return &LatchGuard{pool: p, idx: idx, mode: mode}, nil
		}

		idx, err := p.fault(store, pid)
		if err != nil {
			return nil, err
		}
		cb := &p.cbs[idx]
		p.latchFrame(cb, mode)
		cb.clock.Store(true)
		return &LatchGuard{pool: p, idx: idx, mode: mode}, nil
	}
}

func (p *Pool) latchFrame(cb *controlBlock, mode LatchMode) {
	switch mode {
	case LatchExclusive:
		cb.latch.Lock()
	case LatchShared:
		cb.latch.RLock()
	}
}

// fault loads (store, pid) into a free frame, publishing it to the hash map
// before returning.
func (p *Pool) fault(store page.StoreID, pid page.PageID) (int, error) {
	idx, err := p.grabFreeBlock(true)
	if err != nil {
		return 0, err
	}
	cb := &p.cbs[idx]
	pg, err := p.pager.ReadPage(store, pid)
	if err != nil {
		cb.reset()
		p.addFreeBlock(idx)
		return 0, zerr.Wrap(zerr.IOError, err, "fault page %d/%d", store, pid)
	}
	p.pages[idx] = pg
	cb.store = store
	cb.pid = pid
	cb.used.Store(true)
	cb.pinCnt.Store(1)

	p.hashMu.Lock()
	p.hash[pageKey{store, pid}] = idx
	p.hashMu.Unlock()

	metrics.BufferPoolMisses.Inc()
	metrics.BufferPoolFreeListLen.Set(float64(p.freeListLen.Load()))
	return idx, nil
}

// SetCleaner wires c as the pool's page cleaner, so the evictioner routes
// dirty write-backs through it (WAL flush past the page's rec-LSN, then the
// physical write, then a page_write record) instead of writing straight to
// the pager. Volume construction calls this once, after both the pool and
// its cleaner exist; a Pool with no cleaner set falls back to writing
// directly, which is only safe when nothing durable depends on the page's
// rec-LSN ordering (e.g. the standalone pool/package tests elsewhere in the
// tree that never touch recovery).
func (p *Pool) SetCleaner(c *Cleaner) { p.cleaner = c }

// StartEvictioner launches the background evictioner goroutine. Safe to
// call once per Pool.
func (p *Pool) StartEvictioner() {
	go p.evictioner.run()
}

// Shutdown stops the evictioner goroutine. Frames are left as-is; callers
// should flush dirty frames through the page cleaner before calling this.
func (p *Pool) Shutdown() {
	p.evictioner.stop()
}

// FixNew installs a freshly formatted page (one the caller already holds
// in memory, e.g. from allocation) into the pool without going through the
// pager, returning it exclusively latched and pinned.
func (p *Pool) FixNew(store page.StoreID, pid page.PageID, pg *page.Page) (*LatchGuard, error) {
	idx, err := p.grabFreeBlock(true)
	if err != nil {
		return nil, err
	}
	cb := &p.cbs[idx]
	p.pages[idx] = pg
	cb.store = store
	cb.pid = pid
	cb.used.Store(true)
	cb.pinCnt.Store(1)
	cb.dirty.Store(true)

	p.hashMu.Lock()
	p.hash[pageKey{store, pid}] = idx
	p.hashMu.Unlock()

	cb.latch.Lock()
	return &LatchGuard{pool: p, idx: idx, mode: LatchExclusive}, nil
}
