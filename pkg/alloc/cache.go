// Package alloc implements the allocation cache described in spec.md §4.1:
// per-store last-allocated page tracking, a freed-page set, lazily loaded
// allocation bitmap extents, and the page-LSN bookkeeping that gates
// write-back of dirty bitmap pages. Grounded line-for-line on
// original_source/src/sm/alloc_cache.cpp.
package alloc

import (
	"sync"

	"github.com/JABClari/zero/pkg/bufferpool"
	"github.com/JABClari/zero/pkg/logrecord"
	"github.com/JABClari/zero/pkg/metrics"
	"github.com/JABClari/zero/pkg/page"
)

// infraStore is the buffer-pool store id under which allocation bitmap and
// store-node pages are addressed, independent of which store owns a given
// extent (recorded in the bitmap page's own header).
const infraStore page.StoreID = 0

// Frames is the narrow capability the cache needs from the buffer pool.
type Frames interface {
	Fix(store page.StoreID, pid page.PageID, mode bufferpool.LatchMode) (*bufferpool.LatchGuard, error)
}

// WALInserter is the narrow capability the cache needs from the log.
type WALInserter interface {
	Insert(rec *logrecord.Record) (page.LSN, error)
}

// Cache is the allocation cache. One instance serves an entire volume.
type Cache struct {
	pool Frames
	wal  WALInserter

	extentBits uint32

	// allocMu serializes allocation decisions end to end (including the log
	// insert for a new extent), mirroring alloc_cache_t::sx_allocate_page
	// holding its spinlock for the whole call. mu below only protects the
	// bookkeeping maps for concurrent readers (IsAllocated, PageLSN, ...).
	allocMu sync.Mutex

	mu            sync.RWMutex
	lastAllocPage map[page.StoreID]page.PageID
	freedPages    map[page.PageID]struct{}
	loadedExtents map[uint32]bool
	pageLSNs      map[page.PageID]page.LSN
}

// New constructs an empty cache. Call LoadVirgin or LoadExisting before use.
func New(pool Frames, wal WALInserter, extentBits uint32) *Cache {
	return &Cache{
		pool:          pool,
		wal:           wal,
		extentBits:    extentBits,
		lastAllocPage: make(map[page.StoreID]page.PageID),
		freedPages:    make(map[page.PageID]struct{}),
		loadedExtents: make(map[uint32]bool),
		pageLSNs:      make(map[page.PageID]page.LSN),
	}
}

// LoadVirgin initializes the cache for a freshly formatted volume: extent 0
// (which holds the store-node page) is pre-marked loaded and allocated, per
// alloc_cache_t's virgin constructor path.
func (c *Cache) LoadVirgin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadedExtents[0] = true
	c.lastAllocPage[infraStore] = page.StoreNodePID
}

func (c *Cache) bitmapPID(ext uint32) page.PageID {
	return page.PageID(ext) * page.PageID(c.extentBits)
}

// loadExtent lazily loads extent ext's bitmap page into the cache, per
// alloc_cache_t::load_alloc_page.
func (c *Cache) loadExtent(ext uint32, isLast bool) error {
	c.mu.RLock()
	loaded := c.loadedExtents[ext]
	c.mu.RUnlock()
	if loaded {
		return nil
	}

	pid := c.bitmapPID(ext)
	g, err := c.pool.Fix(infraStore, pid, bufferpool.LatchShared)
	if err != nil {
		return err
	}
	defer g.Unfix()
	bm := page.AsBitmap(g.Page())

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loadedExtents[ext] {
		return nil
	}

	store := bm.Header().Store
	var lastAlloc uint32
	for j := int64(c.extentBits) - 1; j >= 1; j-- {
		jj := uint32(j)
		if bm.GetBit(jj) {
			if lastAlloc == 0 {
				lastAlloc = jj
				if isLast {
					c.lastAllocPage[store] = pid + page.PageID(jj)
				}
			}
		} else if lastAlloc != 0 {
			c.freedPages[pid+page.PageID(jj)] = struct{}{}
		}
	}
	c.pageLSNs[pid] = bm.LSN()
	c.loadedExtents[ext] = true
	metrics.AllocExtentLoads.Inc()
	return nil
}

// LoadExisting loads, for each store's currently-last extent, its bitmap
// page eagerly; all other extents load lazily on first touch.
func (c *Cache) LoadExisting(stores map[page.StoreID]uint32) error {
	for _, lastExtent := range stores {
		if err := c.loadExtent(lastExtent, true); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) maxLastAllocLocked() page.PageID {
	var max page.PageID
	for _, p := range c.lastAllocPage {
		if p > max {
			max = p
		}
	}
	return max
}

// LastAllocatedPID returns the highest page id allocated to any store.
func (c *Cache) LastAllocatedPID() page.PageID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxLastAllocLocked()
}

// IsAllocated reports whether pid currently denotes a live (non-freed)
// page, loading its extent on demand.
func (c *Cache) IsAllocated(pid page.PageID) (bool, error) {
	ext := uint32(pid) / c.extentBits
	c.mu.RLock()
	loaded := c.loadedExtents[ext]
	c.mu.RUnlock()
	if !loaded {
		if err := c.loadExtent(ext, false); err != nil {
			return false, err
		}
	}

	max := c.LastAllocatedPID()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if pid > max {
		return false, nil
	}
	_, freed := c.freedPages[pid]
	return !freed, nil
}

// PageLSN returns the last-known LSN stamped on pid's owning bitmap page,
// or page.NullLSN if unknown.
func (c *Cache) PageLSN(pid page.PageID) page.LSN {
	ext := uint32(pid) / c.extentBits
	bitmapPID := c.bitmapPID(ext)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pageLSNs[bitmapPID]
}

// Allocate assigns a fresh page id to store, appending a new extent to the
// store's chain first if the store's allocation has run off the end of its
// current last extent, per alloc_cache_t::sx_allocate_page's non-redo path.
func (c *Cache) Allocate(txn logrecord.TxnID, store page.StoreID, storeNode logrecord.StoreNodeHandle) (page.PageID, page.LSN, error) {
	c.allocMu.Lock()
	defer c.allocMu.Unlock()

	c.mu.Lock()
	pid := c.lastAllocPage[store] + 1

	var needsExtent bool
	var ext uint32
	if pid == 1 || uint32(pid)%c.extentBits == 0 {
		needsExtent = true
		ext = uint32(c.maxLastAllocLocked())/c.extentBits + 1
		pid = page.PageID(ext)*page.PageID(c.extentBits) + 1
	}
	c.mu.Unlock()

	if needsExtent {
		rec := logrecord.ConstructStoreNodeAppendExtent(txn, storeNode.PID(), storeNode.LSN(), store, ext)
		if _, err := c.wal.Insert(rec); err != nil {
			return 0, page.NullLSN, err
		}
		logrecord.RedoStoreNodeAppendExtent(rec, storeNode)
	}

	c.mu.Lock()
	c.lastAllocPage[store] = pid
	bitmapExt := uint32(pid) / c.extentBits
	bitmapPID := c.bitmapPID(bitmapExt)
	prevLSN := c.pageLSNs[bitmapPID]
	c.mu.Unlock()

	rec := logrecord.ConstructAllocPage(txn, store, bitmapPID, prevLSN, pid)
	lsn, err := c.wal.Insert(rec)
	if err != nil {
		return 0, page.NullLSN, err
	}
	rec.LSN = lsn
	if err := c.applyBitmapRecord(rec); err != nil {
		return 0, page.NullLSN, err
	}
	return pid, lsn, nil
}

// Deallocate marks pid freed, per alloc_cache_t::sx_deallocate_page's
// non-redo path.
func (c *Cache) Deallocate(txn logrecord.TxnID, store page.StoreID, pid page.PageID) (page.LSN, error) {
	ext := uint32(pid) / c.extentBits
	bitmapPID := c.bitmapPID(ext)

	c.mu.Lock()
	c.freedPages[pid] = struct{}{}
	prevLSN := c.pageLSNs[bitmapPID]
	c.mu.Unlock()

	rec := logrecord.ConstructDeallocPage(txn, store, bitmapPID, prevLSN, pid)
	lsn, err := c.wal.Insert(rec)
	if err != nil {
		return page.NullLSN, err
	}
	rec.LSN = lsn
	if err := c.applyBitmapRecord(rec); err != nil {
		return page.NullLSN, err
	}
	return lsn, nil
}

// RedoAllocate replays an alloc_page record during recovery, per
// alloc_cache_t::sx_allocate_page's redo path: extends last_alloc_page
// monotonically and removes pid from the freed set.
func (c *Cache) RedoAllocate(rec *logrecord.Record) error {
	body := logrecord.DecodeAllocPage(rec.Body)
	c.mu.Lock()
	if c.lastAllocPage[rec.Header.Store] < body.Allocated {
		c.lastAllocPage[rec.Header.Store] = body.Allocated
	}
	delete(c.freedPages, body.Allocated)
	c.mu.Unlock()
	return c.applyBitmapRecord(rec)
}

// RedoDeallocate replays a dealloc_page record during recovery.
func (c *Cache) RedoDeallocate(rec *logrecord.Record) error {
	body := logrecord.DecodeDeallocPage(rec.Body)
	c.mu.Lock()
	c.freedPages[body.Deallocated] = struct{}{}
	c.mu.Unlock()
	return c.applyBitmapRecord(rec)
}

// applyBitmapRecord fixes the bitmap page rec applies to and replays it,
// keeping the in-memory page and the page-LSN map current.
func (c *Cache) applyBitmapRecord(rec *logrecord.Record) error {
	g, err := c.pool.Fix(infraStore, rec.Header.PID, bufferpool.LatchExclusive)
	if err != nil {
		return err
	}
	defer g.Unfix()
	bm := page.AsBitmap(g.Page())

	switch rec.Header.Type {
	case logrecord.TypeAllocPage:
		logrecord.RedoAllocPage(rec, bm, c.extentBits)
	case logrecord.TypeDeallocPage:
		logrecord.RedoDeallocPage(rec, bm, c.extentBits)
	}
	g.MarkDirty(rec.LSN)

	c.mu.Lock()
	c.pageLSNs[rec.Header.PID] = rec.LSN
	c.mu.Unlock()
	return nil
}
