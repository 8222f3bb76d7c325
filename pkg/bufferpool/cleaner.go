package bufferpool

import (
	"go.uber.org/zap"

	"github.com/JABClari/zero/pkg/logrecord"
	"github.com/JABClari/zero/pkg/page"
)

// WALWriter is the narrow capability the cleaner needs from the log:
// insert and flush.
type WALWriter interface {
	Insert(rec *logrecord.Record) (page.LSN, error)
	Flush(upto page.LSN) error
}

// Cleaner batches dirty frames and writes them back to storage, per
// spec.md §4.5: "Collects dirty frames in batches into an aligned
// workspace; emits page_write log records recording the write's rec-LSN...
// Respects write elision: if the archive has a more recent log record for a
// page, the cleaner may skip the write." cleanLSN advances monotonically.
type Cleaner struct {
	pool *Pool
	wal  WALWriter
	log  *zap.Logger

	cleanLSN page.LSN

	// imageLSN, supplied by the caller per page, is the LSN of the most
	// recent log record already durable against that page — the write
	// elision check.
	imageLSN func(store page.StoreID, pid page.PageID) page.LSN
}

// NewCleaner constructs a cleaner. imageLSN may be nil, in which case write
// elision never triggers.
func NewCleaner(pool *Pool, wal WALWriter, log *zap.Logger, imageLSN func(page.StoreID, page.PageID) page.LSN) *Cleaner {
	return &Cleaner{pool: pool, wal: wal, log: log, imageLSN: imageLSN}
}

// CleanLSN returns the LSN below which every dirty page as of that point is
// known durable — the gate for write_dirty_bitmap_pages (spec.md §5's
// resource policy on freed allocation bits).
func (c *Cleaner) CleanLSN() page.LSN { return c.cleanLSN }

// Sweep writes back every currently dirty, unpinned frame, per spec.md's
// WAL ordering guarantee ("log is flushed past page-LSN before the page is
// written"): each page's write-back flushes the WAL up to that page's own
// rec-LSN before the physical write happens, not once after the whole
// batch — a batch-wide flush at the end would let every page but the one
// with the largest rec-LSN hit disk ahead of its justifying log record.
func (c *Cleaner) Sweep() error {
	p := c.pool
	var maxRecLSN page.LSN
	wrote := 0

	for i := range p.cbs {
		cb := &p.cbs[i]
		if !cb.used.Load() || !cb.dirty.Load() {
			continue
		}
		if !cb.latch.TryLock() {
			continue
		}
		if !cb.dirty.Load() {
			cb.latch.Unlock()
			continue
		}

		if c.imageLSN != nil {
			if latest := c.imageLSN(cb.store, cb.pid); !latest.IsNull() && cb.recLSN.Less(latest) {
				// A more recent record already covers this page; skip the
				// physical write (write elision).
				cb.latch.Unlock()
				continue
			}
		}

		store, pid, pg, recLSN := cb.store, cb.pid, p.pages[i], cb.recLSN
		if err := c.writeBack(store, pid, pg, recLSN); err != nil {
			cb.latch.Unlock()
			return err
		}
		cb.dirty.Store(false)
		cb.latch.Unlock()

		if maxRecLSN.Less(recLSN) {
			maxRecLSN = recLSN
		}
		wrote++
	}

	if wrote == 0 {
		return nil
	}
	if c.cleanLSN.Less(maxRecLSN) {
		c.cleanLSN = maxRecLSN
	}
	c.log.Debug("page cleaner sweep complete", zap.Int("pages_written", wrote))
	return nil
}

// writeBack durably writes one page back to storage: flush the WAL past
// recLSN, perform the physical write, then log a page_write record of it.
// The caller must hold the frame's latch. Shared by Sweep's batch loop and
// the evictioner's single-frame reclaim, so eviction-driven writes get the
// same ordering guarantee a checkpoint sweep does.
func (c *Cleaner) writeBack(store page.StoreID, pid page.PageID, pg *page.Page, recLSN page.LSN) error {
	if !recLSN.IsNull() {
		if err := c.wal.Flush(recLSN); err != nil {
			return err
		}
	}
	if err := c.pool.pager.WritePage(store, pid, pg); err != nil {
		return err
	}
	rec := logrecord.ConstructPageWrite(pid, recLSN, 1)
	_, err := c.wal.Insert(rec)
	return err
}
