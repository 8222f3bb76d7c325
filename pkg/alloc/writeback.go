package alloc

import (
	"github.com/JABClari/zero/pkg/bufferpool"
	"github.com/JABClari/zero/pkg/logrecord"
	"github.com/JABClari/zero/pkg/page"
)

// WALFetcher is the narrow capability write-back needs from the log: random
// access to an already-inserted record by LSN, used to walk a page's update
// chain backward for single-page recovery.
type WALFetcher interface {
	Fetch(lsn page.LSN) (*logrecord.Record, error)
}

// WriteDirtyBitmapPages implements alloc_cache_t::write_dirty_pages: for
// every allocation bitmap extent whose last recorded update is at or before
// recLSN, bring its on-disk image current (reading it, and if its stored
// LSN is older than what the cache knows, replaying the missing records via
// single-page recovery) and write it back, emitting a page_write record.
// This is the gate for truncating log partitions the allocation bitmap
// still depends on (spec.md §5's resource policy on freed allocation
// bits).
func (c *Cache) WriteDirtyBitmapPages(pager bufferpool.Pager, fetch WALFetcher, recLSN page.LSN) error {
	lastExtent := uint32(c.LastAllocatedPID()) / c.extentBits

	for ext := uint32(0); ext <= lastExtent; ext++ {
		pid := c.bitmapPID(ext)

		c.mu.RLock()
		pageLSN, ok := c.pageLSNs[pid]
		c.mu.RUnlock()
		if !ok || recLSN.Less(pageLSN) {
			continue
		}

		pg, err := readVerifyReplay(pager, fetch, pid, pageLSN, c.extentBits)
		if err != nil {
			return err
		}
		if err := pager.WritePage(infraStore, pid, pg); err != nil {
			return err
		}
		if _, err := c.wal.Insert(logrecord.ConstructPageWrite(pid, recLSN, 1)); err != nil {
			return err
		}
	}
	return nil
}

// readVerifyReplay reads pid's current on-disk image, and if it is older
// than targetLSN, walks the record chain backward from targetLSN via each
// record's PrevLSN until reaching the disk image's own LSN, then replays
// the collected records forward against the in-memory copy.
func readVerifyReplay(pager bufferpool.Pager, fetch WALFetcher, pid page.PageID, targetLSN page.LSN, extentBits uint32) (*page.Page, error) {
	pg, err := pager.ReadPage(infraStore, pid)
	if err != nil {
		return nil, err
	}
	bm := page.AsBitmap(pg)
	if !bm.LSN().Less(targetLSN) {
		return pg, nil
	}

	var chain []*logrecord.Record
	cur := targetLSN
	for !cur.IsNull() && bm.LSN().Less(cur) {
		rec, err := fetch.Fetch(cur)
		if err != nil {
			return nil, err
		}
		chain = append(chain, rec)
		cur = rec.Header.PrevLSN
	}
	for i := len(chain) - 1; i >= 0; i-- {
		rec := chain[i]
		switch rec.Header.Type {
		case logrecord.TypeAllocPage:
			logrecord.RedoAllocPage(rec, bm, extentBits)
		case logrecord.TypeDeallocPage:
			logrecord.RedoDeallocPage(rec, bm, extentBits)
		}
	}
	return pg, nil
}
