package bufferpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JABClari/zero/pkg/config"
	"github.com/JABClari/zero/pkg/logrecord"
	"github.com/JABClari/zero/pkg/page"
)

// recordingWAL is a WALWriter that logs every Flush/Insert call, in order,
// so tests can assert on relative ordering rather than just final state.
type recordingWAL struct {
	mu    sync.Mutex
	calls []string
	next  page.LSN
}

func newRecordingWAL() *recordingWAL {
	return &recordingWAL{next: page.LSN{Partition: 1, Offset: 1}}
}

func (w *recordingWAL) Flush(upto page.LSN) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, "flush:"+upto.String())
	return nil
}

func (w *recordingWAL) Insert(rec *logrecord.Record) (page.LSN, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	lsn := w.next
	w.next.Offset++
	w.calls = append(w.calls, "insert:"+rec.Header.Type.String())
	return lsn, nil
}

// writeRecordingPager wraps fakePager, additionally logging each WritePage
// call into the same ordered call log recordingWAL writes to, so a test can
// see exactly where a physical write landed relative to a flush.
type writeRecordingPager struct {
	*fakePager
	wal *recordingWAL
	pid page.PageID
}

func (p *writeRecordingPager) WritePage(store page.StoreID, pid page.PageID, pg *page.Page) error {
	p.wal.mu.Lock()
	p.wal.calls = append(p.wal.calls, "write")
	p.wal.mu.Unlock()
	return p.fakePager.WritePage(store, pid, pg)
}

// TestSweepFlushesBeforeEachWrite is the crash-simulation check the
// batch-flush-at-the-end version of Sweep had no coverage for: with two
// dirty pages carrying distinct rec-LSNs, each page's own flush must
// happen before that page's physical write, not after the whole batch —
// otherwise a crash between the first write and the final flush could
// leave a page durable on disk whose justifying log record was not.
func TestSweepFlushesBeforeEachWrite(t *testing.T) {
	wal := newRecordingWAL()
	pager := &writeRecordingPager{fakePager: newFakePager(), wal: wal}
	cfg := config.Default()
	pool := New(cfg, 4, pager, zaptest.NewLogger(t))
	cleaner := NewCleaner(pool, wal, zaptest.NewLogger(t), nil)
	pool.SetCleaner(cleaner)

	g1, err := pool.Fix(1, 1, LatchExclusive)
	require.NoError(t, err)
	g1.MarkDirty(page.LSN{Partition: 1, Offset: 10})
	g1.Unfix()

	g2, err := pool.Fix(1, 2, LatchExclusive)
	require.NoError(t, err)
	g2.MarkDirty(page.LSN{Partition: 1, Offset: 20})
	g2.Unfix()

	require.NoError(t, cleaner.Sweep())

	var flushes, writes int
	for i, c := range wal.calls {
		if c == "write" {
			writes++
			require.Positive(t, flushes, "write at call %d happened before any flush", i)
		} else if len(c) >= 6 && c[:6] == "flush:" {
			flushes++
		}
	}
	require.Equal(t, 2, writes)
	require.Equal(t, 2, flushes)
}

// TestEvictionFlushesBeforeWriting mirrors the same ordering requirement
// for the evictioner's single-frame path, which used to call the pager
// directly with no flush at all.
func TestEvictionFlushesBeforeWriting(t *testing.T) {
	wal := newRecordingWAL()
	pager := &writeRecordingPager{fakePager: newFakePager(), wal: wal}
	cfg := config.Default()
	pool := New(cfg, 1, pager, zaptest.NewLogger(t))
	cleaner := NewCleaner(pool, wal, zaptest.NewLogger(t), nil)
	pool.SetCleaner(cleaner)
	pool.StartEvictioner()
	t.Cleanup(pool.Shutdown)

	g, err := pool.Fix(1, 1, LatchExclusive)
	require.NoError(t, err)
	g.MarkDirty(page.LSN{Partition: 1, Offset: 7})
	g.Unfix()

	// Only one frame: fixing a second page forces eviction of the first.
	g2, err := pool.Fix(1, 2, LatchExclusive)
	require.NoError(t, err)
	g2.Unfix()

	_, ok := pager.store[pageKey{1, 1}]
	require.True(t, ok, "evicted dirty page should have been written back")

	require.NotEmpty(t, wal.calls)
	require.Equal(t, "flush:1.7", wal.calls[0], "eviction must flush past the page's rec-LSN before writing it")
	require.Contains(t, wal.calls, "write")
	require.Contains(t, wal.calls, "insert:page_write")
}
