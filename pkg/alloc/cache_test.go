package alloc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JABClari/zero/pkg/bufferpool"
	"github.com/JABClari/zero/pkg/config"
	"github.com/JABClari/zero/pkg/logrecord"
	"github.com/JABClari/zero/pkg/page"
)

type diskPage struct {
	store page.StoreID
	pid   page.PageID
}

type fakePager struct {
	mu    sync.Mutex
	pages map[diskPage]*page.Page
}

func newFakePager() *fakePager { return &fakePager{pages: make(map[diskPage]*page.Page)} }

func (f *fakePager) ReadPage(store page.StoreID, pid page.PageID) (*page.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pg, ok := f.pages[diskPage{store, pid}]; ok {
		return pg, nil
	}
	return page.New(4096), nil
}

func (f *fakePager) WritePage(store page.StoreID, pid page.PageID, p *page.Page) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[diskPage{store, pid}] = p
	return nil
}

type fakeWAL struct {
	mu      sync.Mutex
	records map[uint64]*logrecord.Record
	next    uint32
}

func newFakeWAL() *fakeWAL { return &fakeWAL{records: make(map[uint64]*logrecord.Record)} }

func (w *fakeWAL) Insert(rec *logrecord.Record) (page.LSN, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next++
	lsn := page.LSN{Partition: 1, Offset: w.next}
	rec.LSN = lsn
	w.records[lsn.Uint64()] = rec
	return lsn, nil
}

func (w *fakeWAL) Fetch(lsn page.LSN) (*logrecord.Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records[lsn.Uint64()], nil
}

type fakeStoreNode struct {
	mu    sync.Mutex
	lsn   page.LSN
	last  map[page.StoreID]uint32
	roots map[page.StoreID]page.PageID
}

func newFakeStoreNode() *fakeStoreNode {
	return &fakeStoreNode{last: make(map[page.StoreID]uint32), roots: make(map[page.StoreID]page.PageID)}
}

func (s *fakeStoreNode) PID() page.PageID { return page.StoreNodePID }
func (s *fakeStoreNode) LSN() page.LSN {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lsn
}
func (s *fakeStoreNode) SetLSN(lsn page.LSN) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lsn = lsn
}
func (s *fakeStoreNode) SetLastExtent(store page.StoreID, extent uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[store] = extent
}
func (s *fakeStoreNode) SetRoot(store page.StoreID, root page.PageID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots[store] = root
}

const testExtentBits = 64

func newTestCache(t *testing.T) (*Cache, *bufferpool.Pool, *fakeWAL, *fakePager) {
	pager := newFakePager()
	cfg := config.Default()
	cfg.PageSize = 4096
	pool := bufferpool.New(cfg, 16, pager, zaptest.NewLogger(t))
	pool.StartEvictioner()
	t.Cleanup(pool.Shutdown)
	wal := newFakeWAL()
	c := New(pool, wal, testExtentBits)
	c.LoadVirgin()
	return c, pool, wal, pager
}

func TestAllocateAssignsSequentialPages(t *testing.T) {
	c, _, _, _ := newTestCache(t)
	sn := newFakeStoreNode()

	var pids []page.PageID
	for i := 0; i < 5; i++ {
		pid, lsn, err := c.Allocate(1, page.StoreID(1), sn)
		require.NoError(t, err)
		require.False(t, lsn.IsNull())
		pids = append(pids, pid)
	}
	for i := 1; i < len(pids); i++ {
		require.Equal(t, pids[i-1]+1, pids[i])
	}
}

func TestAllocateAppendsExtentWhenFull(t *testing.T) {
	c, _, _, _ := newTestCache(t)
	sn := newFakeStoreNode()

	// Drain store 1's first extent; extent 0 belongs to the store-node page,
	// so store 1 starts allocating from extent 1's first page.
	var last page.PageID
	for i := uint32(0); i < testExtentBits-1; i++ {
		pid, _, err := c.Allocate(1, page.StoreID(1), sn)
		require.NoError(t, err)
		last = pid
	}
	require.Equal(t, page.PageID(2*testExtentBits-1), last, "first extent's data pages should run up to its last slot")

	nextPID, _, err := c.Allocate(1, page.StoreID(1), sn)
	require.NoError(t, err)
	require.Equal(t, uint32(1), uint32(nextPID)%testExtentBits, "new extent's first data page is slot 1, slot 0 is the bitmap header itself")
	require.NotEqual(t, last+1, nextPID, "crossing an extent boundary should skip to the new extent's first data page")
}

func TestDeallocateThenIsAllocated(t *testing.T) {
	c, _, _, _ := newTestCache(t)
	sn := newFakeStoreNode()

	pid, _, err := c.Allocate(1, page.StoreID(1), sn)
	require.NoError(t, err)

	ok, err := c.IsAllocated(pid)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = c.Deallocate(1, page.StoreID(1), pid)
	require.NoError(t, err)

	ok, err = c.IsAllocated(pid)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedoAllocateIsIdempotent(t *testing.T) {
	c, _, wal, _ := newTestCache(t)
	sn := newFakeStoreNode()

	pid, lsn, err := c.Allocate(1, page.StoreID(1), sn)
	require.NoError(t, err)

	rec, err := wal.Fetch(lsn)
	require.NoError(t, err)

	require.NoError(t, c.RedoAllocate(rec))
	require.NoError(t, c.RedoAllocate(rec))

	ok, err := c.IsAllocated(pid)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWriteDirtyBitmapPages(t *testing.T) {
	c, _, wal, pager := newTestCache(t)
	sn := newFakeStoreNode()

	_, lsn, err := c.Allocate(1, page.StoreID(1), sn)
	require.NoError(t, err)

	require.NoError(t, c.WriteDirtyBitmapPages(pager, wal, lsn))

	_, ok := pager.pages[diskPage{infraStore, c.bitmapPID(1)}]
	require.True(t, ok, "bitmap page for the extent should have been written back")
}
