package bufferpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JABClari/zero/pkg/config"
	"github.com/JABClari/zero/pkg/page"
)

type fakePager struct {
	mu    sync.Mutex
	store map[pageKey]*page.Page
}

func newFakePager() *fakePager {
	return &fakePager{store: make(map[pageKey]*page.Page)}
}

func (f *fakePager) ReadPage(store page.StoreID, pid page.PageID) (*page.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pg, ok := f.store[pageKey{store, pid}]; ok {
		return pg, nil
	}
	return page.New(8192), nil
}

func (f *fakePager) WritePage(store page.StoreID, pid page.PageID, p *page.Page) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[pageKey{store, pid}] = p
	return nil
}

func testPool(t *testing.T, frames int) (*Pool, *fakePager) {
	cfg := config.Default()
	pager := newFakePager()
	pool := New(cfg, frames, pager, zaptest.NewLogger(t))
	pool.StartEvictioner()
	t.Cleanup(pool.Shutdown)
	return pool, pager
}

func TestFixMissThenHit(t *testing.T) {
	pool, _ := testPool(t, 4)

	g, err := pool.Fix(1, 5, LatchExclusive)
	require.NoError(t, err)
	g.Page().SetFenceLow([]byte("a"))
	g.Unfix()

	g2, err := pool.Fix(1, 5, LatchShared)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), g2.Page().FenceLow())
	g2.Unfix()
}

func TestGrabAndAddFreeBlock(t *testing.T) {
	pool, _ := testPool(t, 2)

	idx1, err := pool.grabFreeBlock(false)
	require.NoError(t, err)
	idx2, err := pool.grabFreeBlock(false)
	require.NoError(t, err)
	require.NotEqual(t, idx1, idx2)

	_, err = pool.grabFreeBlock(false)
	require.Error(t, err)

	pool.cbs[idx1].used.Store(false)
	pool.addFreeBlock(idx1)
	idx3, err := pool.grabFreeBlock(false)
	require.NoError(t, err)
	require.Equal(t, idx1, idx3)
}

func TestEvictionReclaimsUnpinnedFrame(t *testing.T) {
	pool, pager := testPool(t, 1)

	g, err := pool.Fix(1, 1, LatchExclusive)
	require.NoError(t, err)
	g.MarkDirty(page.LSN{Partition: 1, Offset: 1})
	g.Unfix()

	// With only one frame, fixing a second page forces eviction of the
	// first, which must write it back via the pager.
	g2, err := pool.Fix(1, 2, LatchExclusive)
	require.NoError(t, err)
	g2.Unfix()

	_, ok := pager.store[pageKey{1, 1}]
	require.True(t, ok, "evicted dirty page should have been written back")
}

func TestPinPreventsEviction(t *testing.T) {
	pool, _ := testPool(t, 1)

	g, err := pool.Fix(1, 1, LatchShared)
	require.NoError(t, err)
	defer g.Unfix()

	_, err = pool.grabFreeBlock(false)
	require.Error(t, err, "sole frame is pinned, nothing to reclaim without eviction")
}
