package btree

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JABClari/zero/pkg/alloc"
	"github.com/JABClari/zero/pkg/bufferpool"
	"github.com/JABClari/zero/pkg/config"
	"github.com/JABClari/zero/pkg/lockmgr"
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
	mu   sync.Mutex
	next uint32
}

func newFakeWAL() *fakeWAL { return &fakeWAL{} }

func (w *fakeWAL) Insert(rec *logrecord.Record) (page.LSN, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next++
	lsn := page.LSN{Partition: 1, Offset: w.next}
	rec.LSN = lsn
	return lsn, nil
}

const testExtentBits = 64

func newTestStore(t *testing.T) *Store {
	pager := newFakePager()
	cfg := config.Default()
	cfg.PageSize = 4096
	pool := bufferpool.New(cfg, 64, pager, zaptest.NewLogger(t))
	pool.StartEvictioner()
	t.Cleanup(pool.Shutdown)

	wal := newFakeWAL()
	ac := alloc.New(pool, wal, testExtentBits)
	ac.LoadVirgin()

	s := New(page.StoreID(1), cfg.PageSize, pool, wal, ac, lockmgr.New())
	require.NoError(t, s.Create(1))
	return s
}

func TestInsertGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, 1, []byte("apple"), []byte("red"), true))
	require.NoError(t, s.Insert(ctx, 1, []byte("banana"), []byte("yellow"), true))

	val, ok, err := s.Get(ctx, 1, []byte("apple"), true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("red"), val)

	val, ok, err = s.Get(ctx, 1, []byte("banana"), true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("yellow"), val)

	_, ok, err = s.Get(ctx, 1, []byte("cherry"), true)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInsertDuplicateKeyFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, 1, []byte("k"), []byte("v1"), true))
	err := s.Insert(ctx, 1, []byte("k"), []byte("v2"), true)
	require.Error(t, err)
}

func TestUpdateReplacesValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, 1, []byte("k"), []byte("old"), true))
	require.NoError(t, s.Update(ctx, 1, []byte("k"), []byte("much longer new value"), true))

	val, ok, err := s.Get(ctx, 1, []byte("k"), true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("much longer new value"), val)
}

func TestOverwritePatchesRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, 1, []byte("k"), []byte("0123456789"), true))
	require.NoError(t, s.Overwrite(ctx, 1, []byte("k"), 3, []byte("XYZ"), true))

	val, ok, err := s.Get(ctx, 1, []byte("k"), true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("012XYZ6789"), val)
}

func TestRemoveThenGetMisses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, 1, []byte("k"), []byte("v"), true))
	require.NoError(t, s.Remove(ctx, 1, []byte("k"), true))

	_, ok, err := s.Get(ctx, 1, []byte("k"), true)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRemoveThenReinsertSucceeds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, 1, []byte("k"), []byte("v1"), true))
	require.NoError(t, s.Remove(ctx, 1, []byte("k"), true))
	require.NoError(t, s.Insert(ctx, 1, []byte("k"), []byte("v2"), true))

	val, ok, err := s.Get(ctx, 1, []byte("k"), true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), val)
}

// TestManyInsertsTriggerSplitAndRootGrowth inserts enough keys that the
// root leaf must split repeatedly and the tree grows at least one level,
// then verifies every key is still reachable.
func TestManyInsertsTriggerSplitAndRootGrowth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 400
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		val := []byte(fmt.Sprintf("value-%04d", i))
		require.NoError(t, s.Insert(ctx, 1, key, val, true))
	}

	root, err := s.rootPID()
	require.NoError(t, err)
	g, err := s.pool.Fix(s.ID, root, bufferpool.LatchShared)
	require.NoError(t, err)
	level := g.Page().Header().Level
	g.Unfix()
	require.Greater(t, int(level), 0, "root should have grown past the leaf level")

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		want := []byte(fmt.Sprintf("value-%04d", i))
		val, ok, err := s.Get(ctx, 1, key, true)
		require.NoErrorf(t, err, "key %s", key)
		require.Truef(t, ok, "key %s missing", key)
		require.Equalf(t, want, val, "key %s", key)
	}
}
