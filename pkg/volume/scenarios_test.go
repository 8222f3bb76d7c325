package volume

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JABClari/zero/pkg/config"
	"github.com/JABClari/zero/pkg/page"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.PageSize = 4096
	cfg.BufferPoolFrames = 64
	cfg.LogBlockSize = 512
	cfg.LogSegmentBlocks = 4
	cfg.LogSegmentsPerPartition = 2
	cfg.CheckpointInterval = 0
	return cfg
}

func scanAll(t *testing.T, v *Volume, store page.StoreID) [][2]string {
	tx, err := v.Begin()
	require.NoError(t, err)
	cur, err := v.Scan(context.Background(), tx, store, nil, true, nil, true, true, true)
	require.NoError(t, err)
	var got [][2]string
	for {
		ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, [2]string{string(cur.Key()), string(cur.Value())})
	}
	require.NoError(t, v.Commit(tx))
	return got
}

func TestCreateOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	v, err := Create(dir, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	wantID := v.ID()
	require.NoError(t, v.Shutdown())

	v2, err := Open(dir, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer v2.Shutdown()
	require.Equal(t, wantID, v2.ID())
}

// TestInsertCommitScan is spec.md §8 scenario 1: insert a handful of rows
// in one committed transaction, then scan and see exactly those rows back.
func TestInsertCommitScan(t *testing.T) {
	dir := t.TempDir()
	v, err := Create(dir, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer v.Shutdown()

	sid, err := v.CreateStore()
	require.NoError(t, err)

	tx, err := v.Begin()
	require.NoError(t, err)
	rows := [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}}
	for _, r := range rows {
		require.NoError(t, v.Insert(context.Background(), tx, sid, []byte(r[0]), []byte(r[1]), true))
	}
	require.NoError(t, v.Commit(tx))

	got := scanAll(t, v, sid)
	require.Equal(t, rows, got)
}

// TestCrashRecoveryUndoesUncommittedMultiInsert is spec.md §8 scenario 2:
// a multi-insert transaction left uncommitted when the process ends must
// be fully undone by the next Open's recovery pass, while rows a prior
// committed transaction wrote survive.
func TestCrashRecoveryUndoesUncommittedMultiInsert(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	v, err := Create(dir, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	sid, err := v.CreateStore()
	require.NoError(t, err)

	committed, err := v.Begin()
	require.NoError(t, err)
	require.NoError(t, v.Insert(context.Background(), committed, sid, []byte("k1"), []byte("v1"), true))
	require.NoError(t, v.Insert(context.Background(), committed, sid, []byte("k2"), []byte("v2"), true))
	require.NoError(t, v.Insert(context.Background(), committed, sid, []byte("k3"), []byte("v3"), true))
	require.NoError(t, v.Commit(committed))

	inflight, err := v.Begin()
	require.NoError(t, err)
	require.NoError(t, v.Insert(context.Background(), inflight, sid, []byte("x1"), []byte("bad"), true))
	require.NoError(t, v.Insert(context.Background(), inflight, sid, []byte("x2"), []byte("bad"), true))
	require.NoError(t, v.wal.FlushAll())
	// Simulate a crash: no Commit, no Abort, no clean Shutdown of txns/cleaner.
	v.cancel()
	require.NoError(t, v.wal.Shutdown())
	require.NoError(t, v.pager.Sync())
	require.NoError(t, v.pager.Close())

	v2, err := Open(dir, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer v2.Shutdown()

	got := scanAll(t, v2, sid)
	require.Equal(t, [][2]string{{"k1", "v1"}, {"k2", "v2"}, {"k3", "v3"}}, got)
}

// TestAbortedRemoveAndUpdate is spec.md §8 scenario 3: abort must undo a
// Remove (the key comes back) and an Update (the old value comes back).
func TestAbortedRemoveAndUpdate(t *testing.T) {
	dir := t.TempDir()
	v, err := Create(dir, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer v.Shutdown()

	sid, err := v.CreateStore()
	require.NoError(t, err)

	setup, err := v.Begin()
	require.NoError(t, err)
	require.NoError(t, v.Insert(context.Background(), setup, sid, []byte("k"), []byte("orig"), true))
	require.NoError(t, v.Insert(context.Background(), setup, sid, []byte("gone"), []byte("bye"), true))
	require.NoError(t, v.Commit(setup))

	tx, err := v.Begin()
	require.NoError(t, err)
	require.NoError(t, v.Update(context.Background(), tx, sid, []byte("k"), []byte("changed"), true))
	require.NoError(t, v.Remove(context.Background(), tx, sid, []byte("gone"), true))
	require.NoError(t, v.Abort(context.Background(), tx))

	got := scanAll(t, v, sid)
	require.Equal(t, [][2]string{{"gone", "bye"}, {"k", "orig"}}, got)
}

// TestSplitUnderLoad is spec.md §8 scenario 4: enough keys that the tree
// must split repeatedly, verified by reading every key back afterward.
func TestSplitUnderLoad(t *testing.T) {
	dir := t.TempDir()
	v, err := Create(dir, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer v.Shutdown()

	sid, err := v.CreateStore()
	require.NoError(t, err)

	const n = 10000
	for i := 0; i < n; i++ {
		tx, err := v.Begin()
		require.NoError(t, err)
		key := []byte(fmt.Sprintf("key-%06d", i))
		val := []byte(fmt.Sprintf("val-%06d", i))
		require.NoError(t, v.Insert(context.Background(), tx, sid, key, val, true))
		require.NoError(t, v.Commit(tx))
	}

	tx, err := v.Begin()
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%06d", i))
		want := []byte(fmt.Sprintf("val-%06d", i))
		got, ok, err := v.Get(context.Background(), tx, sid, key, true)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	require.NoError(t, v.Commit(tx))
}

// TestGhostReclaimIdempotence is spec.md §8 scenario 5: insert 200 keys and
// commit, remove every other key and commit, force the ghost_reclaim SSX
// on the affected leaves, crash, recover, and verify the scan equals the
// expected 100 surviving keys.
func TestGhostReclaimIdempotence(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	v, err := Create(dir, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	sid, err := v.CreateStore()
	require.NoError(t, err)

	const n = 200
	tx, err := v.Begin()
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		require.NoError(t, v.Insert(context.Background(), tx, sid, key, key, true))
	}
	require.NoError(t, v.Commit(tx))

	var survivors [][2]string
	del, err := v.Begin()
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		if i%2 == 0 {
			require.NoError(t, v.Remove(context.Background(), del, sid, key, true))
			continue
		}
		survivors = append(survivors, [2]string{string(key), string(key)})
	}
	require.NoError(t, v.Commit(del))

	reclaim, err := v.Begin()
	require.NoError(t, err)
	for i := 0; i < n; i += 2 {
		key := []byte(fmt.Sprintf("key-%04d", i))
		require.NoError(t, v.ReclaimGhosts(context.Background(), reclaim, sid, key))
	}
	require.NoError(t, v.Commit(reclaim))

	require.NoError(t, v.wal.FlushAll())
	// Simulate a crash: no clean Shutdown of txns/cleaner.
	v.cancel()
	require.NoError(t, v.wal.Shutdown())
	require.NoError(t, v.pager.Sync())
	require.NoError(t, v.pager.Close())

	v2, err := Open(dir, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer v2.Shutdown()

	require.Equal(t, survivors, scanAll(t, v2, sid))
}

// TestAllocateDeallocateRoundtrip is spec.md §8 scenario 6: allocate 50
// pages in one store, deallocate the even-indexed ones, flush the bitmap
// pages, restart, and reload: is_allocated must match the surviving odd
// set and last_alloc_page[s] must match the maximum pid ever allocated.
func TestAllocateDeallocateRoundtrip(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	v, err := Create(dir, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	sid, err := v.CreateStore()
	require.NoError(t, err)

	const n = 50
	var ids []page.PageID
	tx, err := v.Begin()
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		pid, err := v.Allocate(tx, sid)
		require.NoError(t, err)
		ids = append(ids, pid)
	}
	require.NoError(t, v.Commit(tx))
	maxAllocated := v.alloc.LastAllocatedPID()

	dealloc, err := v.Begin()
	require.NoError(t, err)
	for i := 0; i < n; i += 2 {
		require.NoError(t, v.Deallocate(dealloc, sid, ids[i]))
	}
	require.NoError(t, v.Commit(dealloc))

	require.NoError(t, v.Checkpoint())
	v.cancel()
	require.NoError(t, v.wal.Shutdown())
	require.NoError(t, v.pager.Sync())
	require.NoError(t, v.pager.Close())

	v2, err := Open(dir, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer v2.Shutdown()

	for i, pid := range ids {
		got, err := v2.IsAllocated(pid)
		require.NoError(t, err)
		require.Equal(t, i%2 != 0, got, "pid %d (index %d)", pid, i)
	}
	require.Equal(t, maxAllocated, v2.alloc.LastAllocatedPID())
}
