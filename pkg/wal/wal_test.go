package wal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JABClari/zero/pkg/config"
	"github.com/JABClari/zero/pkg/logrecord"
	"github.com/JABClari/zero/pkg/page"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.LogBlockSize = 512
	cfg.LogSegmentBlocks = 4
	cfg.LogSegmentsPerPartition = 2
	return cfg
}

func TestInsertFetchRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer w.Shutdown()

	rec := logrecord.ConstructAllocPage(1, page.StoreID(1), page.PageID(1), page.NullLSN, page.PageID(7))
	lsn, err := w.Insert(rec)
	require.NoError(t, err)
	require.False(t, lsn.IsNull())

	require.NoError(t, w.Flush(lsn))
	require.False(t, w.DurableLSN().Less(lsn))

	got, err := w.Fetch(lsn)
	require.NoError(t, err)
	require.Equal(t, logrecord.TypeAllocPage, got.Header.Type)
	require.Equal(t, lsn, got.LSN)
}

func TestInsertAssignsIncreasingLSNs(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer w.Shutdown()

	var prev page.LSN
	for i := 0; i < 20; i++ {
		rec := logrecord.ConstructTxnBegin(logrecord.TxnID(i))
		lsn, err := w.Insert(rec)
		require.NoError(t, err)
		require.True(t, prev.LessEq(lsn))
		prev = lsn
	}
}

func TestConcurrentInsertsGetDistinctLSNs(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer w.Shutdown()

	const n = 50
	results := make(chan page.LSN, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			rec := logrecord.ConstructTxnBegin(logrecord.TxnID(i))
			lsn, err := w.Insert(rec)
			require.NoError(t, err)
			results <- lsn
		}(i)
	}
	seen := make(map[uint64]bool)
	for i := 0; i < n; i++ {
		lsn := <-results
		key := lsn.Uint64() + uint64(lsn.Partition)<<40
		require.False(t, seen[key], "duplicate lsn assigned")
		seen[key] = true
	}
}

func TestFlushDaemonFlushesOnTimer(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.GroupCommitTimeout = 10 * time.Millisecond
	w, err := Open(dir, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer w.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.StartFlushDaemon(ctx)

	rec := logrecord.ConstructTxnBegin(1)
	lsn, err := w.Insert(rec)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !w.DurableLSN().Less(lsn)
	}, time.Second, 5*time.Millisecond)
}

func TestOldestLSNTracker(t *testing.T) {
	tr := NewOldestLSNTracker()
	require.True(t, tr.Oldest().IsNull())

	a := page.LSN{Partition: 1, Offset: 10}
	b := page.LSN{Partition: 1, Offset: 5}
	c := page.LSN{Partition: 1, Offset: 20}

	tr.Add(a)
	tr.Add(b)
	tr.Add(c)
	require.Equal(t, b, tr.Oldest())

	tr.Remove(b)
	require.Equal(t, a, tr.Oldest())

	tr.Remove(a)
	tr.Remove(c)
	require.True(t, tr.Oldest().IsNull())
}

func TestTruncateRemovesFullyObsoletePartitions(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	w, err := Open(dir, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer w.Shutdown()

	cap := partitionCapacity(cfg)
	body := make([]byte, cap/2)
	var lastLSN page.LSN
	for i := 0; i < 10; i++ {
		rec := logrecord.ConstructBtreeGhostReclaim(logrecord.TxnID(1), page.StoreID(1), page.PageID(1), page.NullLSN)
		rec.Body = body
		lsn, err := w.Insert(rec)
		require.NoError(t, err)
		lastLSN = lsn
	}
	require.NoError(t, w.FlushAll())

	w.oldest.Add(lastLSN)
	require.NoError(t, w.Truncate())

	w.mu.Lock()
	_, stillHasFirstPartition := w.partitions[1]
	w.mu.Unlock()
	require.False(t, stillHasFirstPartition)
}
