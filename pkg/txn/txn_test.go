package txn

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JABClari/zero/pkg/lockmgr"
	"github.com/JABClari/zero/pkg/logrecord"
	"github.com/JABClari/zero/pkg/page"
	"github.com/JABClari/zero/pkg/wal"
)

type fakeWAL struct {
	mu      sync.Mutex
	next    uint32
	durable page.LSN
}

func (f *fakeWAL) Insert(rec *logrecord.Record) (page.LSN, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	lsn := page.LSN{Partition: 1, Offset: f.next}
	rec.LSN = lsn
	return lsn, nil
}

func (f *fakeWAL) Flush(upto page.LSN) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.durable.Less(upto) {
		f.durable = upto
	}
	return nil
}

type fakeUndoer struct {
	mu   sync.Mutex
	seen []page.LSN
}

func (f *fakeUndoer) Undo(ctx context.Context, t logrecord.TxnID, rec *logrecord.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, rec.LSN)
	return nil
}

func newManager(t *testing.T) *Manager {
	return New(&fakeWAL{}, wal.NewOldestLSNTracker(), lockmgr.New(), zaptest.NewLogger(t))
}

func TestBeginCommit(t *testing.T) {
	m := newManager(t)
	tx, err := m.Begin()
	require.NoError(t, err)
	require.Equal(t, Active, tx.State())

	require.NoError(t, m.Commit(tx))
	require.Equal(t, Committed, tx.State())

	_, ok := m.Lookup(tx.ID)
	require.False(t, ok)
}

func TestCommitTwiceFails(t *testing.T) {
	m := newManager(t)
	tx, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.Commit(tx))
	require.Error(t, m.Commit(tx))
}

func TestAbortUndoesRecordsMostRecentFirst(t *testing.T) {
	m := newManager(t)
	tx, err := m.Begin()
	require.NoError(t, err)

	for _, key := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
		rec := logrecord.ConstructBtreeInsert(tx.ID, page.StoreID(1), page.PageID(1), page.NullLSN, key, []byte("v"))
		rec.LSN = page.LSN{Partition: 1, Offset: uint32(len(tx.records) + 1)}
		tx.Record(rec)
	}

	u := &fakeUndoer{}
	require.NoError(t, m.Abort(context.Background(), tx, u))
	require.Equal(t, Aborted, tx.State())

	require.Len(t, u.seen, 3)
	require.True(t, u.seen[0].Offset > u.seen[1].Offset)
	require.True(t, u.seen[1].Offset > u.seen[2].Offset)

	_, ok := m.Lookup(tx.ID)
	require.False(t, ok)
}

func TestAbortSkipsSSXRecords(t *testing.T) {
	m := newManager(t)
	tx, err := m.Begin()
	require.NoError(t, err)

	ssx := logrecord.ConstructBtreeGhostReclaim(tx.ID, page.StoreID(1), page.PageID(1), page.NullLSN)
	ssx.LSN = page.LSN{Partition: 1, Offset: 99}
	tx.Record(ssx)

	u := &fakeUndoer{}
	require.NoError(t, m.Abort(context.Background(), tx, u))
	require.Empty(t, u.seen)
}

func TestRecordingWALAppendsToActiveTxnChain(t *testing.T) {
	raw := &fakeWAL{}
	m := New(raw, wal.NewOldestLSNTracker(), lockmgr.New(), zaptest.NewLogger(t))
	rw := NewRecordingWAL(raw, m)

	tx, err := m.Begin()
	require.NoError(t, err)
	startLen := len(tx.records)

	rec := logrecord.ConstructBtreeInsert(tx.ID, page.StoreID(1), page.PageID(1), page.NullLSN, []byte("k"), []byte("v"))
	_, err = rw.Insert(rec)
	require.NoError(t, err)

	require.Len(t, tx.records, startLen+1)
	require.Equal(t, rec, tx.records[len(tx.records)-1])
}

func TestActiveIDsTracksOutstandingTxns(t *testing.T) {
	m := newManager(t)
	a, err := m.Begin()
	require.NoError(t, err)
	b, err := m.Begin()
	require.NoError(t, err)

	ids := m.ActiveIDs()
	require.ElementsMatch(t, []logrecord.TxnID{a.ID, b.ID}, ids)

	require.NoError(t, m.Commit(a))
	require.ElementsMatch(t, []logrecord.TxnID{b.ID}, m.ActiveIDs())
}
