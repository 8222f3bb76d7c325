// Package txn implements the transaction context described in spec.md §3:
// a TxnID, a chain of log-record LSNs, a set of held locks, and a
// commit/abort state machine. Grounded on the xct_t role referenced
// throughout btcursor.cpp and alloc_cache.cpp (every SSX/regular log record
// construction call takes a txn id), and on spec.md §5's ordering
// guarantee 2 ("a transaction's commit returns only after durable_lsn >=
// commit_record_lsn").
package txn

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JABClari/zero/pkg/lockmgr"
	"github.com/JABClari/zero/pkg/logrecord"
	"github.com/JABClari/zero/pkg/page"
	"github.com/JABClari/zero/pkg/zerr"
)

// State is a transaction's position in its commit/abort state machine.
type State int

const (
	Active State = iota
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// WAL is the narrow log capability a transaction needs: insert its
// begin/commit/abort bookkeeping records and, at commit, block until they
// are durable.
type WAL interface {
	Insert(rec *logrecord.Record) (page.LSN, error)
	Flush(upto page.LSN) error
}

// OldestLSNTracker is the narrow capability needed to register a
// transaction's first LSN against WAL truncation, mirroring
// log_core.h's PoorMansOldestLsnTracker usage (ported as wal.OldestLSNTracker).
type OldestLSNTracker interface {
	Add(lsn page.LSN)
	Remove(lsn page.LSN)
}

// Undoer is the narrow capability needed to apply a regular record's
// logical undo during abort. pkg/btree's Store satisfies this.
type Undoer interface {
	Undo(ctx context.Context, txn logrecord.TxnID, rec *logrecord.Record) error
}

// Txn is one transaction's context: identity, log-record chain, and
// commit/abort state. Undo during Abort walks records in the order they
// were appended, most-recent first, applying each regular record's logical
// undo and skipping SSX records, which carry none (spec.md §4.2).
//
// Undo here is purely in-memory: records are held by reference from the
// moment they're constructed, rather than re-fetched from the WAL by LSN.
// This is adequate for a live transaction aborting before any crash; a
// recovery-time UNDO pass over transactions still active when the system
// crashed is a pkg/volume concern, not this package's, and is not built
// (no undo CLRs are emitted here either, matching the scope cut).
type Txn struct {
	ID    logrecord.TxnID
	store page.StoreID // store each record's Undo re-traversal needs

	mu      sync.Mutex
	state   State
	records []*logrecord.Record
	lastLSN page.LSN
}

func (t *Txn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Record appends rec to this transaction's undo chain and remembers it as
// the most recent LSN the transaction produced. Called by pkg/btree and
// pkg/alloc after every successful WAL insert made on this transaction's
// behalf.
func (t *Txn) Record(rec *logrecord.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, rec)
	t.lastLSN = rec.LSN
}

// Manager begins, commits, and aborts transactions, owning the active-set
// bookkeeping the allocation cache and buffer pool query when deciding what
// the WAL may truncate past (spec.md §5's "Global singletons become context
// objects" note — this replaces ss_m::xct()'s thread-local current
// transaction with an explicit handle the caller threads through).
type Manager struct {
	wal    WAL
	oldest OldestLSNTracker
	locks  lockmgr.Manager
	log    *zap.Logger

	nextID atomic.Uint64

	mu     sync.Mutex
	active map[logrecord.TxnID]*Txn
}

// New constructs a transaction manager over wal, oldest, and locks; log may
// be nil. Undo dispatch takes its store id from each record's header.
func New(wal WAL, oldest OldestLSNTracker, locks lockmgr.Manager, log *zap.Logger) *Manager {
	return &Manager{wal: wal, oldest: oldest, locks: locks, log: log}
}

// Begin starts a new transaction, logging txn_begin and registering its
// first LSN with the oldest-LSN tracker so the WAL cannot truncate past it
// while the transaction is active.
func (m *Manager) Begin() (*Txn, error) {
	id := logrecord.TxnID(m.nextID.Add(1))
	rec := logrecord.ConstructTxnBegin(id)
	lsn, err := m.wal.Insert(rec)
	if err != nil {
		return nil, err
	}
	rec.LSN = lsn

	t := &Txn{ID: id, state: Active, lastLSN: lsn, records: []*logrecord.Record{rec}}
	m.oldest.Add(lsn)

	m.mu.Lock()
	if m.active == nil {
		m.active = make(map[logrecord.TxnID]*Txn)
	}
	m.active[id] = t
	m.mu.Unlock()

	if m.log != nil {
		m.log.Debug("txn begin", zap.Uint64("txn", uint64(id)))
	}
	return t, nil
}

// Commit logs txn_commit chained off the transaction's last record, blocks
// until that record is durable (spec.md §5 ordering guarantee 2), releases
// every lock the transaction held, and retires it from the active set.
func (m *Manager) Commit(t *Txn) error {
	t.mu.Lock()
	if t.state != Active {
		t.mu.Unlock()
		return zerr.New(zerr.InternalInvariant, "txn %d: commit called in state %v", t.ID, t.state)
	}
	prevLSN := t.lastLSN
	t.mu.Unlock()

	rec := logrecord.ConstructTxnCommit(t.ID, prevLSN)
	lsn, err := m.wal.Insert(rec)
	if err != nil {
		return err
	}
	rec.LSN = lsn

	if err := m.wal.Flush(lsn); err != nil {
		return zerr.Wrap(zerr.IOError, err, "txn %d: commit flush", t.ID)
	}

	if err := m.locks.UnlockDuration(t.ID, false); err != nil {
		return err
	}

	t.mu.Lock()
	t.state = Committed
	t.lastLSN = lsn
	firstLSN := t.records[0].LSN
	t.mu.Unlock()

	m.oldest.Remove(firstLSN)
	m.retire(t.ID)

	if m.log != nil {
		m.log.Debug("txn commit", zap.Uint64("txn", uint64(t.ID)), zap.Stringer("lsn", lsn))
	}
	return nil
}

// Abort undoes every regular record the transaction produced, most-recent
// first, logs txn_abort, releases locks, and retires the transaction.
// undoer performs the actual page-level undo (pkg/btree's Store); ctx
// bounds any lock waits undo's re-traversal might need (it should need
// none, since the aborting transaction already holds its own key locks).
func (m *Manager) Abort(ctx context.Context, t *Txn, undoer Undoer) error {
	t.mu.Lock()
	if t.state != Active {
		t.mu.Unlock()
		return zerr.New(zerr.InternalInvariant, "txn %d: abort called in state %v", t.ID, t.state)
	}
	records := append([]*logrecord.Record(nil), t.records...)
	prevLSN := t.lastLSN
	t.mu.Unlock()

	for i := len(records) - 1; i >= 0; i-- {
		if _, ok := logrecord.UndoKey(records[i]); !ok {
			continue
		}
		if err := undoer.Undo(ctx, t.ID, records[i]); err != nil {
			return fmt.Errorf("txn %d: undo record %v: %w", t.ID, records[i].LSN, err)
		}
	}

	rec := logrecord.ConstructTxnAbort(t.ID, prevLSN)
	lsn, err := m.wal.Insert(rec)
	if err != nil {
		return err
	}
	rec.LSN = lsn

	if err := m.locks.UnlockDuration(t.ID, false); err != nil {
		return err
	}

	t.mu.Lock()
	t.state = Aborted
	t.lastLSN = lsn
	firstLSN := records[0].LSN
	t.mu.Unlock()

	m.oldest.Remove(firstLSN)
	m.retire(t.ID)

	if m.log != nil {
		m.log.Debug("txn abort", zap.Uint64("txn", uint64(t.ID)), zap.Int("undone", len(records)))
	}
	return nil
}

func (m *Manager) retire(id logrecord.TxnID) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

// RecordingWAL wraps a WAL so that every record inserted through it is also
// appended to its own transaction's undo chain, without pkg/btree or
// pkg/alloc needing any direct knowledge of pkg/txn — they already depend
// on nothing more than Insert(rec) (page.LSN, error), so passing a
// *RecordingWAL in place of the raw WAL at volume-wiring time is enough to
// make every store's and the allocation cache's writes undo-able.
type RecordingWAL struct {
	wal WAL
	mgr *Manager
}

// NewRecordingWAL constructs a WAL decorator feeding mgr's active
// transactions' undo chains.
func NewRecordingWAL(wal WAL, mgr *Manager) *RecordingWAL {
	return &RecordingWAL{wal: wal, mgr: mgr}
}

// Insert inserts rec through the underlying WAL, then — if rec's
// transaction is currently active — appends it to that transaction's undo
// chain. Records logged outside any transaction (e.g. a checkpoint) are
// passed through untouched.
func (r *RecordingWAL) Insert(rec *logrecord.Record) (page.LSN, error) {
	lsn, err := r.wal.Insert(rec)
	if err != nil {
		return lsn, err
	}
	rec.LSN = lsn
	if t, ok := r.mgr.Lookup(rec.Header.TxnID); ok {
		t.Record(rec)
	}
	return lsn, nil
}

// Flush delegates to the underlying WAL.
func (r *RecordingWAL) Flush(upto page.LSN) error { return r.wal.Flush(upto) }

// Lookup returns the active transaction for id, if any.
func (m *Manager) Lookup(id logrecord.TxnID) (*Txn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.active[id]
	return t, ok
}

// ActiveIDs returns the ids of every currently active transaction, used by
// checkpointing to record the active-transaction table.
func (m *Manager) ActiveIDs() []logrecord.TxnID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]logrecord.TxnID, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}
