// Package volume implements the context object described in spec.md §9's
// design note ("global singletons become context objects"): a Volume owns
// exactly one instance each of the log, buffer pool, allocation cache, lock
// manager, and transaction manager, and every B-tree store opened against
// them. This replaces the original's smlevel_0::vol/ss_m process-wide
// globals, referenced throughout original_source, with an explicit handle
// a caller constructs and threads through.
package volume

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coreos/go-semver/semver"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JABClari/zero/pkg/alloc"
	"github.com/JABClari/zero/pkg/btree"
	"github.com/JABClari/zero/pkg/bufferpool"
	"github.com/JABClari/zero/pkg/config"
	"github.com/JABClari/zero/pkg/lockmgr"
	"github.com/JABClari/zero/pkg/logrecord"
	"github.com/JABClari/zero/pkg/page"
	"github.com/JABClari/zero/pkg/txn"
	"github.com/JABClari/zero/pkg/wal"
	"github.com/JABClari/zero/pkg/zerr"
)

// infraStore mirrors pkg/alloc and pkg/btree's reserved store id for the
// allocation bitmap and store-node pages.
const infraStore page.StoreID = 0

// firstUserStore is the smallest store id CreateStore ever hands out; 0 is
// reserved for allocation/store-node infrastructure.
const firstUserStore page.StoreID = 1

// FormatVersion is the on-disk layout version stamped into every freshly
// created volume's manifest, following etcd's schema-version check on open.
var FormatVersion = semver.New("1.0.0")

const (
	manifestFile = "MANIFEST.json"
	logDir       = "log"
	pageDir      = "pages"
)

// manifest is the small durable record identifying a volume, written once
// at Create and never modified afterward.
type manifest struct {
	ID      uuid.UUID `json:"id"`
	Version string    `json:"version"`
}

// Volume is one open storage engine instance.
type Volume struct {
	dir string
	cfg config.Config
	log *zap.Logger
	id  uuid.UUID

	pager   *filePager
	pool    *bufferpool.Pool
	wal     *wal.WAL
	alloc   *alloc.Cache
	locks   lockmgr.Manager
	txns    *txn.Manager
	rwal    *txn.RecordingWAL
	cleaner *bufferpool.Cleaner

	mu        sync.RWMutex
	stores    map[page.StoreID]*btree.Store
	nextStore page.StoreID

	ctx      context.Context
	cancel   context.CancelFunc
	ckptDone chan struct{}
}

// Create initializes a brand-new, empty volume rooted at dir, which must
// not already contain a manifest.
func Create(dir string, cfg config.Config, log *zap.Logger) (*Volume, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, zerr.Wrap(zerr.IOError, err, "volume: create dir %s", dir)
	}
	if _, err := os.Stat(filepath.Join(dir, manifestFile)); err == nil {
		return nil, zerr.New(zerr.Conflict, "volume: %s is already initialized", dir)
	}

	id := uuid.New()
	if err := writeManifest(dir, manifest{ID: id, Version: FormatVersion.String()}); err != nil {
		return nil, err
	}

	v, err := newVolume(dir, cfg, log, id)
	if err != nil {
		return nil, err
	}

	// The allocation bitmap page for extent 0 (pid 0) and the store-node
	// page (pid 1) never existed before this moment, so per
	// pkg/btree.Store.Create's note they're formatted directly through the
	// pager rather than logged: there is no prior state a REDO would need
	// to distinguish this from.
	bitmap := page.New(cfg.PageSize)
	bitmap.Reset(page.TypeAllocBitmap, infraStore, 0)
	if err := v.pager.WritePage(infraStore, 0, bitmap); err != nil {
		return nil, err
	}
	storeNode := page.New(cfg.PageSize)
	storeNode.Reset(page.TypeStoreNode, infraStore, 0)
	if err := v.pager.WritePage(infraStore, page.StoreNodePID, storeNode); err != nil {
		return nil, err
	}

	v.alloc.LoadVirgin()
	v.nextStore = firstUserStore
	v.stores = make(map[page.StoreID]*btree.Store)

	v.start()
	return v, nil
}

// Open reopens an existing volume at dir, replaying its log (REDO every
// record, then UNDO every transaction left active when the process that
// wrote the log last touched it) before returning.
func Open(dir string, cfg config.Config, log *zap.Logger) (*Volume, error) {
	m, err := readManifest(dir)
	if err != nil {
		return nil, err
	}
	wantMajor := FormatVersion.Major
	got, err := semver.NewVersion(m.Version)
	if err != nil {
		return nil, zerr.Wrap(zerr.PageCorrupt, err, "volume: manifest has invalid version %q", m.Version)
	}
	if got.Major != wantMajor {
		return nil, zerr.New(zerr.PageCorrupt, "volume: on-disk format version %s incompatible with %s", got, FormatVersion)
	}

	v, err := newVolume(dir, cfg, log, m.ID)
	if err != nil {
		return nil, err
	}

	if err := v.recover(); err != nil {
		return nil, err
	}
	if err := v.reopenStores(); err != nil {
		return nil, err
	}

	v.start()
	return v, nil
}

// newVolume wires together every shared collaborator without touching the
// log or any page: the common construction path for both Create and Open.
func newVolume(dir string, cfg config.Config, log *zap.Logger, id uuid.UUID) (*Volume, error) {
	pageDirPath := filepath.Join(dir, pageDir)
	if err := os.MkdirAll(pageDirPath, 0o755); err != nil {
		return nil, zerr.Wrap(zerr.IOError, err, "volume: create page dir")
	}
	pager := newFilePager(pageDirPath, cfg.PageSize)
	pool := bufferpool.New(cfg, int(cfg.BufferPoolFrames), pager, log)

	w, err := wal.Open(filepath.Join(dir, logDir), cfg, log)
	if err != nil {
		return nil, err
	}

	ac := alloc.New(pool, w, cfg.ExtentBits())
	locks := lockmgr.New()
	txns := txn.New(w, w.OldestLSNTracker(), locks, log)
	rwal := txn.NewRecordingWAL(w, txns)

	imageLSN := func(store page.StoreID, pid page.PageID) page.LSN {
		if store != infraStore {
			return page.NullLSN
		}
		return ac.PageLSN(pid)
	}
	cleaner := bufferpool.NewCleaner(pool, w, log, imageLSN)
	pool.SetCleaner(cleaner)

	ctx, cancel := context.WithCancel(context.Background())
	return &Volume{
		dir:     dir,
		cfg:     cfg,
		log:     log,
		id:      id,
		pager:   pager,
		pool:    pool,
		wal:     w,
		alloc:   ac,
		locks:   locks,
		txns:    txns,
		rwal:    rwal,
		cleaner: cleaner,
		stores:  make(map[page.StoreID]*btree.Store),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// start launches the background workers every open volume runs: the WAL's
// group-commit flush daemon, the buffer pool's clock evictioner, and (if
// configured) a periodic checkpoint.
func (v *Volume) start() {
	v.wal.StartFlushDaemon(v.ctx)
	v.pool.StartEvictioner()
	if v.cfg.CheckpointInterval > 0 {
		v.ckptDone = make(chan struct{})
		go v.checkpointLoop()
	}
}

func (v *Volume) checkpointLoop() {
	defer close(v.ckptDone)
	ticker := time.NewTicker(v.cfg.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-v.ctx.Done():
			return
		case <-ticker.C:
			if err := v.Checkpoint(); err != nil {
				v.log.Error("periodic checkpoint failed", zap.Error(err))
			}
		}
	}
}

// ID returns the volume's durable identity, stamped once at Create.
func (v *Volume) ID() uuid.UUID { return v.id }

func writeManifest(dir string, m manifest) error {
	buf, err := json.Marshal(m)
	if err != nil {
		return zerr.Wrap(zerr.InternalInvariant, err, "volume: marshal manifest")
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), buf, 0o644); err != nil {
		return zerr.Wrap(zerr.IOError, err, "volume: write manifest")
	}
	return nil
}

func readManifest(dir string) (manifest, error) {
	buf, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return manifest{}, zerr.Wrap(zerr.IOError, err, "volume: read manifest")
	}
	var m manifest
	if err := json.Unmarshal(buf, &m); err != nil {
		return manifest{}, zerr.Wrap(zerr.PageCorrupt, err, "volume: decode manifest")
	}
	return m, nil
}

// CreateStore allocates a brand-new, empty B-tree store within this volume
// and returns its id.
func (v *Volume) CreateStore() (page.StoreID, error) {
	v.mu.Lock()
	id := v.nextStore
	v.nextStore++
	v.mu.Unlock()

	t, err := v.txns.Begin()
	if err != nil {
		return 0, err
	}
	st := btree.New(id, v.cfg.PageSize, v.pool, v.rwal, v.alloc, v.locks)
	if err := st.Create(t.ID); err != nil {
		_ = v.txns.Abort(context.Background(), t, v)
		return 0, err
	}
	if err := v.txns.Commit(t); err != nil {
		return 0, err
	}

	v.mu.Lock()
	v.stores[id] = st
	v.mu.Unlock()
	return id, nil
}

// reopenStores rebuilds v.stores after recovery by scanning the store-node
// page for every slot recovery's REDO pass left populated.
func (v *Volume) reopenStores() error {
	g, err := v.pool.Fix(infraStore, page.StoreNodePID, bufferpool.LatchShared)
	if err != nil {
		return err
	}
	defer g.Unfix()
	sn := page.AsStoreNode(g.Page())

	var maxUsed page.StoreID
	for sid := firstUserStore; int(sid) < sn.MaxStores(); sid++ {
		root, lastExtent := sn.Entry(sid)
		if root == 0 && lastExtent == 0 {
			continue
		}
		v.stores[sid] = btree.New(sid, v.cfg.PageSize, v.pool, v.rwal, v.alloc, v.locks)
		if sid > maxUsed {
			maxUsed = sid
		}
	}
	v.nextStore = maxUsed + 1
	if v.nextStore < firstUserStore {
		v.nextStore = firstUserStore
	}
	return nil
}

func (v *Volume) store(id page.StoreID) (*btree.Store, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	st, ok := v.stores[id]
	if !ok {
		return nil, zerr.New(zerr.InternalInvariant, "volume: unknown store %d", id)
	}
	return st, nil
}

// Begin starts a new transaction.
func (v *Volume) Begin() (*txn.Txn, error) { return v.txns.Begin() }

// Commit durably commits t.
func (v *Volume) Commit(t *txn.Txn) error { return v.txns.Commit(t) }

// Abort rolls back every effect t produced, across every store it touched.
func (v *Volume) Abort(ctx context.Context, t *txn.Txn) error {
	return v.txns.Abort(ctx, t, v)
}

// Undo implements txn.Undoer by dispatching to the store named in rec's own
// header: a single transaction may touch more than one store, so the
// Undoer passed to Abort can't be a single *btree.Store.
func (v *Volume) Undo(ctx context.Context, id logrecord.TxnID, rec *logrecord.Record) error {
	st, err := v.store(rec.Header.Store)
	if err != nil {
		return err
	}
	return st.Undo(ctx, id, rec)
}

// Insert adds a brand-new key to store, failing if it already exists.
func (v *Volume) Insert(ctx context.Context, t *txn.Txn, store page.StoreID, key, val []byte, wait bool) error {
	st, err := v.store(store)
	if err != nil {
		return err
	}
	return st.Insert(ctx, t.ID, key, val, wait)
}

// Update replaces key's entire value in store.
func (v *Volume) Update(ctx context.Context, t *txn.Txn, store page.StoreID, key, newVal []byte, wait bool) error {
	st, err := v.store(store)
	if err != nil {
		return err
	}
	return st.Update(ctx, t.ID, key, newVal, wait)
}

// Overwrite patches newData into key's value at byte offset off in store.
func (v *Volume) Overwrite(ctx context.Context, t *txn.Txn, store page.StoreID, key []byte, off int, newData []byte, wait bool) error {
	st, err := v.store(store)
	if err != nil {
		return err
	}
	return st.Overwrite(ctx, t.ID, key, off, newData, wait)
}

// Remove logically deletes key from store.
func (v *Volume) Remove(ctx context.Context, t *txn.Txn, store page.StoreID, key []byte, wait bool) error {
	st, err := v.store(store)
	if err != nil {
		return err
	}
	return st.Remove(ctx, t.ID, key, wait)
}

// Get performs a point lookup against store.
func (v *Volume) Get(ctx context.Context, t *txn.Txn, store page.StoreID, key []byte, wait bool) ([]byte, bool, error) {
	st, err := v.store(store)
	if err != nil {
		return nil, false, err
	}
	return st.Get(ctx, t.ID, key, wait)
}

// ReclaimGhosts forces a btree_ghost_reclaim SSX against the leaf currently
// covering key, compacting out any ghost slots it holds.
func (v *Volume) ReclaimGhosts(ctx context.Context, t *txn.Txn, store page.StoreID, key []byte) error {
	st, err := v.store(store)
	if err != nil {
		return err
	}
	return st.ReclaimGhosts(ctx, t.ID, key)
}

// Allocate assigns a fresh raw page id within the volume's global
// allocation space, outside of any store's own B-tree structure.
func (v *Volume) Allocate(t *txn.Txn, store page.StoreID) (page.PageID, error) {
	g, err := v.pool.Fix(infraStore, page.StoreNodePID, bufferpool.LatchExclusive)
	if err != nil {
		return 0, err
	}
	defer g.Unfix()
	sn := page.AsStoreNode(g.Page())
	pid, lsn, err := v.alloc.Allocate(t.ID, store, sn)
	if err != nil {
		return 0, err
	}
	g.MarkDirty(lsn)
	return pid, nil
}

// Deallocate marks pid free in the volume's allocation bitmap.
func (v *Volume) Deallocate(t *txn.Txn, store page.StoreID, pid page.PageID) error {
	_, err := v.alloc.Deallocate(t.ID, store, pid)
	return err
}

// IsAllocated reports whether pid currently denotes a live, unfreed page.
func (v *Volume) IsAllocated(pid page.PageID) (bool, error) {
	return v.alloc.IsAllocated(pid)
}

// Scan opens a range cursor over store.
func (v *Volume) Scan(ctx context.Context, t *txn.Txn, store page.StoreID, lower []byte, lowerIncl bool, upper []byte, upperIncl bool, forward, wait bool) (*btree.Cursor, error) {
	st, err := v.store(store)
	if err != nil {
		return nil, err
	}
	return st.Scan(ctx, t.ID, lower, lowerIncl, upper, upperIncl, forward, wait), nil
}

// Checkpoint logs a ckpt_begin/ckpt_end pair bracketing a full dirty-page
// sweep, per spec.md §4.5's checkpoint/cleaner interaction.
func (v *Volume) Checkpoint() error {
	begin := logrecord.ConstructCkptBegin()
	if _, err := v.rwal.Insert(begin); err != nil {
		return err
	}
	if err := v.cleaner.Sweep(); err != nil {
		return err
	}
	end := logrecord.ConstructCkptEnd(logrecord.CkptEndBody{ActiveTxns: v.txns.ActiveIDs()})
	if _, err := v.rwal.Insert(end); err != nil {
		return err
	}
	return v.wal.FlushAll()
}

// Shutdown stops every background worker, flushes and closes the log, and
// closes every page store file. Errors from independent shutdown steps are
// aggregated rather than short-circuiting, mirroring etcd server's shutdown
// path.
func (v *Volume) Shutdown() error {
	v.cancel()
	v.pool.Shutdown()
	if v.ckptDone != nil {
		<-v.ckptDone
	}

	var err error
	if cerr := v.cleaner.Sweep(); cerr != nil {
		err = multierr.Append(err, cerr)
	}
	if werr := v.wal.Shutdown(); werr != nil {
		err = multierr.Append(err, werr)
	}
	if perr := v.pager.Sync(); perr != nil {
		err = multierr.Append(err, perr)
	}
	if perr := v.pager.Close(); perr != nil {
		err = multierr.Append(err, perr)
	}
	return err
}
