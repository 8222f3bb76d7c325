// Package btree implements the foster B-tree described in spec.md §4.2, see
// page.go's package doc for the capability-trait design. This file adds the
// Store type: traversal, point operations, and the split/adopt/root-growth
// structural maintenance that keeps a store's pages within the buffer pool
// durable and recoverable, grounded on original_source/src/sm/btree_impl.cpp
// and btcursor.cpp's traversal idiom.
package btree

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/fnv"

	"github.com/JABClari/zero/pkg/bufferpool"
	"github.com/JABClari/zero/pkg/lockmgr"
	"github.com/JABClari/zero/pkg/logrecord"
	"github.com/JABClari/zero/pkg/metrics"
	"github.com/JABClari/zero/pkg/page"
	"github.com/JABClari/zero/pkg/zerr"
)

// infraStore is the buffer-pool store id the store-node page lives under,
// independent of which store's root it is recording (mirrors pkg/alloc's
// infraStore).
const infraStore page.StoreID = 0

// Frames is the narrow buffer-pool capability Store needs.
type Frames interface {
	Fix(store page.StoreID, pid page.PageID, mode bufferpool.LatchMode) (*bufferpool.LatchGuard, error)
	FixNew(store page.StoreID, pid page.PageID, pg *page.Page) (*bufferpool.LatchGuard, error)
}

// WAL is the narrow log capability Store needs.
type WAL interface {
	Insert(rec *logrecord.Record) (page.LSN, error)
}

// Allocator is the narrow allocation-cache capability Store needs.
type Allocator interface {
	Allocate(txn logrecord.TxnID, store page.StoreID, storeNode logrecord.StoreNodeHandle) (page.PageID, page.LSN, error)
}

// Store is one foster B-tree index within a volume: a store id in the
// shared buffer pool, log, and allocation cache, plus the lock manager
// guarding its keys.
type Store struct {
	ID       page.StoreID
	pageSize uint32

	pool  Frames
	wal   WAL
	alloc Allocator
	locks lockmgr.Manager
}

// New constructs a Store over an already-registered store id. Call Create
// once, the first time this id is used, before any other operation.
func New(id page.StoreID, pageSize uint32, pool Frames, wal WAL, alloc Allocator, locks lockmgr.Manager) *Store {
	return &Store{ID: id, pageSize: pageSize, pool: pool, wal: wal, alloc: alloc, locks: locks}
}

// keyHash maps a key to the lock manager's 32-bit hash space. spec.md §7
// leaves the key-range lock's hash function unspecified (the key-string
// codec itself is out of scope); fnv-1a is the stdlib choice since no
// third-party hash package appears anywhere in the example pack for this
// purpose, and crc32 is already reserved for page checksums elsewhere.
func (s *Store) keyHash(key []byte) uint32 {
	h := fnv.New32a()
	var sid [4]byte
	binary.LittleEndian.PutUint32(sid[:], uint32(s.ID))
	h.Write(sid[:])
	h.Write(key)
	return h.Sum32()
}

func (s *Store) lock(ctx context.Context, txn logrecord.TxnID, key []byte, mode lockmgr.Mode, wait bool) error {
	if err := s.locks.IntentLock(txn, s.ID, mode.Key); err != nil {
		return err
	}
	return s.locks.Lock(ctx, txn, s.keyHash(key), mode, wait)
}

// Create allocates and formats a brand-new, empty root leaf for this store,
// then durably records it as the store's root. Must be called exactly once,
// before any traversal. The freshly formatted empty page is not itself
// logged: the page never existed on disk before allocation, so its base
// state is exactly "empty leaf with infimum/supremum fences," re-derivable
// by recovery without a record the way a subsequent mutation's PrevLSN
// chain would need one.
func (s *Store) Create(txn logrecord.TxnID) error {
	pid, err := s.allocatePage(txn)
	if err != nil {
		return err
	}
	g, err := s.pool.FixNew(s.ID, pid, page.New(s.pageSize))
	if err != nil {
		return err
	}
	h := Wrap(g.Page())
	h.FormatEmpty(s.ID, 0, nil, nil)
	g.Unfix()
	return s.setRoot(txn, pid)
}

func (s *Store) allocatePage(txn logrecord.TxnID) (page.PageID, error) {
	g, err := s.pool.Fix(infraStore, page.StoreNodePID, bufferpool.LatchExclusive)
	if err != nil {
		return 0, err
	}
	defer g.Unfix()
	sn := page.AsStoreNode(g.Page())
	pid, lsn, err := s.alloc.Allocate(txn, s.ID, sn)
	if err != nil {
		return 0, err
	}
	g.MarkDirty(lsn)
	return pid, nil
}

func (s *Store) rootPID() (page.PageID, error) {
	g, err := s.pool.Fix(infraStore, page.StoreNodePID, bufferpool.LatchShared)
	if err != nil {
		return 0, err
	}
	defer g.Unfix()
	sn := page.AsStoreNode(g.Page())
	root, _ := sn.Entry(s.ID)
	return root, nil
}

func (s *Store) setRoot(txn logrecord.TxnID, newRoot page.PageID) error {
	g, err := s.pool.Fix(infraStore, page.StoreNodePID, bufferpool.LatchExclusive)
	if err != nil {
		return err
	}
	defer g.Unfix()
	sn := page.AsStoreNode(g.Page())
	rec := logrecord.ConstructBtreeSetRoot(txn, page.StoreNodePID, sn.LSN(), s.ID, newRoot)
	lsn, err := s.wal.Insert(rec)
	if err != nil {
		return err
	}
	rec.LSN = lsn
	logrecord.RedoBtreeSetRoot(rec, sn)
	g.MarkDirty(lsn)
	return nil
}

// followsFoster returns pg's foster child pid and foster-high key, and
// whether pg has a (not yet adopted) foster child at all; callers compare
// their key against the returned high key themselves.
func followsFoster(pg *page.Page) (page.PageID, []byte, bool) {
	child, high := pg.FosterChild()
	return child, high, child != 0
}

// parentChain descends from the root to the leaf covering key, following
// foster chains transparently at every level, and returns the chain of
// interior pages actually used to route (i.e. the immediate parent to
// adopt a split leaf's foster child into, if any) plus the leaf's page id.
// An empty chain means the root itself is the leaf.
func (s *Store) parentChain(key []byte) (chain []page.PageID, leaf page.PageID, err error) {
	pid, err := s.rootPID()
	if err != nil {
		return nil, 0, err
	}
	for {
		g, err := s.pool.Fix(s.ID, pid, bufferpool.LatchShared)
		if err != nil {
			return nil, 0, err
		}
		pg := g.Page()
		if fc, high, ok := followsFoster(pg); ok && bytes.Compare(key, high) >= 0 {
			g.Unfix()
			pid = fc
			continue
		}
		if pg.Header().Level == 0 {
			g.Unfix()
			return chain, pid, nil
		}
		chain = append(chain, pid)
		idx := pg.SearchInterior(key)
		child := pg.Interior(idx).ChildPID
		g.Unfix()
		pid = child
	}
}

// leafReserveBytes is the conservative per-entry space a point operation
// must see free before it will attempt the mutation without triggering a
// split first.
func leafReserveBytes(key, val []byte) int {
	return len(key) + len(val) + 32
}

func interiorReserveBytes(separator []byte) int {
	return len(separator) + 32
}

// fixLeafExclusive re-fixes the leaf covering key exclusively, re-checking
// the foster-hop condition after upgrading the latch since the page may
// have split between the shared descent and the exclusive re-fix.
func (s *Store) fixLeafExclusive(key []byte, leaf page.PageID) (*bufferpool.LatchGuard, bool, error) {
	g, err := s.pool.Fix(s.ID, leaf, bufferpool.LatchExclusive)
	if err != nil {
		return nil, false, err
	}
	if _, high, ok := followsFoster(g.Page()); ok && bytes.Compare(key, high) >= 0 {
		g.Unfix()
		return nil, false, nil
	}
	return g, true, nil
}

// withLeaf runs fn against the exclusively latched leaf covering key,
// retrying the full descent whenever the leaf has moved on via a foster
// hop, or whenever fn reports the leaf needs to split first.
func (s *Store) withLeaf(ctx context.Context, txn logrecord.TxnID, key []byte, fn func(h Handle) (needsSplit bool, err error)) error {
	for {
		chain, leaf, err := s.parentChain(key)
		if err != nil {
			return err
		}
		g, ok, err := s.fixLeafExclusive(key, leaf)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		h := Wrap(g.Page())
		needsSplit, err := fn(h)
		g.Unfix()
		if err != nil {
			return err
		}
		if needsSplit {
			if err := s.splitLeaf(ctx, txn, leaf, chain); err != nil {
				return err
			}
			continue
		}
		return nil
	}
}

// Insert adds a brand-new key, failing if the key is already live.
func (s *Store) Insert(ctx context.Context, txn logrecord.TxnID, key, val []byte, wait bool) error {
	if err := s.lock(ctx, txn, key, lockmgr.XX, wait); err != nil {
		return err
	}
	return s.withLeaf(ctx, txn, key, func(h Handle) (bool, error) {
		if found, idx := h.SearchLeaf(key); found && !h.Leaf(idx).Ghost {
			return false, zerr.New(zerr.Conflict, "btree: key already exists")
		}
		if h.FreeSpace() < leafReserveBytes(key, val) {
			return true, nil
		}
		rec := logrecord.ConstructBtreeInsert(txn, s.ID, h.PID(), h.LSN(), key, val)
		lsn, err := s.wal.Insert(rec)
		if err != nil {
			return false, err
		}
		rec.LSN = lsn
		logrecord.RedoBtreeInsert(rec, h)
		return false, nil
	})
}

// Update replaces key's entire value, failing if the key is absent or a
// ghost.
func (s *Store) Update(ctx context.Context, txn logrecord.TxnID, key, newVal []byte, wait bool) error {
	if err := s.lock(ctx, txn, key, lockmgr.XX, wait); err != nil {
		return err
	}
	return s.withLeaf(ctx, txn, key, func(h Handle) (bool, error) {
		found, idx := h.SearchLeaf(key)
		if !found || h.Leaf(idx).Ghost {
			return false, zerr.New(zerr.Conflict, "btree: key not found")
		}
		oldLen := len(h.Leaf(idx).Value)
		if len(newVal) > oldLen && h.FreeSpace() < len(newVal)-oldLen+32 {
			return true, nil
		}
		old := append([]byte(nil), h.Leaf(idx).Value...)
		rec := logrecord.ConstructBtreeUpdate(txn, s.ID, h.PID(), h.LSN(), key, newVal, old)
		lsn, err := s.wal.Insert(rec)
		if err != nil {
			return false, err
		}
		rec.LSN = lsn
		logrecord.RedoBtreeUpdate(rec, h)
		return false, nil
	})
}

// Overwrite patches newData into key's value at byte offset off.
func (s *Store) Overwrite(ctx context.Context, txn logrecord.TxnID, key []byte, off int, newData []byte, wait bool) error {
	if err := s.lock(ctx, txn, key, lockmgr.XX, wait); err != nil {
		return err
	}
	return s.withLeaf(ctx, txn, key, func(h Handle) (bool, error) {
		found, idx := h.SearchLeaf(key)
		if !found || h.Leaf(idx).Ghost {
			return false, zerr.New(zerr.Conflict, "btree: key not found")
		}
		if off+len(newData) > len(h.Leaf(idx).Value) {
			return false, zerr.New(zerr.InternalInvariant, "btree: overwrite range exceeds value length")
		}
		old := append([]byte(nil), h.Leaf(idx).Value[off:off+len(newData)]...)
		rec := logrecord.ConstructBtreeOverwrite(txn, s.ID, h.PID(), h.LSN(), key, off, newData, old)
		lsn, err := s.wal.Insert(rec)
		if err != nil {
			return false, err
		}
		rec.LSN = lsn
		logrecord.RedoBtreeOverwrite(rec, h)
		return false, nil
	})
}

// Remove logically deletes key by marking its slot a ghost.
func (s *Store) Remove(ctx context.Context, txn logrecord.TxnID, key []byte, wait bool) error {
	if err := s.lock(ctx, txn, key, lockmgr.XX, wait); err != nil {
		return err
	}
	return s.withLeaf(ctx, txn, key, func(h Handle) (bool, error) {
		found, idx := h.SearchLeaf(key)
		if !found || h.Leaf(idx).Ghost {
			return false, zerr.New(zerr.Conflict, "btree: key not found")
		}
		rec := logrecord.ConstructBtreeGhostMark(txn, s.ID, h.PID(), h.LSN(), key)
		lsn, err := s.wal.Insert(rec)
		if err != nil {
			return false, err
		}
		rec.LSN = lsn
		logrecord.RedoBtreeGhostMark(rec, h)
		return false, nil
	})
}

// countGhosts scans h's slots once, returning the ghost count and the
// total slot count.
func countGhosts(h Handle) (ghosts, n int) {
	n = h.NRecs()
	for i := 0; i < n; i++ {
		if h.Leaf(i).Ghost {
			ghosts++
		}
	}
	return ghosts, n
}

// Get performs a point lookup, taking a shared key lock. It reports false
// if the key is absent or ghosted.
func (s *Store) Get(ctx context.Context, txn logrecord.TxnID, key []byte, wait bool) ([]byte, bool, error) {
	if err := s.lock(ctx, txn, key, lockmgr.SS, wait); err != nil {
		return nil, false, err
	}
	for {
		_, leaf, err := s.parentChain(key)
		if err != nil {
			return nil, false, err
		}
		g, err := s.pool.Fix(s.ID, leaf, bufferpool.LatchShared)
		if err != nil {
			return nil, false, err
		}
		if _, high, ok := followsFoster(g.Page()); ok && bytes.Compare(key, high) >= 0 {
			g.Unfix()
			continue
		}
		h := Wrap(g.Page())
		found, idx := h.SearchLeaf(key)
		if !found || h.Leaf(idx).Ghost {
			g.Unfix()
			return nil, false, nil
		}
		val := append([]byte(nil), h.Leaf(idx).Value...)
		g.Unfix()
		return val, true, nil
	}
}

// Undo applies rec's logical undo against this store, re-traversing from the
// root to the leaf currently covering its key (spec.md §4.2's
// remove_as_undo / update_as_undo / overwrite_as_undo / undo_ghost_mark).
// The aborting transaction already holds the key's lock, so no new lock is
// taken here. A no-op if rec is an SSX (no undo).
func (s *Store) Undo(ctx context.Context, txn logrecord.TxnID, rec *logrecord.Record) error {
	key, ok := logrecord.UndoKey(rec)
	if !ok {
		return nil
	}
	return s.withLeaf(ctx, txn, key, func(h Handle) (bool, error) {
		logrecord.Undo(rec, h)
		return false, nil
	})
}

// splitLeaf moves the top half of pid's entries to a new foster child and
// adopts it into parentChain's last interior page (or grows a new root if
// pid is currently the root). Interior pages are never split in this
// implementation; a full interior page surfaces as zerr.OutOfSpace from
// adopt/growRoot rather than recursing (documented in DESIGN.md as an
// accepted scope limit: interior fanout is assumed to outgrow realistic
// data volumes before ever filling a page).
func (s *Store) splitLeaf(ctx context.Context, txn logrecord.TxnID, pid page.PageID, chain []page.PageID) error {
	g, err := s.pool.Fix(s.ID, pid, bufferpool.LatchExclusive)
	if err != nil {
		return err
	}
	h := Wrap(g.Page())
	n := h.NRecs()
	if n < 2 {
		g.Unfix()
		return zerr.New(zerr.OutOfSpace, "btree: leaf too small to split")
	}
	splitAt := n / 2
	level := h.Header().Level
	count := n - splitAt
	keys := make([][]byte, count)
	vals := make([][]byte, count)
	for i := 0; i < count; i++ {
		e := h.Leaf(splitAt + i)
		keys[i] = append([]byte(nil), e.Key...)
		vals[i] = append([]byte(nil), e.Value...)
	}
	fosterHigh := keys[0]
	oldHigh := append([]byte(nil), h.FenceHigh()...)

	fPID, err := s.allocatePage(txn)
	if err != nil {
		g.Unfix()
		return err
	}
	rec := logrecord.ConstructBtreeSplit(txn, s.ID, pid, fPID, h.LSN(), level, fosterHigh, oldHigh, keys, vals)
	lsn, err := s.wal.Insert(rec)
	if err != nil {
		g.Unfix()
		return err
	}
	rec.LSN = lsn
	logrecord.RedoBtreeSplitParent(rec, h)
	g.MarkDirty(lsn)
	g.Unfix()

	gf, err := s.pool.FixNew(s.ID, fPID, page.New(s.pageSize))
	if err != nil {
		return err
	}
	hf := Wrap(gf.Page())
	logrecord.RedoBtreeSplitFoster(rec, hf)
	gf.Unfix()
	metrics.BtreeSplits.Inc()

	return s.adopt(txn, pid, fPID, fosterHigh, rec.LSN, chain)
}

// adopt promotes pid's foster pointer into its immediate parent (the last
// entry of chain), or grows a new root if pid has no parent.
func (s *Store) adopt(txn logrecord.TxnID, childPID, fosterPID page.PageID, separator []byte, emlsn page.LSN, chain []page.PageID) error {
	if len(chain) == 0 {
		return s.growRoot(txn, childPID, fosterPID, separator, emlsn)
	}
	parentPID := chain[len(chain)-1]
	g, err := s.pool.Fix(s.ID, parentPID, bufferpool.LatchExclusive)
	if err != nil {
		return err
	}
	hp := Wrap(g.Page())

	childIdx := -1
	for i := 0; i < hp.NRecs(); i++ {
		if hp.Interior(i).ChildPID == childPID {
			childIdx = i
			break
		}
	}
	if childIdx < 0 {
		g.Unfix()
		return zerr.New(zerr.InternalInvariant, "btree: adopt target not found in parent")
	}
	if hp.FreeSpace() < interiorReserveBytes(separator) {
		g.Unfix()
		return zerr.New(zerr.OutOfSpace, "btree: interior page full, cannot adopt foster child")
	}
	insertIdx := childIdx + 1

	rec := logrecord.ConstructBtreeFosterAdopt(txn, s.ID, parentPID, hp.LSN(), insertIdx, fosterPID, emlsn, separator)
	lsn, err := s.wal.Insert(rec)
	if err != nil {
		g.Unfix()
		return err
	}
	rec.LSN = lsn
	logrecord.RedoBtreeFosterAdopt(rec, hp)
	g.MarkDirty(lsn)
	g.Unfix()
	metrics.BtreeAdopts.Inc()

	gc, err := s.pool.Fix(s.ID, childPID, bufferpool.LatchExclusive)
	if err != nil {
		return err
	}
	hc := Wrap(gc.Page())
	logrecord.RedoBtreeFosterAdoptChild(rec, hc)
	// childPID's own high fence is still oldHigh, left over from before the
	// split; the parent now only ever routes [low, separator) to it, so
	// compress it down to match (spec.md §4.2's btree_compress_page),
	// reclaiming ghosts as a side effect.
	if err := s.compressPage(txn, hc, hc.FenceLow(), separator); err != nil {
		gc.Unfix()
		return err
	}
	gc.MarkDirty(hc.LSN())
	gc.Unfix()
	return nil
}

// compressPage applies the btree_compress_page SSX against the
// already-exclusively-latched page h, rewriting its fence keys and
// reclaiming ghosts in the same pass (Handle.Compress).
func (s *Store) compressPage(txn logrecord.TxnID, h Handle, low, high []byte) error {
	rec := logrecord.ConstructBtreeCompressPage(txn, s.ID, h.PID(), h.LSN(), low, high)
	lsn, err := s.wal.Insert(rec)
	if err != nil {
		return err
	}
	rec.LSN = lsn
	logrecord.RedoBtreeCompressPage(rec, h)
	metrics.BtreeCompresses.Inc()
	return nil
}

// growRoot creates a fresh interior root with two children: the old root
// (now holding a foster pointer to the new sibling) and the new sibling
// itself, durably recorded as the store's root.
func (s *Store) growRoot(txn logrecord.TxnID, oldRootPID, siblingPID page.PageID, separator []byte, emlsn page.LSN) error {
	newRootPID, err := s.allocatePage(txn)
	if err != nil {
		return err
	}

	og, err := s.pool.Fix(s.ID, oldRootPID, bufferpool.LatchShared)
	if err != nil {
		return err
	}
	oldRootLevel := og.Page().Header().Level
	oldRootLSN := og.Page().LSN()
	og.Unfix()

	separators := [][]byte{nil, separator}
	children := []page.PageID{oldRootPID, siblingPID}
	childLSNs := []page.LSN{oldRootLSN, emlsn}
	rec := logrecord.ConstructBtreeNewRoot(txn, s.ID, newRootPID, oldRootLevel+1, separators, children, childLSNs)
	lsn, err := s.wal.Insert(rec)
	if err != nil {
		return err
	}
	rec.LSN = lsn

	g, err := s.pool.FixNew(s.ID, newRootPID, page.New(s.pageSize))
	if err != nil {
		return err
	}
	h := Wrap(g.Page())
	logrecord.RedoBtreeNewRoot(rec, h)
	g.Unfix()

	if err := s.setRoot(txn, newRootPID); err != nil {
		return err
	}

	// The old root still carries the foster pointer RedoBtreeSplitParent
	// set on it and a high fence of oldHigh, neither of which the rest of
	// the tree needs any more: the new root now routes [low, separator) to
	// it directly. Clear the pointer and compress the fence to match, same
	// as the non-root adopt path.
	og, err = s.pool.Fix(s.ID, oldRootPID, bufferpool.LatchExclusive)
	if err != nil {
		return err
	}
	ho := Wrap(og.Page())
	ho.ClearFosterChild()
	if err := s.compressPage(txn, ho, ho.FenceLow(), separator); err != nil {
		og.Unfix()
		return err
	}
	og.MarkDirty(ho.LSN())
	og.Unfix()
	return nil
}

// NorecAlloc allocates a brand-new, empty child page and wires it into
// parentPID, an already-interior page, as a new routing entry at idx, in
// one SSX (spec.md §4.2's btree_norec_alloc). Unlike splitLeaf+adopt,
// whose foster child already holds the entries moved off an overfull
// sibling, RedoBtreeNorecAllocChild always formats the child empty: this
// is only safe to call over a key range nothing else already claims.
// Presplit is the only caller.
func (s *Store) NorecAlloc(txn logrecord.TxnID, parentPID page.PageID, idx int, separator, low, high []byte, childLevel uint16) (page.PageID, error) {
	g, err := s.pool.Fix(s.ID, parentPID, bufferpool.LatchExclusive)
	if err != nil {
		return 0, err
	}
	hp := Wrap(g.Page())
	if hp.FreeSpace() < interiorReserveBytes(separator) {
		g.Unfix()
		return 0, zerr.New(zerr.OutOfSpace, "btree: interior page full, cannot allocate empty child")
	}

	childPID, err := s.allocatePage(txn)
	if err != nil {
		g.Unfix()
		return 0, err
	}

	rec := logrecord.ConstructBtreeNorecAlloc(txn, s.ID, parentPID, childPID, hp.LSN(), idx, separator, low, high, childLevel)
	lsn, err := s.wal.Insert(rec)
	if err != nil {
		g.Unfix()
		return 0, err
	}
	rec.LSN = lsn
	logrecord.RedoBtreeNorecAllocParent(rec, hp)
	g.MarkDirty(lsn)
	g.Unfix()

	gc, err := s.pool.FixNew(s.ID, childPID, page.New(s.pageSize))
	if err != nil {
		return 0, err
	}
	hc := Wrap(gc.Page())
	logrecord.RedoBtreeNorecAllocChild(rec, hc, s.ID)
	gc.MarkDirty(rec.LSN)
	gc.Unfix()
	metrics.BtreeNorecAllocs.Inc()
	return childPID, nil
}

// Presplit converts a freshly created, still-empty root leaf into an
// interior root fronting one empty leaf child per key range carved out by
// the sorted bounds, via NorecAlloc: a way to pre-partition a store's key
// space (e.g. ahead of a bulk load with a known key distribution) before
// any insert runs against it. Calling it on a root that already holds
// data is rejected, since NorecAlloc's children always start empty and
// would silently orphan that data's routing.
func (s *Store) Presplit(txn logrecord.TxnID, bounds [][]byte) error {
	oldRoot, err := s.rootPID()
	if err != nil {
		return err
	}
	g, err := s.pool.Fix(s.ID, oldRoot, bufferpool.LatchExclusive)
	if err != nil {
		return err
	}
	h := Wrap(g.Page())
	empty := h.IsLeaf() && h.NRecs() == 0
	g.Unfix()
	if !empty {
		return zerr.New(zerr.InternalInvariant, "btree: presplit requires a freshly created, empty root")
	}

	var firstHigh []byte
	if len(bounds) > 0 {
		firstHigh = bounds[0]
	}
	firstPID, err := s.allocatePage(txn)
	if err != nil {
		return err
	}
	gf, err := s.pool.FixNew(s.ID, firstPID, page.New(s.pageSize))
	if err != nil {
		return err
	}
	Wrap(gf.Page()).FormatEmpty(s.ID, 0, nil, firstHigh)
	gf.Unfix()

	newRootPID, err := s.allocatePage(txn)
	if err != nil {
		return err
	}
	rec := logrecord.ConstructBtreeNewRoot(txn, s.ID, newRootPID, 1, [][]byte{nil}, []page.PageID{firstPID}, []page.LSN{page.NullLSN})
	lsn, err := s.wal.Insert(rec)
	if err != nil {
		return err
	}
	rec.LSN = lsn
	gr, err := s.pool.FixNew(s.ID, newRootPID, page.New(s.pageSize))
	if err != nil {
		return err
	}
	logrecord.RedoBtreeNewRoot(rec, Wrap(gr.Page()))
	gr.Unfix()

	for i, b := range bounds {
		var high []byte
		if i+1 < len(bounds) {
			high = bounds[i+1]
		}
		if _, err := s.NorecAlloc(txn, newRootPID, i+1, b, b, high, 0); err != nil {
			return err
		}
	}
	return s.setRoot(txn, newRootPID)
}

// reclaimGhosts applies the btree_ghost_reclaim SSX against the
// already-exclusively-latched page h, physically dropping every ghost slot
// (spec.md §4.2's btree_ghost_reclaim).
func (s *Store) reclaimGhosts(txn logrecord.TxnID, h Handle) error {
	rec := logrecord.ConstructBtreeGhostReclaim(txn, s.ID, h.PID(), h.LSN())
	lsn, err := s.wal.Insert(rec)
	if err != nil {
		return err
	}
	rec.LSN = lsn
	logrecord.RedoBtreeGhostReclaim(rec, h)
	metrics.BtreeGhostReclaims.Inc()
	return nil
}

// ReclaimGhosts forces a ghost-reclaim pass on the leaf currently covering
// key, regardless of how many ghosts it holds. Remove only marks ghosts and
// never reclaims them itself, so a slot stays in place for undo to un-mark;
// this explicit, caller-driven call is the path that runs the reclaim SSX.
func (s *Store) ReclaimGhosts(ctx context.Context, txn logrecord.TxnID, key []byte) error {
	return s.withLeaf(ctx, txn, key, func(h Handle) (bool, error) {
		return false, s.reclaimGhosts(txn, h)
	})
}
