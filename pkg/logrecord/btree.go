package logrecord

import (
	"encoding/binary"
	"fmt"

	"github.com/JABClari/zero/pkg/page"
)

func putBytes16(buf []byte, b []byte) []byte {
	var l [2]byte
	binary.LittleEndian.PutUint16(l[:], uint16(len(b)))
	buf = append(buf, l[:]...)
	return append(buf, b...)
}

func takeBytes16(buf []byte) (b []byte, rest []byte) {
	l := binary.LittleEndian.Uint16(buf[:2])
	return buf[2 : 2+l], buf[2+l:]
}

// --- btree_insert / btree_insert_nonghost ---
//
// A user insert is logged as a single TypeBtreeInsert record carrying both
// the key and value; its Redo path creates the ghost (ReserveGhost) and
// replaces it (ReplaceGhost) in one idempotent step. There is no separate
// ghost_reserve record. TypeBtreeInsertNonGhost shares the same body, Redo
// and Undo; pkg/btree never emits it.

// BtreeInsertBody is the body of a btree_insert / btree_insert_nonghost
// record.
type BtreeInsertBody struct {
	Key, Value []byte
}

func encodeInsertBody(key, val []byte) []byte {
	var buf []byte
	buf = putBytes16(buf, key)
	buf = putBytes16(buf, val)
	return buf
}

func decodeInsertBody(body []byte) BtreeInsertBody {
	key, rest := takeBytes16(body)
	val, _ := takeBytes16(rest)
	return BtreeInsertBody{Key: key, Value: val}
}

// ConstructBtreeInsert builds the regular, undo-capable insert record.
func ConstructBtreeInsert(txn TxnID, store page.StoreID, pid page.PageID, prevLSN page.LSN, key, val []byte) *Record {
	return &Record{Header: Header{Type: TypeBtreeInsert, TxnID: txn, Store: store, PID: pid, PrevLSN: prevLSN},
		Body: encodeInsertBody(key, val)}
}

// ConstructBtreeInsertNonGhost builds a btree_insert_nonghost record. It is
// redone and undone exactly like a btree_insert record.
func ConstructBtreeInsertNonGhost(txn TxnID, store page.StoreID, pid page.PageID, prevLSN page.LSN, key, val []byte) *Record {
	return &Record{Header: Header{Type: TypeBtreeInsertNonGhost, TxnID: txn, Store: store, PID: pid, PrevLSN: prevLSN},
		Body: encodeInsertBody(key, val)}
}

// RedoBtreeInsert replaces a pre-existing ghost with the live entry,
// creating the ghost first if necessary — this is what makes the REDO path
// idempotent regardless of how much of the original two-step insert made it
// to disk before a crash (spec.md §4.2).
func RedoBtreeInsert(r *Record, h PageHandle) {
	if r.LSN.LessEq(h.LSN()) {
		return
	}
	b := decodeInsertBody(r.Body)
	if !h.ReplaceGhost(b.Key, b.Value) {
		h.ReserveGhost(b.Key, len(b.Value))
		h.ReplaceGhost(b.Key, b.Value)
	}
	h.SetLSN(r.LSN)
}

// UndoBtreeInsert performs the logical undo of an insert: remove the key
// as if via user-level delete, re-traversing from the root (spec.md §4.2's
// remove_as_undo). The actual re-traversal is the caller's (pkg/btree's)
// responsibility; this function documents the contract: undo of an insert
// is a ghost-mark on the same page handle, since the aborting transaction
// already holds the key's lock and no concurrent reader can observe the
// gap.
func UndoBtreeInsert(r *Record, h PageHandle) {
	b := decodeInsertBody(r.Body)
	h.MarkGhost(b.Key)
}

// --- btree_update (whole value replace) ---

// BtreeUpdateBody is the body of a btree_update record.
type BtreeUpdateBody struct {
	Key, NewValue, OldValue []byte
}

// ConstructBtreeUpdate builds an update record. oldValue is the
// pre-image needed for undo.
func ConstructBtreeUpdate(txn TxnID, store page.StoreID, pid page.PageID, prevLSN page.LSN, key, newVal, oldVal []byte) *Record {
	var buf []byte
	buf = putBytes16(buf, key)
	buf = putBytes16(buf, newVal)
	buf = putBytes16(buf, oldVal)
	return &Record{Header: Header{Type: TypeBtreeUpdate, TxnID: txn, Store: store, PID: pid, PrevLSN: prevLSN}, Body: buf}
}

func decodeUpdateBody(body []byte) BtreeUpdateBody {
	key, rest := takeBytes16(body)
	newVal, rest := takeBytes16(rest)
	oldVal, _ := takeBytes16(rest)
	return BtreeUpdateBody{Key: key, NewValue: newVal, OldValue: oldVal}
}

// RedoBtreeUpdate replays the whole-value replace.
func RedoBtreeUpdate(r *Record, h PageHandle) {
	if r.LSN.LessEq(h.LSN()) {
		return
	}
	b := decodeUpdateBody(r.Body)
	h.Update(b.Key, b.NewValue)
	h.SetLSN(r.LSN)
}

// UndoBtreeUpdate restores the old value (update_as_undo).
func UndoBtreeUpdate(r *Record, h PageHandle) {
	b := decodeUpdateBody(r.Body)
	h.Update(b.Key, b.OldValue)
}

// --- btree_overwrite (partial offset/length replace) ---

// BtreeOverwriteBody is the body of a btree_overwrite record.
type BtreeOverwriteBody struct {
	Key           []byte
	Offset        int
	NewData, Old  []byte
}

// ConstructBtreeOverwrite builds an overwrite record.
func ConstructBtreeOverwrite(txn TxnID, store page.StoreID, pid page.PageID, prevLSN page.LSN, key []byte, off int, newData, oldData []byte) *Record {
	var buf []byte
	buf = putBytes16(buf, key)
	var offBuf [4]byte
	binary.LittleEndian.PutUint32(offBuf[:], uint32(off))
	buf = append(buf, offBuf[:]...)
	buf = putBytes16(buf, newData)
	buf = putBytes16(buf, oldData)
	return &Record{Header: Header{Type: TypeBtreeOverwrite, TxnID: txn, Store: store, PID: pid, PrevLSN: prevLSN}, Body: buf}
}

func decodeOverwriteBody(body []byte) BtreeOverwriteBody {
	key, rest := takeBytes16(body)
	off := int(binary.LittleEndian.Uint32(rest[:4]))
	rest = rest[4:]
	newData, rest := takeBytes16(rest)
	oldData, _ := takeBytes16(rest)
	return BtreeOverwriteBody{Key: key, Offset: off, NewData: newData, Old: oldData}
}

// RedoBtreeOverwrite replays the partial patch.
func RedoBtreeOverwrite(r *Record, h PageHandle) {
	if r.LSN.LessEq(h.LSN()) {
		return
	}
	b := decodeOverwriteBody(r.Body)
	h.Overwrite(b.Key, b.Offset, b.NewData)
	h.SetLSN(r.LSN)
}

// UndoBtreeOverwrite restores the bytes the overwrite replaced
// (overwrite_as_undo).
func UndoBtreeOverwrite(r *Record, h PageHandle) {
	b := decodeOverwriteBody(r.Body)
	h.Overwrite(b.Key, b.Offset, b.Old)
}

// --- btree_ghost_mark (logical delete) ---

// BtreeGhostMarkBody is the body of a btree_ghost_mark record.
type BtreeGhostMarkBody struct {
	Key []byte
}

// ConstructBtreeGhostMark builds a ghost-mark record.
func ConstructBtreeGhostMark(txn TxnID, store page.StoreID, pid page.PageID, prevLSN page.LSN, key []byte) *Record {
	return &Record{Header: Header{Type: TypeBtreeGhostMark, TxnID: txn, Store: store, PID: pid, PrevLSN: prevLSN},
		Body: putBytes16(nil, key)}
}

func decodeGhostMarkBody(body []byte) BtreeGhostMarkBody {
	key, _ := takeBytes16(body)
	return BtreeGhostMarkBody{Key: key}
}

// RedoBtreeGhostMark replays the ghost mark.
func RedoBtreeGhostMark(r *Record, h PageHandle) {
	if r.LSN.LessEq(h.LSN()) {
		return
	}
	b := decodeGhostMarkBody(r.Body)
	h.MarkGhost(b.Key)
	h.SetLSN(r.LSN)
}

// UndoBtreeGhostMark un-marks the ghost (undo_ghost_mark).
func UndoBtreeGhostMark(r *Record, h PageHandle) {
	b := decodeGhostMarkBody(r.Body)
	h.UnmarkGhost(b.Key)
}

// --- btree_ghost_reclaim (SSX, no undo) ---

// ConstructBtreeGhostReclaim builds a ghost-reclaim SSX record. It carries
// no body: the operation is "defragment this page," fully determined by
// the page's current content.
func ConstructBtreeGhostReclaim(txn TxnID, store page.StoreID, pid page.PageID, prevLSN page.LSN) *Record {
	return &Record{Header: Header{Type: TypeBtreeGhostReclaim, TxnID: txn, Store: store, PID: pid, PrevLSN: prevLSN}}
}

// RedoBtreeGhostReclaim replays the defragmentation.
func RedoBtreeGhostReclaim(r *Record, h PageHandle) {
	if r.LSN.LessEq(h.LSN()) {
		return
	}
	h.ReclaimGhosts()
	h.SetLSN(r.LSN)
}

// --- btree_split (SSX, two pages: P and its new foster child F) ---

// BtreeSplitBody is the body of a btree_split record: the count of entries
// moved, the new foster child's level and fence range, and the moved
// entries themselves. FosterHigh is the separator between the original page
// P (which keeps it as its routing boundary, per SetFosterChild) and the
// foster child F (which takes it as its low fence); OldHigh is P's fence
// high from before the split, becoming F's high fence — grounded on
// btree_logrec.cpp's btree_split_log, which instead captures a full page
// image of the foster child rather than separately carrying its fences.
type BtreeSplitBody struct {
	Count      int
	Level      uint16
	FosterHigh []byte
	OldHigh    []byte
	MovedKeys  [][]byte
	MovedVals  [][]byte
}

// ConstructBtreeSplit builds a split SSX. Header.PID is the original page
// P, Header.PID2 is the new foster child F.
func ConstructBtreeSplit(txn TxnID, store page.StoreID, pPID, fPID page.PageID, prevLSN page.LSN, level uint16, fosterHigh, oldHigh []byte, keys, vals [][]byte) *Record {
	var buf []byte
	var cnt [4]byte
	binary.LittleEndian.PutUint32(cnt[:], uint32(len(keys)))
	buf = append(buf, cnt[:]...)
	var lvl [2]byte
	binary.LittleEndian.PutUint16(lvl[:], level)
	buf = append(buf, lvl[:]...)
	buf = putBytes16(buf, fosterHigh)
	buf = putBytes16(buf, oldHigh)
	for i := range keys {
		buf = putBytes16(buf, keys[i])
		buf = putBytes16(buf, vals[i])
	}
	return &Record{Header: Header{Type: TypeBtreeSplit, TxnID: txn, Store: store, PID: pPID, PID2: fPID, PrevLSN: prevLSN}, Body: buf}
}

func decodeSplitBody(body []byte) BtreeSplitBody {
	count := int(binary.LittleEndian.Uint32(body[:4]))
	rest := body[4:]
	level := binary.LittleEndian.Uint16(rest[:2])
	rest = rest[2:]
	high, rest := takeBytes16(rest)
	oldHigh, rest := takeBytes16(rest)
	keys := make([][]byte, count)
	vals := make([][]byte, count)
	for i := 0; i < count; i++ {
		keys[i], rest = takeBytes16(rest)
		vals[i], rest = takeBytes16(rest)
	}
	return BtreeSplitBody{Count: count, Level: level, FosterHigh: high, OldHigh: oldHigh, MovedKeys: keys, MovedVals: vals}
}

// RedoBtreeSplitParent replays the split's effect on the original page P:
// strip the top Count entries and install the foster pointer.
func RedoBtreeSplitParent(r *Record, p PageHandle) {
	if r.LSN.LessEq(p.LSN()) {
		return
	}
	b := decodeSplitBody(r.Body)
	p.DeleteRange(b.Count)
	p.SetFosterChild(r.Header.PID2, b.FosterHigh)
	p.SetLSN(r.LSN)
}

// RedoBtreeSplitFoster replays the split's effect on the new foster child
// F: format it empty with the moved key range, then bulk-load the moved
// entries.
func RedoBtreeSplitFoster(r *Record, f PageHandle) {
	if r.LSN.LessEq(f.LSN()) {
		return
	}
	b := decodeSplitBody(r.Body)
	f.FormatEmpty(r.Header.Store, b.Level, b.FosterHigh, b.OldHigh)
	entries := make([]page.LeafEntry, b.Count)
	for i := range entries {
		entries[i] = page.LeafEntry{Key: b.MovedKeys[i], Value: b.MovedVals[i]}
	}
	f.BulkLoadLeaf(entries)
	f.SetLSN(r.LSN)
}

// --- btree_norec_alloc (SSX, allocate empty child) ---

// BtreeNorecAllocBody is the body of a btree_norec_alloc record: the
// separator key under which the new, empty child is installed in the
// parent, and the new child's level.
type BtreeNorecAllocBody struct {
	Separator   []byte
	ChildLevel  uint16
	ParentIndex int
	Low, High   []byte
}

// ConstructBtreeNorecAlloc builds the SSX. Header.PID is the parent,
// Header.PID2 is the newly allocated empty child.
func ConstructBtreeNorecAlloc(txn TxnID, store page.StoreID, parentPID, childPID page.PageID, prevLSN page.LSN, parentIndex int, separator, low, high []byte, childLevel uint16) *Record {
	var buf []byte
	buf = putBytes16(buf, separator)
	var lvl [2]byte
	binary.LittleEndian.PutUint16(lvl[:], childLevel)
	buf = append(buf, lvl[:]...)
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], uint32(parentIndex))
	buf = append(buf, idx[:]...)
	buf = putBytes16(buf, low)
	buf = putBytes16(buf, high)
	return &Record{Header: Header{Type: TypeBtreeNorecAlloc, TxnID: txn, Store: store, PID: parentPID, PID2: childPID, PrevLSN: prevLSN}, Body: buf}
}

func decodeNorecAllocBody(body []byte) BtreeNorecAllocBody {
	sep, rest := takeBytes16(body)
	level := binary.LittleEndian.Uint16(rest[:2])
	rest = rest[2:]
	idx := int(binary.LittleEndian.Uint32(rest[:4]))
	rest = rest[4:]
	low, rest := takeBytes16(rest)
	high, _ := takeBytes16(rest)
	return BtreeNorecAllocBody{Separator: sep, ChildLevel: level, ParentIndex: idx, Low: low, High: high}
}

// RedoBtreeNorecAllocChild formats the freshly allocated child empty.
func RedoBtreeNorecAllocChild(r *Record, child PageHandle, store page.StoreID) {
	if r.LSN.LessEq(child.LSN()) {
		return
	}
	b := decodeNorecAllocBody(r.Body)
	child.FormatEmpty(store, b.ChildLevel, b.Low, b.High)
	child.SetLSN(r.LSN)
}

// RedoBtreeNorecAllocParent installs the new interior entry in the parent.
func RedoBtreeNorecAllocParent(r *Record, parent PageHandle) {
	if r.LSN.LessEq(parent.LSN()) {
		return
	}
	b := decodeNorecAllocBody(r.Body)
	parent.AcceptEmptyChild(b.ParentIndex, b.Separator, r.Header.PID2, r.LSN)
	parent.SetLSN(r.LSN)
}

// --- btree_foster_adopt (SSX, promote foster pointer into parent) ---

// BtreeFosterAdoptBody carries (new_child_pid, emlsn, separator_key) per
// spec.md §4.2.
type BtreeFosterAdoptBody struct {
	NewChildPID page.PageID
	EMLSN       page.LSN
	Separator   []byte
	ParentIndex int
}

// ConstructBtreeFosterAdopt builds the adopt SSX. Header.PID is the parent.
func ConstructBtreeFosterAdopt(txn TxnID, store page.StoreID, parentPID page.PageID, prevLSN page.LSN, parentIndex int, newChildPID page.PageID, emlsn page.LSN, separator []byte) *Record {
	var buf []byte
	var pid [4]byte
	binary.LittleEndian.PutUint32(pid[:], uint32(newChildPID))
	buf = append(buf, pid[:]...)
	var lsn [8]byte
	binary.LittleEndian.PutUint64(lsn[:], emlsn.Uint64())
	buf = append(buf, lsn[:]...)
	buf = putBytes16(buf, separator)
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], uint32(parentIndex))
	buf = append(buf, idx[:]...)
	return &Record{Header: Header{Type: TypeBtreeFosterAdopt, TxnID: txn, Store: store, PID: parentPID, PrevLSN: prevLSN}, Body: buf}
}

func decodeFosterAdoptBody(body []byte) BtreeFosterAdoptBody {
	pid := page.PageID(binary.LittleEndian.Uint32(body[:4]))
	emlsn := page.FromUint64(binary.LittleEndian.Uint64(body[4:12]))
	sep, rest := takeBytes16(body[12:])
	idx := int(binary.LittleEndian.Uint32(rest[:4]))
	return BtreeFosterAdoptBody{NewChildPID: pid, EMLSN: emlsn, Separator: sep, ParentIndex: idx}
}

// FosterAdoptChildPID returns the adopted child's page id carried in r's
// body, the one piece of a btree_foster_adopt record recovery needs before
// it can Fix the child page (the header only carries the parent's pid).
func FosterAdoptChildPID(r *Record) page.PageID {
	return decodeFosterAdoptBody(r.Body).NewChildPID
}

// RedoBtreeFosterAdopt promotes the separator into the parent.
func RedoBtreeFosterAdopt(r *Record, parent PageHandle) {
	if r.LSN.LessEq(parent.LSN()) {
		return
	}
	b := decodeFosterAdoptBody(r.Body)
	parent.PromoteFoster(b.ParentIndex, b.Separator, b.NewChildPID, b.EMLSN)
	parent.SetLSN(r.LSN)
}

// RedoBtreeFosterAdoptChild clears the adopted-away foster pointer on the
// child that used to carry it as a foster child (now a proper child).
func RedoBtreeFosterAdoptChild(r *Record, child PageHandle) {
	if r.LSN.LessEq(child.LSN()) {
		return
	}
	child.ClearFosterChild()
	child.SetLSN(r.LSN)
}

// --- btree_compress_page (SSX, rewrite fence keys) ---

// BtreeCompressPageBody carries the new low/high fence keys.
type BtreeCompressPageBody struct {
	Low, High []byte
}

// ConstructBtreeCompressPage builds the compress SSX.
func ConstructBtreeCompressPage(txn TxnID, store page.StoreID, pid page.PageID, prevLSN page.LSN, low, high []byte) *Record {
	var buf []byte
	buf = putBytes16(buf, low)
	buf = putBytes16(buf, high)
	return &Record{Header: Header{Type: TypeBtreeCompressPage, TxnID: txn, Store: store, PID: pid, PrevLSN: prevLSN}, Body: buf}
}

func decodeCompressPageBody(body []byte) BtreeCompressPageBody {
	low, rest := takeBytes16(body)
	high, _ := takeBytes16(rest)
	return BtreeCompressPageBody{Low: low, High: high}
}

// RedoBtreeCompressPage replays the fence-key rewrite.
func RedoBtreeCompressPage(r *Record, h PageHandle) {
	if r.LSN.LessEq(h.LSN()) {
		return
	}
	b := decodeCompressPageBody(r.Body)
	h.Compress(b.Low, b.High)
	h.SetLSN(r.LSN)
}

// --- btree_new_root (SSX, format a freshly allocated root interior page
// with its initial children) ---
//
// Grows the tree a level when the old root itself splits and has no parent
// to adopt its foster child into (spec.md §4.2's root-split case). Unlike
// btree_norec_alloc, which wires one freshly allocated empty child into an
// existing parent, this formats the freshly allocated parent itself,
// pointing at two already-live children in one step.

// BtreeNewRootBody carries the new root's level and its initial children.
type BtreeNewRootBody struct {
	Level      uint16
	Separators [][]byte
	Children   []page.PageID
	ChildLSNs  []page.LSN
}

// ConstructBtreeNewRoot builds the SSX. Header.PID is the freshly allocated
// root page; there is no PrevLSN chain since the page never existed before.
func ConstructBtreeNewRoot(txn TxnID, store page.StoreID, rootPID page.PageID, level uint16, separators [][]byte, children []page.PageID, childLSNs []page.LSN) *Record {
	var buf []byte
	var lvl [2]byte
	binary.LittleEndian.PutUint16(lvl[:], level)
	buf = append(buf, lvl[:]...)
	var cnt [4]byte
	binary.LittleEndian.PutUint32(cnt[:], uint32(len(children)))
	buf = append(buf, cnt[:]...)
	for i := range children {
		buf = putBytes16(buf, separators[i])
		var pid [4]byte
		binary.LittleEndian.PutUint32(pid[:], uint32(children[i]))
		buf = append(buf, pid[:]...)
		var lsn [8]byte
		binary.LittleEndian.PutUint64(lsn[:], childLSNs[i].Uint64())
		buf = append(buf, lsn[:]...)
	}
	return &Record{Header: Header{Type: TypeBtreeNewRoot, TxnID: txn, Store: store, PID: rootPID}, Body: buf}
}

func decodeNewRootBody(body []byte) BtreeNewRootBody {
	level := binary.LittleEndian.Uint16(body[:2])
	rest := body[2:]
	count := int(binary.LittleEndian.Uint32(rest[:4]))
	rest = rest[4:]
	seps := make([][]byte, count)
	children := make([]page.PageID, count)
	lsns := make([]page.LSN, count)
	for i := 0; i < count; i++ {
		seps[i], rest = takeBytes16(rest)
		children[i] = page.PageID(binary.LittleEndian.Uint32(rest[:4]))
		rest = rest[4:]
		lsns[i] = page.FromUint64(binary.LittleEndian.Uint64(rest[:8]))
		rest = rest[8:]
	}
	return BtreeNewRootBody{Level: level, Separators: seps, Children: children, ChildLSNs: lsns}
}

// RedoBtreeNewRoot formats the freshly allocated root page empty and
// installs its initial children.
func RedoBtreeNewRoot(r *Record, h PageHandle) {
	if r.LSN.LessEq(h.LSN()) {
		return
	}
	b := decodeNewRootBody(r.Body)
	h.FormatEmpty(r.Header.Store, b.Level, nil, nil)
	for i := range b.Children {
		h.AcceptEmptyChild(i, b.Separators[i], b.Children[i], b.ChildLSNs[i])
	}
	h.SetLSN(r.LSN)
}

// UndoKey returns the key a regular (undo-capable) btree record touched, so
// a caller can re-traverse to the right leaf before calling Undo. ok is
// false for SSX records, which carry no undo (spec.md §4.2).
func UndoKey(r *Record) (key []byte, ok bool) {
	switch r.Header.Type {
	case TypeBtreeInsert, TypeBtreeInsertNonGhost:
		return decodeInsertBody(r.Body).Key, true
	case TypeBtreeUpdate:
		return decodeUpdateBody(r.Body).Key, true
	case TypeBtreeOverwrite:
		return decodeOverwriteBody(r.Body).Key, true
	case TypeBtreeGhostMark:
		return decodeGhostMarkBody(r.Body).Key, true
	default:
		return nil, false
	}
}

// Undo dispatches r to its type's logical undo against h, which the caller
// must have already traversed to using the key UndoKey reported. Panics if
// called on an SSX record; callers should check UndoKey's ok result first.
func Undo(r *Record, h PageHandle) {
	switch r.Header.Type {
	case TypeBtreeInsert, TypeBtreeInsertNonGhost:
		UndoBtreeInsert(r, h)
	case TypeBtreeUpdate:
		UndoBtreeUpdate(r, h)
	case TypeBtreeOverwrite:
		UndoBtreeOverwrite(r, h)
	case TypeBtreeGhostMark:
		UndoBtreeGhostMark(r, h)
	default:
		panic(fmt.Sprintf("logrecord: Undo called on non-undoable record type %v", r.Header.Type))
	}
}
