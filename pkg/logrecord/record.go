// Package logrecord defines the typed, variable-length log record family
// described in spec.md §3-4: a common header, a type-specific body, and a
// trailing LSN copy (so backward scans can find record starts). Each record
// type implements Redo and, for regular (non-SSX) records, Undo, against
// the PageHandle capability trait rather than a concrete B-tree page type —
// this is the "template-duplicated log constructors collapse to a single
// parameterized trait" design note from spec.md §9.
package logrecord

import (
	"encoding/binary"
	"fmt"

	"github.com/JABClari/zero/pkg/page"
)

// TxnID identifies a transaction (spec.md §3).
type TxnID uint64

// Type tags the kind of a log record.
type Type uint8

const (
	TypeInvalid Type = iota

	// Allocation cache records (spec.md §4.1).
	TypeAllocPage
	TypeDeallocPage
	TypeStoreNodeAppendExtent

	// B-tree regular records (undo-capable, spec.md §4.2).
	TypeBtreeInsert
	TypeBtreeInsertNonGhost
	TypeBtreeUpdate
	TypeBtreeOverwrite
	TypeBtreeGhostMark

	// B-tree SSX records (no undo, structural, spec.md §4.2).
	TypeBtreeGhostReclaim
	TypeBtreeSplit
	TypeBtreeNorecAlloc
	TypeBtreeFosterAdopt
	TypeBtreeCompressPage
	TypeBtreeSetRoot
	TypeBtreeNewRoot

	// Buffer pool / page cleaner (spec.md §4.5).
	TypePageWrite

	// Transaction bookkeeping (spec.md §3).
	TypeTxnBegin
	TypeTxnCommit
	TypeTxnAbort

	// Checkpointing.
	TypeCkptBegin
	TypeCkptEnd
)

func (t Type) String() string {
	names := map[Type]string{
		TypeAllocPage:             "alloc_page",
		TypeDeallocPage:           "dealloc_page",
		TypeStoreNodeAppendExtent: "store_node_append_extent",
		TypeBtreeInsert:           "btree_insert",
		TypeBtreeInsertNonGhost:   "btree_insert_nonghost",
		TypeBtreeUpdate:           "btree_update",
		TypeBtreeOverwrite:        "btree_overwrite",
		TypeBtreeGhostMark:        "btree_ghost_mark",
		TypeBtreeGhostReclaim:     "btree_ghost_reclaim",
		TypeBtreeSplit:            "btree_split",
		TypeBtreeNorecAlloc:       "btree_norec_alloc",
		TypeBtreeFosterAdopt:      "btree_foster_adopt",
		TypeBtreeCompressPage:     "btree_compress_page",
		TypeBtreeSetRoot:          "btree_set_root",
		TypeBtreeNewRoot:          "btree_new_root",
		TypePageWrite:             "page_write",
		TypeTxnBegin:              "txn_begin",
		TypeTxnCommit:             "txn_commit",
		TypeTxnAbort:              "txn_abort",
		TypeCkptBegin:             "ckpt_begin",
		TypeCkptEnd:               "ckpt_end",
	}
	if n, ok := names[t]; ok {
		return n
	}
	return "invalid"
}

// IsSSX reports whether records of this type are single-log system
// transactions: structural, self-contained, and undo-free.
func (t Type) IsSSX() bool {
	switch t {
	case TypeBtreeGhostReclaim, TypeBtreeSplit, TypeBtreeNorecAlloc,
		TypeBtreeFosterAdopt, TypeBtreeCompressPage, TypeBtreeNewRoot:
		return true
	default:
		return false
	}
}

// Header is the common, fixed-size record header preceding the
// type-specific body, per spec.md §6's on-disk log record layout:
// length:16 | type:8 | flags:8 | txn_id:64 | prev_lsn:64 | store_id:32 |
// page_id:32 | page2_id:32.
type Header struct {
	Length  uint16
	Type    Type
	Flags   uint8
	TxnID   TxnID
	PrevLSN page.LSN
	Store   page.StoreID
	PID     page.PageID
	PID2    page.PageID // second page id, used by multi-page SSXs (split, norec_alloc)
}

const HeaderSize = 2 + 1 + 1 + 8 + 8 + 4 + 4 + 4 // 32 bytes
const TrailerSize = 8                            // trailing LSN copy

// Record is a fully decoded log record: header, type-specific body bytes,
// and the LSN it was assigned on insertion.
type Record struct {
	Header Header
	Body   []byte
	LSN    page.LSN
}

// Encode serializes the record into its on-disk form, including the
// trailing LSN copy used by backward scans to find record starts.
func (r *Record) Encode() []byte {
	total := HeaderSize + len(r.Body) + TrailerSize
	buf := make([]byte, total)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(total))
	buf[2] = byte(r.Header.Type)
	buf[3] = r.Header.Flags
	binary.LittleEndian.PutUint64(buf[4:12], uint64(r.Header.TxnID))
	binary.LittleEndian.PutUint64(buf[12:20], r.Header.PrevLSN.Uint64())
	binary.LittleEndian.PutUint32(buf[20:24], uint32(r.Header.Store))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(r.Header.PID))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(r.Header.PID2))
	copy(buf[HeaderSize:], r.Body)
	binary.LittleEndian.PutUint64(buf[total-8:], r.LSN.Uint64())
	return buf
}

// Decode parses a record previously produced by Encode. It returns the
// number of bytes consumed (the record's total on-disk length).
func Decode(buf []byte) (*Record, int, error) {
	if len(buf) < HeaderSize+TrailerSize {
		return nil, 0, fmt.Errorf("logrecord: buffer too short: %d bytes", len(buf))
	}
	total := int(binary.LittleEndian.Uint16(buf[0:2]))
	if total < HeaderSize+TrailerSize || total > len(buf) {
		return nil, 0, fmt.Errorf("logrecord: invalid length field %d", total)
	}
	r := &Record{}
	r.Header.Type = Type(buf[2])
	r.Header.Flags = buf[3]
	r.Header.TxnID = TxnID(binary.LittleEndian.Uint64(buf[4:12]))
	r.Header.PrevLSN = page.FromUint64(binary.LittleEndian.Uint64(buf[12:20]))
	r.Header.Store = page.StoreID(binary.LittleEndian.Uint32(buf[20:24]))
	r.Header.PID = page.PageID(binary.LittleEndian.Uint32(buf[24:28]))
	r.Header.PID2 = page.PageID(binary.LittleEndian.Uint32(buf[28:32]))
	r.Header.Length = uint16(total)
	bodyEnd := total - TrailerSize
	r.Body = buf[HeaderSize:bodyEnd]
	r.LSN = page.FromUint64(binary.LittleEndian.Uint64(buf[bodyEnd:total]))
	return r, total, nil
}
