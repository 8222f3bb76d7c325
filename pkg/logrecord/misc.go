package logrecord

import (
	"encoding/binary"

	"github.com/JABClari/zero/pkg/page"
)

// PageWriteBody records the write's rec-LSN so recovery knows which pages
// were durable as of that point (spec.md §4.5), plus a count of consecutive
// pages written in the same cleaner batch starting at Header.PID.
type PageWriteBody struct {
	RecLSN page.LSN
	Count  uint32
}

// ConstructPageWrite builds a page_write record.
func ConstructPageWrite(pid page.PageID, recLSN page.LSN, count uint32) *Record {
	body := make([]byte, 12)
	binary.LittleEndian.PutUint64(body[0:8], recLSN.Uint64())
	binary.LittleEndian.PutUint32(body[8:12], count)
	return &Record{Header: Header{Type: TypePageWrite, PID: pid}, Body: body}
}

// DecodePageWrite decodes a page_write body.
func DecodePageWrite(body []byte) PageWriteBody {
	return PageWriteBody{
		RecLSN: page.FromUint64(binary.LittleEndian.Uint64(body[0:8])),
		Count:  binary.LittleEndian.Uint32(body[8:12]),
	}
}

// ConstructTxnBegin builds a txn_begin record.
func ConstructTxnBegin(txn TxnID) *Record {
	return &Record{Header: Header{Type: TypeTxnBegin, TxnID: txn}}
}

// ConstructTxnCommit builds a txn_commit record chained off the
// transaction's most recent LSN.
func ConstructTxnCommit(txn TxnID, prevLSN page.LSN) *Record {
	return &Record{Header: Header{Type: TypeTxnCommit, TxnID: txn, PrevLSN: prevLSN}}
}

// ConstructTxnAbort builds a txn_abort record.
func ConstructTxnAbort(txn TxnID, prevLSN page.LSN) *Record {
	return &Record{Header: Header{Type: TypeTxnAbort, TxnID: txn, PrevLSN: prevLSN}}
}

// ConstructCkptBegin builds a checkpoint-begin marker.
func ConstructCkptBegin() *Record {
	return &Record{Header: Header{Type: TypeCkptBegin}}
}

// CkptEndBody is the body of a checkpoint-end marker: the set of active
// transactions and dirty-page rec-LSNs as of the checkpoint, encoded as a
// flat list for simplicity.
type CkptEndBody struct {
	ActiveTxns    []TxnID
	DirtyPageLSNs map[page.PageID]page.LSN
}

// ConstructCkptEnd builds a checkpoint-end record.
func ConstructCkptEnd(b CkptEndBody) *Record {
	var buf []byte
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(b.ActiveTxns)))
	buf = append(buf, n[:]...)
	for _, t := range b.ActiveTxns {
		var tb [8]byte
		binary.LittleEndian.PutUint64(tb[:], uint64(t))
		buf = append(buf, tb[:]...)
	}
	binary.LittleEndian.PutUint32(n[:], uint32(len(b.DirtyPageLSNs)))
	buf = append(buf, n[:]...)
	for pid, lsn := range b.DirtyPageLSNs {
		var pb [4]byte
		binary.LittleEndian.PutUint32(pb[:], uint32(pid))
		buf = append(buf, pb[:]...)
		var lb [8]byte
		binary.LittleEndian.PutUint64(lb[:], lsn.Uint64())
		buf = append(buf, lb[:]...)
	}
	return &Record{Header: Header{Type: TypeCkptEnd}, Body: buf}
}

// DecodeCkptEnd decodes a checkpoint-end body.
func DecodeCkptEnd(body []byte) CkptEndBody {
	n := binary.LittleEndian.Uint32(body[0:4])
	off := 4
	txns := make([]TxnID, n)
	for i := range txns {
		txns[i] = TxnID(binary.LittleEndian.Uint64(body[off : off+8]))
		off += 8
	}
	m := binary.LittleEndian.Uint32(body[off : off+4])
	off += 4
	dirty := make(map[page.PageID]page.LSN, m)
	for i := uint32(0); i < m; i++ {
		pid := page.PageID(binary.LittleEndian.Uint32(body[off : off+4]))
		off += 4
		lsn := page.FromUint64(binary.LittleEndian.Uint64(body[off : off+8]))
		off += 8
		dirty[pid] = lsn
	}
	return CkptEndBody{ActiveTxns: txns, DirtyPageLSNs: dirty}
}
