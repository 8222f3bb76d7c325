package logrecord

import (
	"encoding/binary"

	"github.com/JABClari/zero/pkg/page"
)

// AllocPageBody is the body of an alloc_page record: the page id that was
// allocated. The bitmap page it applies to is Header.PID.
type AllocPageBody struct {
	Allocated page.PageID
}

// ConstructAllocPage builds an alloc_page record chained off the owning
// bitmap page's prior LSN, per spec.md §4.1's allocate algorithm.
func ConstructAllocPage(txn TxnID, store page.StoreID, bitmapPID page.PageID, prevLSN page.LSN, allocated page.PageID) *Record {
	body := make([]byte, 4)
	binary.LittleEndian.PutUint32(body, uint32(allocated))
	return &Record{Header: Header{
		Type: TypeAllocPage, TxnID: txn, Store: store, PID: bitmapPID, PrevLSN: prevLSN,
	}, Body: body}
}

func DecodeAllocPage(body []byte) AllocPageBody {
	return AllocPageBody{Allocated: page.PageID(binary.LittleEndian.Uint32(body))}
}

// RedoAllocPage idempotently sets the allocated page's bit in the bitmap
// page, per spec.md §4.1's redo_allocate: REDO skips any record whose LSN
// is already reflected in the page's stored LSN (spec.md §5 ordering
// guarantee 3).
func RedoAllocPage(r *Record, bp BitmapHandle, extentBits uint32) {
	if r.LSN.LessEq(bp.LSN()) {
		return
	}
	body := DecodeAllocPage(r.Body)
	bit := uint32(body.Allocated) % extentBits
	bp.SetBit(bit, true)
	bp.SetLSN(r.LSN)
}

// DeallocPageBody is the body of a dealloc_page record.
type DeallocPageBody struct {
	Deallocated page.PageID
}

// ConstructDeallocPage builds a dealloc_page record.
func ConstructDeallocPage(txn TxnID, store page.StoreID, bitmapPID page.PageID, prevLSN page.LSN, deallocated page.PageID) *Record {
	body := make([]byte, 4)
	binary.LittleEndian.PutUint32(body, uint32(deallocated))
	return &Record{Header: Header{
		Type: TypeDeallocPage, TxnID: txn, Store: store, PID: bitmapPID, PrevLSN: prevLSN,
	}, Body: body}
}

func DecodeDeallocPage(body []byte) DeallocPageBody {
	return DeallocPageBody{Deallocated: page.PageID(binary.LittleEndian.Uint32(body))}
}

// RedoDeallocPage idempotently clears the deallocated page's bit.
func RedoDeallocPage(r *Record, bp BitmapHandle, extentBits uint32) {
	if r.LSN.LessEq(bp.LSN()) {
		return
	}
	body := DecodeDeallocPage(r.Body)
	bit := uint32(body.Deallocated) % extentBits
	bp.SetBit(bit, false)
	bp.SetLSN(r.LSN)
}

// StoreNodeAppendExtentBody records a new extent appended to a store's
// chain on the store-node page (the store-node collaborator described in
// SPEC_FULL.md §5, grounded on alloc_cache.cpp's sx_append_extent).
type StoreNodeAppendExtentBody struct {
	Store      page.StoreID
	NewExtent  uint32
}

// ConstructStoreNodeAppendExtent builds the record appended when a store's
// allocation runs off the end of its current last extent.
func ConstructStoreNodeAppendExtent(txn TxnID, storeNodePID page.PageID, prevLSN page.LSN, store page.StoreID, newExtent uint32) *Record {
	body := make([]byte, 8)
	binary.LittleEndian.PutUint32(body[0:4], uint32(store))
	binary.LittleEndian.PutUint32(body[4:8], newExtent)
	return &Record{Header: Header{
		Type: TypeStoreNodeAppendExtent, TxnID: txn, PID: storeNodePID, PrevLSN: prevLSN,
	}, Body: body}
}

func DecodeStoreNodeAppendExtent(body []byte) StoreNodeAppendExtentBody {
	return StoreNodeAppendExtentBody{
		Store:     page.StoreID(binary.LittleEndian.Uint32(body[0:4])),
		NewExtent: binary.LittleEndian.Uint32(body[4:8]),
	}
}

// StoreNodeHandle is the narrow capability the store-node record redoes
// against.
type StoreNodeHandle interface {
	PID() page.PageID
	LSN() page.LSN
	SetLSN(page.LSN)
	SetLastExtent(store page.StoreID, extent uint32)
	SetRoot(store page.StoreID, root page.PageID)
}

// RedoStoreNodeAppendExtent idempotently records the new last-extent value.
func RedoStoreNodeAppendExtent(r *Record, sn StoreNodeHandle) {
	if r.LSN.LessEq(sn.LSN()) {
		return
	}
	body := DecodeStoreNodeAppendExtent(r.Body)
	sn.SetLastExtent(body.Store, body.NewExtent)
	sn.SetLSN(r.LSN)
}
