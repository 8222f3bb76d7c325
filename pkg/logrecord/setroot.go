package logrecord

import (
	"encoding/binary"

	"github.com/JABClari/zero/pkg/page"
)

// BtreeSetRootBody is the body of a btree_set_root record: a store's root
// page id changed, either at store creation or after a root split grows the
// tree a level (via btree_new_root).
type BtreeSetRootBody struct {
	Store page.StoreID
	Root  page.PageID
}

// ConstructBtreeSetRoot builds the record. Header.PID is the store-node
// page, chained off its own prior LSN like the allocation cache's records.
func ConstructBtreeSetRoot(txn TxnID, storeNodePID page.PageID, prevLSN page.LSN, store page.StoreID, root page.PageID) *Record {
	body := make([]byte, 8)
	binary.LittleEndian.PutUint32(body[0:4], uint32(store))
	binary.LittleEndian.PutUint32(body[4:8], uint32(root))
	return &Record{Header: Header{
		Type: TypeBtreeSetRoot, TxnID: txn, PID: storeNodePID, PrevLSN: prevLSN,
	}, Body: body}
}

func decodeBtreeSetRootBody(body []byte) BtreeSetRootBody {
	return BtreeSetRootBody{
		Store: page.StoreID(binary.LittleEndian.Uint32(body[0:4])),
		Root:  page.PageID(binary.LittleEndian.Uint32(body[4:8])),
	}
}

// RedoBtreeSetRoot idempotently records the store's new root page id.
func RedoBtreeSetRoot(r *Record, sn StoreNodeHandle) {
	if r.LSN.LessEq(sn.LSN()) {
		return
	}
	b := decodeBtreeSetRootBody(r.Body)
	sn.SetRoot(b.Store, b.Root)
	sn.SetLSN(r.LSN)
}
