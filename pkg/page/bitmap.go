package page

import "encoding/binary"

// An allocation bitmap page is the common Header followed directly by a bit
// vector of length E, bit j set iff page extent*E+j is allocated. The
// owning store id lives in the common header's Store field.

// Bitmap wraps a Page whose Type is TypeAllocBitmap and exposes bit-vector
// accessors over the region following the fixed header.
type Bitmap struct{ *Page }

// AsBitmap adapts p as a Bitmap view. Caller is responsible for having set
// Header.Type to TypeAllocBitmap.
func AsBitmap(p *Page) Bitmap { return Bitmap{p} }

// BitsHeld returns E, the number of page-ids this bitmap page covers, given
// the page size.
func BitsHeld(pageSize uint32) uint32 {
	return 8 * (pageSize - HeaderSize)
}

func (b Bitmap) byteOffset(bit uint32) (int, byte) {
	return HeaderSize + int(bit/8), byte(1 << (bit % 8))
}

// GetBit returns whether bit j (0-based, relative to the extent's first
// page-id) is set.
func (b Bitmap) GetBit(j uint32) bool {
	off, mask := b.byteOffset(j)
	return b.Bytes()[off]&mask != 0
}

// SetBit sets or clears bit j.
func (b Bitmap) SetBit(j uint32, v bool) {
	off, mask := b.byteOffset(j)
	if v {
		b.Bytes()[off] |= mask
	} else {
		b.Bytes()[off] &^= mask
	}
}

// StoreNode is the pre-allocated page at the well-known first page of the
// first extent (spec.md §6), holding per-store roots and each store's last
// extent. It stores no next-free-store counter.
type StoreNode struct{ *Page }

// AsStoreNode adapts p as a StoreNode view.
func AsStoreNode(p *Page) StoreNode { return StoreNode{p} }

// storeNodeEntrySize is (rootPID:4, lastExtent:4) per store, laid out as a
// dense array starting right after the header.
const storeNodeEntrySize = 8

// MaxStores returns how many store entries fit in one store-node page.
func (s StoreNode) MaxStores() int {
	return (len(s.Bytes()) - HeaderSize) / storeNodeEntrySize
}

// Entry returns the root page id and last-extent id recorded for store sid.
func (s StoreNode) Entry(sid StoreID) (root PageID, lastExtent uint32) {
	off := HeaderSize + int(sid)*storeNodeEntrySize
	root = PageID(binary.LittleEndian.Uint32(s.Bytes()[off : off+4]))
	lastExtent = binary.LittleEndian.Uint32(s.Bytes()[off+4 : off+8])
	return
}

// SetEntry records the root page id and last-extent id for store sid.
func (s StoreNode) SetEntry(sid StoreID, root PageID, lastExtent uint32) {
	off := HeaderSize + int(sid)*storeNodeEntrySize
	binary.LittleEndian.PutUint32(s.Bytes()[off:off+4], uint32(root))
	binary.LittleEndian.PutUint32(s.Bytes()[off+4:off+8], lastExtent)
}

// SetLastExtent updates only the last-extent id for sid, leaving its root
// page id untouched. Satisfies the logrecord.StoreNodeHandle capability
// used to redo store_node_append_extent records.
func (s StoreNode) SetLastExtent(sid StoreID, lastExtent uint32) {
	root, _ := s.Entry(sid)
	s.SetEntry(sid, root, lastExtent)
}

// SetRoot updates only sid's root page id, leaving its last-extent id
// untouched. Satisfies the logrecord.StoreNodeHandle capability used to
// redo btree_set_root records.
func (s StoreNode) SetRoot(sid StoreID, root PageID) {
	_, lastExtent := s.Entry(sid)
	s.SetEntry(sid, root, lastExtent)
}

// StoreNodePID is the well-known page id of the store-node page.
const StoreNodePID PageID = 1
