// Package btree implements the foster B-tree described in spec.md §4.2:
// insert/update/overwrite/ghost-delete on leaves, the split/norec_alloc/
// adopt/compress structural SSXs, logical undo, and a lock-coupled cursor
// ported closely from original_source/src/sm/btcursor.cpp. The physical
// page layout lives in pkg/page; this package adds the B-tree-shaped
// operations over it and satisfies pkg/logrecord's PageHandle capability so
// the same Redo/Undo functions that apply during normal operation also
// drive recovery.
package btree

import (
	"github.com/JABClari/zero/pkg/page"
)

// Handle adapts a *page.Page (leaf or interior; the page's own Header.Level
// says which) to logrecord.PageHandle. One wrapper handles both shapes,
// mirroring the original's borrowed_btree_page_h dispatching on is_leaf().
type Handle struct{ *page.Page }

// Wrap adapts p as a Handle.
func Wrap(p *page.Page) Handle { return Handle{p} }

// InsertNonGhost inserts a brand-new non-ghost leaf slot for key.
func (h Handle) InsertNonGhost(key, val []byte) bool {
	found, idx := h.SearchLeaf(key)
	if found {
		return false
	}
	return h.InsertLeaf(idx, key, val, false)
}

// ReplaceGhost turns an existing ghost slot for key into a live slot. The
// record area isn't resized in place; the ghost slot's bytes are left dead
// until the next ReclaimGhosts/Compress pass, per the original's discipline
// of only defragmenting in a dedicated SSX.
func (h Handle) ReplaceGhost(key, val []byte) bool {
	found, idx := h.SearchLeaf(key)
	if !found || !h.Leaf(idx).Ghost {
		return false
	}
	h.DeleteSlot(idx)
	return h.InsertLeaf(idx, key, val, false)
}

// ReserveGhost creates a ghost slot for key sized to hold valLen bytes.
func (h Handle) ReserveGhost(key []byte, valLen int) bool {
	found, idx := h.SearchLeaf(key)
	if found {
		return false
	}
	return h.InsertLeaf(idx, key, make([]byte, valLen), true)
}

// MarkGhost flags key's slot as a ghost (logical delete).
func (h Handle) MarkGhost(key []byte) bool {
	found, idx := h.SearchLeaf(key)
	if !found {
		return false
	}
	h.SetGhost(idx, true)
	return true
}

// UnmarkGhost clears the ghost flag on key's slot (undo of a ghost mark).
func (h Handle) UnmarkGhost(key []byte) bool {
	found, idx := h.SearchLeaf(key)
	if !found {
		return false
	}
	h.SetGhost(idx, false)
	return true
}

// Update replaces key's entire value, returning the old value for undo.
func (h Handle) Update(key, newVal []byte) ([]byte, bool) {
	found, idx := h.SearchLeaf(key)
	if !found {
		return nil, false
	}
	old := append([]byte(nil), h.Leaf(idx).Value...)
	ghost := h.Leaf(idx).Ghost
	h.DeleteSlot(idx)
	h.InsertLeaf(idx, key, newVal, ghost)
	return old, true
}

// Overwrite patches newVal into key's value at byte offset off, returning
// the bytes it replaced for undo.
func (h Handle) Overwrite(key []byte, off int, newVal []byte) ([]byte, bool) {
	found, idx := h.SearchLeaf(key)
	if !found {
		return nil, false
	}
	e := h.Leaf(idx)
	old := append([]byte(nil), e.Value[off:off+len(newVal)]...)
	patched := append([]byte(nil), e.Value...)
	copy(patched[off:], newVal)
	h.DeleteSlot(idx)
	h.InsertLeaf(idx, key, patched, e.Ghost)
	return old, true
}

// ReclaimGhosts physically drops every ghost slot and defragments the
// record area.
func (h Handle) ReclaimGhosts() {
	h.Compact(false)
}

// DeleteRange physically removes the top count slots (the highest keys),
// used by split to strip the entries moving to the new foster child. It
// returns deep copies since the underlying buffer is about to be rewritten.
func (h Handle) DeleteRange(count int) []page.LeafEntry {
	n := h.NRecs()
	start := n - count
	entries := make([]page.LeafEntry, count)
	for i := 0; i < count; i++ {
		e := h.Leaf(start + i)
		entries[i] = page.LeafEntry{
			Key:   append([]byte(nil), e.Key...),
			Value: append([]byte(nil), e.Value...),
			Ghost: e.Ghost,
		}
	}
	for i := 0; i < count; i++ {
		h.DeleteSlot(start)
	}
	return entries
}

// BulkLoadLeaf appends entries in order to an empty leaf, used to populate
// a freshly split-off foster child.
func (h Handle) BulkLoadLeaf(entries []page.LeafEntry) {
	for _, e := range entries {
		h.InsertLeaf(h.NRecs(), e.Key, e.Value, e.Ghost)
	}
}

// Compress rewrites this page's fence keys and drops every ghost entry,
// combining btree_compress_page's fence rewrite with a reclaim pass. Live
// entries outside the new fence range are not removed.
func (h Handle) Compress(low, high []byte) {
	h.setFences(low, high)
	h.Compact(false)
}

// FormatEmpty (re)initializes this page as an empty leaf (level 0) or
// interior (level > 0) page for store, with the given fences. Used both to
// build a brand-new foster child (split) and to format a freshly allocated
// empty child (norec_alloc).
func (h Handle) FormatEmpty(store page.StoreID, level uint16, low, high []byte) {
	t := page.TypeLeaf
	if level > 0 {
		t = page.TypeInterior
	}
	h.Reset(t, store, level)
	h.setFences(low, high)
}

func (h Handle) setFences(low, high []byte) {
	hdr := h.Header()
	if len(low) == 0 {
		hdr.Flags |= page.FlagFenceLowIsInfimum
	} else {
		hdr.Flags &^= page.FlagFenceLowIsInfimum
	}
	if len(high) == 0 {
		hdr.Flags |= page.FlagFenceHighIsSupremum
	} else {
		hdr.Flags &^= page.FlagFenceHighIsSupremum
	}
	h.SetHeader(hdr)
	if len(low) > 0 {
		h.SetFenceLow(low)
	}
	if len(high) > 0 {
		h.SetFenceHigh(high)
	}
}

// AcceptEmptyChild installs a new interior entry at idx pointing to a
// freshly allocated, empty child page (the parent side of norec_alloc).
func (h Handle) AcceptEmptyChild(idx int, separator []byte, child page.PageID, childLSN page.LSN) {
	h.InsertInterior(idx, separator, child, childLSN)
}

// PromoteFoster installs or updates, at idx, the interior entry that
// replaces a foster pointer once adopted into the parent.
func (h Handle) PromoteFoster(idx int, separator []byte, child page.PageID, childLSN page.LSN) {
	if idx < h.NRecs() {
		h.DeleteSlot(idx)
	}
	h.InsertInterior(idx, separator, child, childLSN)
}

// IsLeaf reports whether this page is currently formatted as a leaf.
func (h Handle) IsLeaf() bool { return h.Header().Level == 0 }
