package logrecord

import "github.com/JABClari/zero/pkg/page"

// PageHandle is the capability trait every B-tree log record's Redo/Undo is
// written against, per spec.md §9's design note collapsing
// template-duplicated log constructors into one parameterized interface.
// pkg/btree's page wrapper implements this structurally; this package never
// imports pkg/btree.
type PageHandle interface {
	PID() page.PageID
	LSN() page.LSN
	SetLSN(page.LSN)

	FenceLow() []byte
	FenceHigh() []byte
	SetFenceLow([]byte)
	SetFenceHigh([]byte)

	// InsertNonGhost inserts a brand-new non-ghost (key, value) slot,
	// failing if key is already present. No log record's Redo calls it.
	InsertNonGhost(key, val []byte) bool

	// ReplaceGhost turns an existing ghost slot for key into a live slot
	// holding val. The two-step ghost_reserve + replace_ghost sequence is
	// what makes user inserts idempotent on REDO (spec.md §4.2).
	ReplaceGhost(key, val []byte) bool

	// ReserveGhost creates a ghost slot for key sized to eventually hold a
	// value of valLen bytes.
	ReserveGhost(key []byte, valLen int) bool

	// MarkGhost flags the slot holding key as a ghost (logical delete).
	MarkGhost(key []byte) bool

	// UnmarkGhost clears the ghost flag on the slot holding key (undo of a
	// ghost mark).
	UnmarkGhost(key []byte) bool

	// Update overwrites the entire value for key.
	Update(key, newVal []byte) ([]byte, bool)

	// Overwrite patches newVal into the existing value for key starting at
	// byte offset off. Returns the bytes it replaced for undo.
	Overwrite(key []byte, off int, newVal []byte) ([]byte, bool)

	// ReclaimGhosts physically removes every ghost slot, defragmenting the
	// record area. No undo: btree_ghost_reclaim is an SSX.
	ReclaimGhosts()

	// DeleteRange physically removes the top count slots (used by split to
	// strip the entries moving to the foster child).
	DeleteRange(count int) []page.LeafEntry

	// SetFosterChild installs a foster pointer plus foster-high fence.
	SetFosterChild(child page.PageID, fosterHigh []byte)

	// ClearFosterChild removes the foster pointer (post-adoption).
	ClearFosterChild()

	// FosterChild returns the current foster pointer, if any.
	FosterChild() (page.PageID, []byte)

	// Compress rewrites this page's low/high fence keys and physically
	// drops every ghost slot in the same pass.
	Compress(low, high []byte)

	// FormatEmpty (re)initializes this page as an empty leaf or interior
	// page with the given level, fences, and store, used both to build a
	// brand-new foster child (btree_split) and to format a freshly
	// allocated empty child (btree_norec_alloc's "format_steal").
	FormatEmpty(store page.StoreID, level uint16, low, high []byte)

	// AcceptEmptyChild records a new (child pid, separator key) interior
	// entry pointing at a freshly allocated, empty child page. Used by the
	// parent side of btree_norec_alloc.
	AcceptEmptyChild(idx int, separator []byte, child page.PageID, childLSN page.LSN)

	// PromoteFoster installs (or updates) the interior entry that replaces
	// a foster pointer once adopted into the parent, at the given index.
	PromoteFoster(idx int, separator []byte, child page.PageID, childLSN page.LSN)

	// BulkLoadLeaf appends entries to an empty leaf page in order, used to
	// build the foster child during a split.
	BulkLoadLeaf(entries []page.LeafEntry)
}

// BitmapHandle is the capability trait allocation-cache log records are
// written against.
type BitmapHandle interface {
	PID() page.PageID
	LSN() page.LSN
	SetLSN(page.LSN)
	SetBit(j uint32, v bool)
}
