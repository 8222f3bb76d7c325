// Package page implements the fixed-size, on-disk page container described
// in spec.md §6: a binary header (pid, lsn, page type, store, checksum,
// fence-key offsets, foster pointer offset, slot count, record-area
// boundary, flags), a slot directory growing from the low end, and a record
// area growing from the high end.
package page

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
)

// PageID identifies a page densely within a volume (spec.md §3).
type PageID uint32

// StoreID identifies a named index within a volume (spec.md §3).
type StoreID uint32

// Type discriminates the kind of payload a page holds.
type Type uint8

const (
	TypeInvalid Type = iota
	TypeLeaf
	TypeInterior
	TypeAllocBitmap
	TypeStoreNode
)

// HeaderSize is the fixed size, in bytes, of the page header. The field
// widths below follow spec.md §6 exactly (pid:32 lsn:64 page_type:8
// store:32 checksum:32 fence_low_off:16 fence_high_off:16 foster_off:16
// nrecs:16 record_area_end:16 flags:16), padded to a round number of bytes.
const HeaderSize = 40

// Flag bits stored in the header's flags field.
const (
	FlagHasFoster uint16 = 1 << iota
	FlagFenceLowIsInfimum
	FlagFenceHighIsSupremum
)

// Header is the decoded form of a page's fixed header.
type Header struct {
	PID            PageID
	LSN            LSN
	Type           Type
	Store          StoreID
	Checksum       uint32
	FenceLowOff    uint16
	FenceHighOff   uint16
	FosterOff      uint16
	NRecs          uint16
	RecordAreaEnd  uint16
	Flags          uint16
	Level          uint16 // B-tree level; 0 for leaves. Not in the wire header's spec bytes but packed into reserved tail.
}

// Page wraps a fixed-size buffer and exposes header and slot-directory
// accessors. The buffer's length is always the configured page size.
type Page struct {
	buf []byte
}

// New allocates a zeroed page of the given size with the slot directory and
// record area both empty (record area starts at the end of the buffer).
func New(size uint32) *Page {
	p := &Page{buf: make([]byte, size)}
	h := Header{RecordAreaEnd: uint16(size)}
	p.SetHeader(h)
	return p
}

// Wrap adapts an existing byte slice (e.g. a buffer-pool frame) as a Page
// without copying.
func Wrap(buf []byte) *Page { return &Page{buf: buf} }

// Bytes returns the page's backing buffer.
func (p *Page) Bytes() []byte { return p.buf }

// Size returns the page's fixed size in bytes.
func (p *Page) Size() int { return len(p.buf) }

// Header decodes the fixed header from the front of the buffer.
func (p *Page) Header() Header {
	b := p.buf
	var h Header
	h.PID = PageID(binary.LittleEndian.Uint32(b[0:4]))
	h.LSN = FromUint64(binary.LittleEndian.Uint64(b[4:12]))
	h.Type = Type(b[12])
	h.Store = StoreID(binary.LittleEndian.Uint32(b[13:17]))
	h.Checksum = binary.LittleEndian.Uint32(b[17:21])
	h.FenceLowOff = binary.LittleEndian.Uint16(b[21:23])
	h.FenceHighOff = binary.LittleEndian.Uint16(b[23:25])
	h.FosterOff = binary.LittleEndian.Uint16(b[25:27])
	h.NRecs = binary.LittleEndian.Uint16(b[27:29])
	h.RecordAreaEnd = binary.LittleEndian.Uint16(b[29:31])
	h.Flags = binary.LittleEndian.Uint16(b[31:33])
	h.Level = binary.LittleEndian.Uint16(b[33:35])
	return h
}

// SetHeader encodes h into the front of the buffer. Checksum is recomputed
// afterward by the caller via UpdateChecksum.
func (p *Page) SetHeader(h Header) {
	b := p.buf
	binary.LittleEndian.PutUint32(b[0:4], uint32(h.PID))
	binary.LittleEndian.PutUint64(b[4:12], h.LSN.Uint64())
	b[12] = byte(h.Type)
	binary.LittleEndian.PutUint32(b[13:17], uint32(h.Store))
	binary.LittleEndian.PutUint32(b[17:21], h.Checksum)
	binary.LittleEndian.PutUint16(b[21:23], h.FenceLowOff)
	binary.LittleEndian.PutUint16(b[23:25], h.FenceHighOff)
	binary.LittleEndian.PutUint16(b[25:27], h.FosterOff)
	binary.LittleEndian.PutUint16(b[27:29], h.NRecs)
	binary.LittleEndian.PutUint16(b[29:31], h.RecordAreaEnd)
	binary.LittleEndian.PutUint16(b[31:33], h.Flags)
	binary.LittleEndian.PutUint16(b[33:35], h.Level)
}

// Reset reinitializes the page in place as an empty page of the given type,
// store, and level, dropping every slot, fence key, and foster pointer.
// The buffer identity is preserved so outstanding buffer-pool frame
// references stay valid.
func (p *Page) Reset(t Type, store StoreID, level uint16) {
	h := Header{Type: t, Store: store, Level: level, RecordAreaEnd: uint16(len(p.buf))}
	p.SetHeader(h)
}

// PID is a convenience accessor for Header().PID.
func (p *Page) PID() PageID { return p.Header().PID }

// LSN is a convenience accessor for Header().LSN.
func (p *Page) LSN() LSN { return p.Header().LSN }

// SetLSN stamps a new LSN into the header without touching other fields.
func (p *Page) SetLSN(lsn LSN) {
	h := p.Header()
	h.LSN = lsn
	p.SetHeader(h)
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// UpdateChecksum recomputes and stores the page's checksum over everything
// except the checksum field itself.
func (p *Page) UpdateChecksum() {
	h := p.Header()
	h.Checksum = 0
	p.SetHeader(h)
	sum := crc32.Checksum(p.buf, crcTable)
	h.Checksum = sum
	p.SetHeader(h)
}

// VerifyChecksum recomputes the checksum and compares it to the stored one.
func (p *Page) VerifyChecksum() bool {
	stored := p.Header().Checksum
	h := p.Header()
	h.Checksum = 0
	tmp := make([]byte, len(p.buf))
	copy(tmp, p.buf)
	Wrap(tmp).SetHeader(h)
	return crc32.Checksum(tmp, crcTable) == stored
}

// slot directory: one uint16 byte-offset per slot, growing up from
// HeaderSize. Record bytes live below RecordAreaEnd, growing down from the
// end of the buffer.

func (p *Page) slotDirOffset(i int) int { return HeaderSize + 2*i }

func (p *Page) slotOffset(i int) uint16 {
	off := p.slotDirOffset(i)
	return binary.LittleEndian.Uint16(p.buf[off : off+2])
}

func (p *Page) setSlotOffset(i int, v uint16) {
	off := p.slotDirOffset(i)
	binary.LittleEndian.PutUint16(p.buf[off:off+2], v)
}

// FreeSpace returns the number of bytes available for new slot-directory
// entries and record bytes combined.
func (p *Page) FreeSpace() int {
	h := p.Header()
	dirEnd := p.slotDirOffset(int(h.NRecs))
	return int(h.RecordAreaEnd) - dirEnd
}

// --- leaf records: [ghost:1][keylen:2][vallen:2][key][value] ---

const leafRecHeaderSize = 5

// LeafEntry is the decoded form of one leaf slot.
type LeafEntry struct {
	Key   []byte
	Value []byte
	Ghost bool
}

// NRecs returns the number of slots currently occupied.
func (p *Page) NRecs() int { return int(p.Header().NRecs) }

// Leaf reads the slot at index i as a leaf entry.
func (p *Page) Leaf(i int) LeafEntry {
	off := int(p.slotOffset(i))
	ghost := p.buf[off] != 0
	klen := int(binary.LittleEndian.Uint16(p.buf[off+1 : off+3]))
	vlen := int(binary.LittleEndian.Uint16(p.buf[off+3 : off+5]))
	key := p.buf[off+leafRecHeaderSize : off+leafRecHeaderSize+klen]
	val := p.buf[off+leafRecHeaderSize+klen : off+leafRecHeaderSize+klen+vlen]
	return LeafEntry{Key: key, Value: val, Ghost: ghost}
}

// SetGhost flips the ghost bit of slot i in place (no resize needed).
func (p *Page) SetGhost(i int, ghost bool) {
	off := int(p.slotOffset(i))
	if ghost {
		p.buf[off] = 1
	} else {
		p.buf[off] = 0
	}
}

// leafRecSize returns the number of bytes a leaf record occupies on disk.
func leafRecSize(key, val []byte) int {
	return leafRecHeaderSize + len(key) + len(val)
}

// InsertLeaf inserts a new leaf slot at index i, shifting subsequent slot
// directory entries right. Returns false if there isn't enough free space.
func (p *Page) InsertLeaf(i int, key, val []byte, ghost bool) bool {
	recSize := leafRecSize(key, val)
	h := p.Header()
	needed := 2 + recSize // one more directory entry plus the record bytes
	if p.FreeSpace() < needed {
		return false
	}
	newAreaEnd := h.RecordAreaEnd - uint16(recSize)
	off := int(newAreaEnd)
	if ghost {
		p.buf[off] = 1
	} else {
		p.buf[off] = 0
	}
	binary.LittleEndian.PutUint16(p.buf[off+1:off+3], uint16(len(key)))
	binary.LittleEndian.PutUint16(p.buf[off+3:off+5], uint16(len(val)))
	copy(p.buf[off+leafRecHeaderSize:], key)
	copy(p.buf[off+leafRecHeaderSize+len(key):], val)

	for j := int(h.NRecs); j > i; j-- {
		p.setSlotOffset(j, p.slotOffset(j-1))
	}
	p.setSlotOffset(i, newAreaEnd)

	h.NRecs++
	h.RecordAreaEnd = newAreaEnd
	p.SetHeader(h)
	return true
}

// DeleteSlot physically removes slot i, shifting subsequent directory
// entries left. It does not reclaim the record bytes (that happens on the
// next compress/reclaim pass), matching the original's ghost-reclaim
// discipline where only a dedicated SSX defragments the record area.
func (p *Page) DeleteSlot(i int) {
	h := p.Header()
	for j := i; j < int(h.NRecs)-1; j++ {
		p.setSlotOffset(j, p.slotOffset(j+1))
	}
	h.NRecs--
	p.SetHeader(h)
}

// Compact rebuilds the record area from scratch, dropping any bytes not
// referenced by the current slot directory or fence/foster metadata. This
// is the physical effect of btree_ghost_reclaim / btree_compress_page.
func (p *Page) Compact(keepGhosts bool) {
	h := p.Header()
	lowKey := append([]byte(nil), p.rawBytesAt(h.FenceLowOff)...)
	highKey := append([]byte(nil), p.rawBytesAt(h.FenceHighOff)...)
	var fosterHigh []byte
	hasFoster := h.Flags&FlagHasFoster != 0
	var fosterChild PageID
	if hasFoster {
		fosterChild, fosterHigh = p.fosterRaw()
		fosterHigh = append([]byte(nil), fosterHigh...)
	}

	type kept struct {
		key, val []byte
		ghost    bool
	}
	var entries []kept
	for i := 0; i < int(h.NRecs); i++ {
		e := p.Leaf(i)
		if e.Ghost && !keepGhosts {
			continue
		}
		entries = append(entries, kept{append([]byte(nil), e.Key...), append([]byte(nil), e.Value...), e.Ghost})
	}

	end := uint16(len(p.buf))
	var lowOff, highOff uint16
	if h.FenceLowOff != 0 {
		end -= uint16(2 + len(lowKey))
		lowOff = end + 2
		p.writeRawBytes(lowOff, lowKey)
	}
	if h.FenceHighOff != 0 {
		end -= uint16(2 + len(highKey))
		highOff = end + 2
		p.writeRawBytes(highOff, highKey)
	}
	var fosterOff uint16
	if hasFoster {
		end -= uint16(2 + 4 + len(fosterHigh))
		fosterOff = end + 2
		binary.LittleEndian.PutUint16(p.buf[fosterOff-2:fosterOff], uint16(4+len(fosterHigh)))
		binary.LittleEndian.PutUint32(p.buf[fosterOff:fosterOff+4], uint32(fosterChild))
		copy(p.buf[fosterOff+4:], fosterHigh)
	}

	for i, e := range entries {
		sz := leafRecSize(e.key, e.val)
		end -= uint16(sz)
		off := end
		if e.ghost {
			p.buf[off] = 1
		} else {
			p.buf[off] = 0
		}
		binary.LittleEndian.PutUint16(p.buf[off+1:off+3], uint16(len(e.key)))
		binary.LittleEndian.PutUint16(p.buf[off+3:off+5], uint16(len(e.val)))
		copy(p.buf[off+leafRecHeaderSize:], e.key)
		copy(p.buf[off+leafRecHeaderSize+uint16(len(e.key)):], e.val)
		p.setSlotOffset(i, off)
	}

	h.NRecs = uint16(len(entries))
	h.RecordAreaEnd = end
	h.FenceLowOff = lowOff
	h.FenceHighOff = highOff
	if hasFoster {
		h.FosterOff = fosterOff
	}
	p.SetHeader(h)
}

func (p *Page) rawBytesAt(off uint16) []byte {
	if off == 0 {
		return nil
	}
	// Keys are length-prefixed by a uint16 immediately preceding them so
	// they can be relocated during Compact without a separate table.
	l := binary.LittleEndian.Uint16(p.buf[off-2 : off])
	return p.buf[off : off+l]
}

func (p *Page) writeRawBytes(off uint16, data []byte) {
	binary.LittleEndian.PutUint16(p.buf[off-2:off], uint16(len(data)))
	copy(p.buf[off:], data)
}

// --- fence keys ---

// SetFenceLow stores the page's low fence key (inclusive bound).
func (p *Page) SetFenceLow(key []byte) {
	off := p.allocRaw(len(key))
	p.writeRawBytes(off, key)
	h := p.Header()
	h.FenceLowOff = off
	p.SetHeader(h)
}

// SetFenceHigh stores the page's high fence key (exclusive bound).
func (p *Page) SetFenceHigh(key []byte) {
	off := p.allocRaw(len(key))
	p.writeRawBytes(off, key)
	h := p.Header()
	h.FenceHighOff = off
	p.SetHeader(h)
}

// FenceLow returns the page's low fence key.
func (p *Page) FenceLow() []byte { return p.rawBytesAt(p.Header().FenceLowOff) }

// FenceHigh returns the page's high fence key.
func (p *Page) FenceHigh() []byte { return p.rawBytesAt(p.Header().FenceHighOff) }

// allocRaw carves out space at the bottom of the record area for a raw,
// length-prefixed byte string (used for fence keys and the foster pointer)
// and advances RecordAreaEnd past it.
func (p *Page) allocRaw(n int) uint16 {
	h := p.Header()
	newEnd := h.RecordAreaEnd - uint16(2+n)
	h.RecordAreaEnd = newEnd
	p.SetHeader(h)
	return newEnd + 2
}

// --- foster pointer ---

// SetFosterChild records a foster child pointer and its high-fence key,
// per spec.md §4.2's foster-child discipline.
func (p *Page) SetFosterChild(child PageID, fosterHigh []byte) {
	off := p.allocRaw(4 + len(fosterHigh))
	binary.LittleEndian.PutUint32(p.buf[off:off+4], uint32(child))
	binary.LittleEndian.PutUint16(p.buf[off-2:off], uint16(4+len(fosterHigh)))
	copy(p.buf[off+4:], fosterHigh)
	h := p.Header()
	h.FosterOff = off
	h.Flags |= FlagHasFoster
	p.SetHeader(h)
}

// ClearFosterChild removes the foster pointer, e.g. after adoption.
func (p *Page) ClearFosterChild() {
	h := p.Header()
	h.FosterOff = 0
	h.Flags &^= FlagHasFoster
	p.SetHeader(h)
}

// HasFosterChild reports whether this page currently has a foster child.
func (p *Page) HasFosterChild() bool { return p.Header().Flags&FlagHasFoster != 0 }

func (p *Page) fosterRaw() (PageID, []byte) {
	h := p.Header()
	if h.FosterOff == 0 {
		return 0, nil
	}
	off := h.FosterOff
	l := binary.LittleEndian.Uint16(p.buf[off-2 : off])
	child := PageID(binary.LittleEndian.Uint32(p.buf[off : off+4]))
	high := p.buf[off+4 : off+l]
	return child, high
}

// FosterChild returns the foster child pointer and its high fence key, or
// (0, nil) if there is none.
func (p *Page) FosterChild() (PageID, []byte) { return p.fosterRaw() }

// --- interior records: [keylen:2][childPID:4][childLSN:8][key] ---

const interiorRecHeaderSize = 14

// InteriorEntry is the decoded form of one interior slot.
type InteriorEntry struct {
	SeparatorKey    []byte
	ChildPID        PageID
	ChildExpectLSN  LSN
}

// Interior reads the slot at index i as an interior entry.
func (p *Page) Interior(i int) InteriorEntry {
	off := int(p.slotOffset(i))
	klen := int(binary.LittleEndian.Uint16(p.buf[off : off+2]))
	child := PageID(binary.LittleEndian.Uint32(p.buf[off+2 : off+6]))
	lsn := FromUint64(binary.LittleEndian.Uint64(p.buf[off+6 : off+14]))
	key := p.buf[off+interiorRecHeaderSize : off+interiorRecHeaderSize+klen]
	return InteriorEntry{SeparatorKey: key, ChildPID: child, ChildExpectLSN: lsn}
}

// InsertInterior inserts a new interior slot at index i.
func (p *Page) InsertInterior(i int, key []byte, child PageID, childLSN LSN) bool {
	recSize := interiorRecHeaderSize + len(key)
	h := p.Header()
	if p.FreeSpace() < 2+recSize {
		return false
	}
	newAreaEnd := h.RecordAreaEnd - uint16(recSize)
	off := int(newAreaEnd)
	binary.LittleEndian.PutUint16(p.buf[off:off+2], uint16(len(key)))
	binary.LittleEndian.PutUint32(p.buf[off+2:off+6], uint32(child))
	binary.LittleEndian.PutUint64(p.buf[off+6:off+14], childLSN.Uint64())
	copy(p.buf[off+interiorRecHeaderSize:], key)

	for j := int(h.NRecs); j > i; j-- {
		p.setSlotOffset(j, p.slotOffset(j-1))
	}
	p.setSlotOffset(i, newAreaEnd)

	h.NRecs++
	h.RecordAreaEnd = newAreaEnd
	p.SetHeader(h)
	return true
}

// SearchLeaf performs a binary search over the leaf's sorted slots for key.
// It returns (true, idx) on an exact match, or (false, idx) where idx is
// the insertion point such that Leaf(idx-1).Key < key < Leaf(idx).Key.
func (p *Page) SearchLeaf(key []byte) (found bool, idx int) {
	n := p.NRecs()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		c := bytes.Compare(p.Leaf(mid).Key, key)
		if c == 0 {
			return true, mid
		} else if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return false, lo
}

// SearchInterior returns the index of the child pointer whose range covers
// key: the largest i such that Interior(i).SeparatorKey <= key, or 0 if key
// sorts below every separator (the leftmost child's range implicitly starts
// at the page's own fence low).
func (p *Page) SearchInterior(key []byte) int {
	n := p.NRecs()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(p.Interior(mid).SeparatorKey, key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return 0
	}
	return lo - 1
}

// FenceContains reports whether key lies in [fence_low, fence_high).
func (p *Page) FenceContains(key []byte) bool {
	lo := p.FenceLow()
	hi := p.FenceHigh()
	h := p.Header()
	if h.Flags&FlagFenceLowIsInfimum == 0 && bytes.Compare(key, lo) < 0 {
		return false
	}
	if h.Flags&FlagFenceHighIsSupremum == 0 && bytes.Compare(key, hi) >= 0 {
		return false
	}
	return true
}
