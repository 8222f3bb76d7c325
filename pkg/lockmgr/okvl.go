// Package lockmgr implements the key-range lock manager contract described
// in spec.md §7: OKVL (Orthogonal Key-Value Locking) modes over a key hash,
// plus coarser store-level intent locks taken before the first per-key
// request. Grounded on original_source/src/sm/lock.h for the interface
// surface (lock, unlock, intent_store_lock, get_granted_mode) and
// original_source/src/sm/btcursor.cpp for how a caller consumes the modes
// and the eLOCKRETRY outcome.
package lockmgr

// ElementMode is one of the three lock strengths OKVL assigns independently
// to a key and to the gap following it, and also the strength requested of
// a store-level intent lock.
type ElementMode uint8

const (
	N ElementMode = iota // no lock
	S                     // shared
	X                     // exclusive
)

func (m ElementMode) String() string {
	switch m {
	case N:
		return "N"
	case S:
		return "S"
	case X:
		return "X"
	default:
		return "?"
	}
}

// elementConflict reports whether a held element lock of mode a conflicts
// with a requested element lock of mode b. N never conflicts; S and S are
// compatible; anything paired with X conflicts unless the other side is N.
func elementConflict(a, b ElementMode) bool {
	return (a == X && b != N) || (b == X && a != N)
}

// Mode is a key-range lock: independent modes for the key point itself and
// for the open gap between that key and the next. btcursor.cpp builds these
// from the two-letter combinations below depending on whether the cursor
// needs to protect the key, the gap, or both against phantoms.
type Mode struct {
	Key ElementMode
	Gap ElementMode
}

// Named combinations used by the cursor (spec.md §7, btcursor.cpp):
//   - NL: no lock at all (key definitely doesn't exist, or no protection
//     needed, e.g. a backward exclusive-upper scan at the exact key).
//   - NS / NX: protect only the gap before the next key (the key itself
//     doesn't matter, used for the would-be-successor on a miss).
//   - SN / XN: protect only the key (fence keys, where the gap belongs to
//     the neighboring page's range, not this one).
//   - SS / XX: protect both the key and its trailing gap (exact hit, or a
//     range lock taken to reduce lock manager calls).
var (
	NL = Mode{N, N}
	NS = Mode{N, S}
	NX = Mode{N, X}
	SN = Mode{S, N}
	SS = Mode{S, S}
	XN = Mode{X, N}
	XX = Mode{X, X}
)

// Conflicts reports whether a lock already granted in mode m conflicts with
// a request for mode other. A key-range lock occupies both its key point
// and its trailing gap, so either component of one mode can conflict with
// either component of the other.
func (m Mode) Conflicts(other Mode) bool {
	return elementConflict(m.Key, other.Key) ||
		elementConflict(m.Key, other.Gap) ||
		elementConflict(m.Gap, other.Key) ||
		elementConflict(m.Gap, other.Gap)
}

// Dominates reports whether m already grants everything other would, so a
// request for other can be satisfied by a txn already holding m without a
// new acquisition.
func (m Mode) Dominates(other Mode) bool {
	return dominatesElement(m.Key, other.Key) && dominatesElement(m.Gap, other.Gap)
}

func dominatesElement(held, wanted ElementMode) bool {
	return held >= wanted
}

// Union returns the weakest mode that dominates both m and other, used when
// a txn already holding m requests other for the same hash.
func (m Mode) Union(other Mode) Mode {
	return Mode{maxElement(m.Key, other.Key), maxElement(m.Gap, other.Gap)}
}

func maxElement(a, b ElementMode) ElementMode {
	if a > b {
		return a
	}
	return b
}

func (m Mode) IsNone() bool { return m.Key == N && m.Gap == N }
