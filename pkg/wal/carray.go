package wal

import (
	"github.com/JABClari/zero/pkg/logrecord"
	"github.com/JABClari/zero/pkg/page"
)

// carraySlot is one writer's pending reservation request. Writers append a
// slot to the consolidation array, then either become the group's leader
// (the first to acquire the MCS lock after joining) or wait for the leader
// to assign them an offset — this is the "lock-free coalescer that merges
// concurrent log-insert reservations into one contiguous buffer allocation"
// from the glossary. The leader also performs the encode-and-write on each
// member's behalf once offsets are assigned, since the record's LSN (and
// therefore its trailer bytes) is only known after reservation.
type carraySlot struct {
	rec  *logrecord.Record
	size int64
	pos  int64    // absolute partition offset assigned by the leader
	lsn  page.LSN // LSN assigned to this slot's record
	done chan struct{}
}

// consolidationArray batches concurrent small reservation requests so that
// a single MCS-locked critical section reserves space for all of them at
// once, amortizing lock overhead under contention (spec.md §4.3's insert
// path). Grounded on log_core.h's ConsolidationArray / CArraySlot; no
// library in the retrieval pack implements this pattern, so it is
// hand-rolled (see DESIGN.md).
type consolidationArray struct {
	lock    mcsLock
	pending []*carraySlot
	mu      chan struct{} // binary semaphore guarding `pending` itself
}

func newConsolidationArray() *consolidationArray {
	ca := &consolidationArray{mu: make(chan struct{}, 1)}
	ca.mu <- struct{}{}
	return ca
}

// join enqueues rec for reservation and returns the slot the caller must
// wait on for its assigned LSN.
func (ca *consolidationArray) join(rec *logrecord.Record) *carraySlot {
	size := int64(logrecord.HeaderSize + len(rec.Body) + logrecord.TrailerSize)
	slot := &carraySlot{rec: rec, size: size, done: make(chan struct{})}
	<-ca.mu
	ca.pending = append(ca.pending, slot)
	ca.mu <- struct{}{}
	return slot
}

// drain atomically removes and returns every slot queued since the last
// drain.
func (ca *consolidationArray) drain() []*carraySlot {
	<-ca.mu
	slots := ca.pending
	ca.pending = nil
	ca.mu <- struct{}{}
	return slots
}
