// Package wal implements the partitioned, append-only write-ahead log
// described in spec.md §4.3: LSNs addressed as (partition, offset) pairs,
// a consolidation array that amortizes lock overhead across concurrent
// inserters, group-commit flushing, and an oldest-LSN tracker gating
// truncation. Grounded on etcd's server/wal package for the Go-idiomatic
// shape of a segmented, fsync-batched log, and on log_core.h/log_core.cpp
// for the consolidation-array and MCS-lock reservation mechanics specific
// to this design.
package wal

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JABClari/zero/pkg/config"
	"github.com/JABClari/zero/pkg/logrecord"
	"github.com/JABClari/zero/pkg/metrics"
	"github.com/JABClari/zero/pkg/page"
)

// WAL is the volume's single write-ahead log. One WAL instance is shared by
// every transaction and the buffer pool's page cleaner.
type WAL struct {
	cfg    config.Config
	dir    string
	log    *zap.Logger
	oldest *OldestLSNTracker

	ca        *consolidationArray // ca.lock gates leader election for the insert path
	flushLock tatasLock

	mu             sync.Mutex // guards the fields below
	partitions     map[uint32]*partition
	cur            *partition
	curOff         int64 // next free offset inside cur
	curLSN         page.LSN
	durableLSN     page.LSN
	unflushedBytes int64 // written since durableLSN, gates group commit
	flushSignal    chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// Open opens or creates the log rooted at dir.
func Open(dir string, cfg config.Config, log *zap.Logger) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}
	w := &WAL{
		cfg:         cfg,
		dir:         dir,
		log:         log,
		oldest:      NewOldestLSNTracker(),
		ca:          newConsolidationArray(),
		partitions:  make(map[uint32]*partition),
		flushSignal: make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
	cap := partitionCapacity(cfg)
	p, _, err := w.openOrCreatePartition(1, cap)
	if err != nil {
		return nil, err
	}
	w.cur = p
	w.curOff = p.written
	w.curLSN = page.LSN{Partition: 1, Offset: uint32(p.written)}
	w.durableLSN = w.curLSN
	return w, nil
}

func (w *WAL) openOrCreatePartition(idx uint32, cap int64) (*partition, bool, error) {
	if p, ok := w.partitions[idx]; ok {
		return p, false, nil
	}
	p, err := openPartition(w.dir, idx, cap)
	if err != nil {
		return nil, false, err
	}
	w.partitions[idx] = p
	return p, true, nil
}

// Insert appends rec to the log and returns the LSN it was assigned. The
// record's PrevLSN field should already chain to the transaction's prior
// record, per spec.md §4.2's per-transaction LSN chain.
func (w *WAL) Insert(rec *logrecord.Record) (page.LSN, error) {
	slot := w.ca.join(rec)

	h := w.ca.lock.Lock()
	// Only the first goroutine to get past the MCS lock while slot.done is
	// still open acts as leader; everyone else (including this goroutine,
	// if another leader already serviced it) just waits below. The MCS
	// lock's FIFO queueing, not mutual exclusion alone, is the point: it
	// keeps the reservation step's latency bounded and fair under the
	// contention the consolidation array exists to amortize.
	select {
	case <-slot.done:
		w.ca.lock.Unlock(h)
		return slot.lsn, nil
	default:
	}

	slots := w.ca.drain()
	if len(slots) == 0 {
		slots = []*carraySlot{slot}
	}
	err := w.assignAndWrite(slots)
	w.ca.lock.Unlock(h)
	if err != nil {
		return page.NullLSN, err
	}
	<-slot.done
	return slot.lsn, nil
}

// assignAndWrite is the consolidation array's leader step: compute
// contiguous offsets for every pending slot, rolling to a new partition
// rather than splitting a record across partitions, write each record, then
// release every follower.
func (w *WAL) assignAndWrite(slots []*carraySlot) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, s := range slots {
		if w.curOff+s.size > w.cur.capacity {
			if err := w.rollPartitionLocked(); err != nil {
				for _, s2 := range slots {
					close(s2.done)
				}
				return err
			}
		}
		s.pos = w.curOff
		s.lsn = page.LSN{Partition: w.cur.index, Offset: uint32(w.curOff)}
		s.rec.LSN = s.lsn
		buf := s.rec.Encode()
		if err := w.cur.appendAt(s.pos, buf); err != nil {
			close(s.done)
			return err
		}
		w.curOff += int64(len(buf))
		w.curLSN = page.LSN{Partition: w.cur.index, Offset: uint32(w.curOff)}
		w.unflushedBytes += int64(len(buf))
		close(s.done)
	}
	// _should_group_commit: only wake the flush daemon early once enough
	// unflushed bytes have piled up; otherwise it flushes on its timer.
	if w.unflushedBytes >= int64(w.cfg.GroupCommitSize) {
		select {
		case w.flushSignal <- struct{}{}:
		default:
		}
	}
	return nil
}

func (w *WAL) rollPartitionLocked() error {
	next := w.cur.index + 1
	p, _, err := w.openOrCreatePartition(next, partitionCapacity(w.cfg))
	if err != nil {
		return err
	}
	w.cur = p
	w.curOff = p.written
	return nil
}

// Flush blocks until upto is durable, fsyncing every partition touched
// since the last flush.
func (w *WAL) Flush(upto page.LSN) error {
	w.flushLock.Lock()
	defer w.flushLock.Unlock()

	w.mu.Lock()
	if !w.durableLSN.Less(upto) {
		w.mu.Unlock()
		return nil
	}
	var touched []*partition
	for idx, p := range w.partitions {
		if idx >= w.durableLSN.Partition {
			touched = append(touched, p)
		}
	}
	w.mu.Unlock()

	start := time.Now()
	for _, p := range touched {
		if err := p.sync(); err != nil {
			return fmt.Errorf("wal: flush: %w", err)
		}
	}
	metrics.WALFlushLatency.Observe(time.Since(start).Seconds())

	w.mu.Lock()
	if w.durableLSN.Less(w.curLSN) {
		w.durableLSN = w.curLSN
	}
	w.unflushedBytes = 0
	metrics.WALDurableLSNOffset.Set(float64(w.durableLSN.Offset))
	w.mu.Unlock()
	return nil
}

// FlushAll is a convenience for flushing every record inserted so far.
func (w *WAL) FlushAll() error {
	w.mu.Lock()
	upto := w.curLSN
	w.mu.Unlock()
	return w.Flush(upto)
}

// DurableLSN returns the highest LSN known to be durable on disk.
func (w *WAL) DurableLSN() page.LSN {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.durableLSN
}

// OldestLSNTracker exposes the tracker so the buffer pool and transaction
// manager can register/release dirty-page and active-transaction LSNs.
func (w *WAL) OldestLSNTracker() *OldestLSNTracker { return w.oldest }

// Fetch reads and decodes the record at lsn. The record must already be
// durable (or at least written) for this to succeed; recovery uses this to
// replay the log from its very first record (partition 1, offset 0)
// forward.
func (w *WAL) Fetch(lsn page.LSN) (*logrecord.Record, error) {
	w.mu.Lock()
	p, ok := w.partitions[lsn.Partition]
	w.mu.Unlock()
	if !ok {
		var err error
		p, _, err = w.openOrCreatePartition(lsn.Partition, partitionCapacity(w.cfg))
		if err != nil {
			return nil, err
		}
	}
	var lenBuf [2]byte
	if err := p.readAt(int64(lsn.Offset), lenBuf[:]); err != nil {
		return nil, fmt.Errorf("wal: fetch %s: %w", lsn, err)
	}
	total := int(binary.LittleEndian.Uint16(lenBuf[:]))
	if total < logrecord.HeaderSize+logrecord.TrailerSize {
		return nil, fmt.Errorf("wal: fetch %s: corrupt length %d", lsn, total)
	}
	buf := make([]byte, total)
	if err := p.readAt(int64(lsn.Offset), buf); err != nil {
		return nil, fmt.Errorf("wal: fetch %s: %w", lsn, err)
	}
	rec, _, err := logrecord.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("wal: fetch %s: %w", lsn, err)
	}
	return rec, nil
}

// Truncate discards partitions that lie entirely below the oldest LSN any
// dirty page or active transaction still references, per spec.md §4.3.
func (w *WAL) Truncate() error {
	oldest := w.oldest.Oldest()
	w.mu.Lock()
	defer w.mu.Unlock()
	var err error
	for idx, p := range w.partitions {
		if p == w.cur {
			continue
		}
		if !oldest.IsNull() && oldest.Partition <= idx {
			continue
		}
		path := filepath.Join(w.dir, partitionFileName(idx))
		if cerr := p.close(); cerr != nil {
			err = multierr.Append(err, cerr)
			continue
		}
		if rerr := os.Remove(path); rerr != nil {
			err = multierr.Append(err, rerr)
			continue
		}
		delete(w.partitions, idx)
	}
	return err
}

// StartFlushDaemon runs a background goroutine that group-commits pending
// inserts on a timer or whenever a waiting flush has accumulated enough
// bytes, per spec.md §4.3's group-commit sizing/timeout knobs. It returns
// once ctx is cancelled or Shutdown is called.
func (w *WAL) StartFlushDaemon(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.cfg.GroupCommitTimeout)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.closed:
				return
			case <-ticker.C:
			case <-w.flushSignal:
			}
			if err := w.FlushAll(); err != nil {
				w.log.Error("group commit flush failed", zap.Error(err))
			}
		}
	}()
}

// Shutdown flushes everything outstanding and closes every open partition.
func (w *WAL) Shutdown() error {
	var err error
	w.closeOnce.Do(func() { close(w.closed) })
	if ferr := w.FlushAll(); ferr != nil {
		err = multierr.Append(err, ferr)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.partitions {
		err = multierr.Append(err, p.close())
	}
	return err
}
