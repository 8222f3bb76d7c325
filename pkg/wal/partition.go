package wal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/JABClari/zero/pkg/config"
)

// partitionFileName returns the on-disk name of partition idx, zero-padded
// so a directory listing sorts in partition order.
func partitionFileName(idx uint32) string {
	return fmt.Sprintf("part-%08d.log", idx)
}

// partition is one fixed-capacity append-only file. Records never straddle
// a partition (spec.md §4.3): once a record would overflow the remaining
// capacity, the writer closes out the current epoch and rolls to the next
// partition rather than splitting the record.
type partition struct {
	index    uint32
	file     *os.File
	capacity int64
	written  int64 // bytes appended so far
}

// partitionCapacity computes a partition's byte capacity from the
// configured segment/block geometry (spec.md §4.3's
// segments-per-partition × blocks-per-segment × block-size layout).
func partitionCapacity(cfg config.Config) int64 {
	return int64(cfg.LogSegmentsPerPartition) * int64(cfg.LogSegmentBlocks) * int64(cfg.LogBlockSize)
}

// openPartition opens (creating if absent) partition idx inside dir,
// preallocating its full capacity so later appends never hit ENOSPC
// mid-record.
func openPartition(dir string, idx uint32, capacity int64) (*partition, error) {
	path := filepath.Join(dir, partitionFileName(idx))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open partition %d: %w", idx, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: stat partition %d: %w", idx, err)
	}
	written := info.Size()
	if written < capacity {
		if err := f.Truncate(capacity); err != nil {
			f.Close()
			return nil, fmt.Errorf("wal: preallocate partition %d: %w", idx, err)
		}
	}
	return &partition{index: idx, file: f, capacity: capacity, written: written}, nil
}

// remaining reports how many bytes are left before the partition is full.
func (p *partition) remaining() int64 {
	return p.capacity - p.written
}

// appendAt writes buf at the partition-relative offset off and advances the
// write cursor if this extends it, used by the flush daemon to lay down a
// contiguous epoch in one write(2) call.
func (p *partition) appendAt(off int64, buf []byte) error {
	if _, err := p.file.WriteAt(buf, off); err != nil {
		return fmt.Errorf("wal: write partition %d at %d: %w", p.index, off, err)
	}
	if end := off + int64(len(buf)); end > p.written {
		p.written = end
	}
	return nil
}

// sync flushes the partition file to stable storage.
func (p *partition) sync() error {
	return p.file.Sync()
}

// readAt reads len(buf) bytes starting at partition-relative offset off,
// used by the fetch path to serve reads of already-flushed records.
func (p *partition) readAt(off int64, buf []byte) error {
	_, err := p.file.ReadAt(buf, off)
	return err
}

func (p *partition) close() error {
	return p.file.Close()
}
