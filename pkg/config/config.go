// Package config holds engine-wide tunables and the flag wiring used by
// cmd/zerod, mirroring the way etcd's embed.Config binds a pflag.FlagSet to
// a plain configuration struct.
package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Config collects every tunable the specification calls out by name:
// page size, buffer pool sizing, log segment/partition geometry, group
// commit policy, checkpoint cadence, and page-image compression threshold.
type Config struct {
	// PageSize is the fixed size, in bytes, of every page in the volume.
	// Defaults to 8 KiB per spec.md §1.
	PageSize uint32

	// BufferPoolFrames is the number of frames (control blocks) in the
	// buffer pool's frame table.
	BufferPoolFrames uint32

	// LogSegmentBlocks is the number of fixed-size blocks per in-memory
	// flush segment (spec.md §4.3): "each a fixed number of segments...
	// each a sequence of blocks."
	LogSegmentBlocks uint32

	// LogBlockSize is the size in bytes of one log block.
	LogBlockSize uint32

	// LogSegmentsPerPartition is the number of segments per on-disk
	// partition file.
	LogSegmentsPerPartition uint32

	// GroupCommitSize is the minimum number of unflushed bytes the flush
	// daemon waits for before flushing, absent a timeout.
	GroupCommitSize uint32

	// GroupCommitTimeout bounds how long the flush daemon waits for
	// GroupCommitSize to be reached before flushing anyway.
	GroupCommitTimeout time.Duration

	// CheckpointInterval is the wall-clock period between automatic
	// checkpoints; zero disables automatic checkpointing.
	CheckpointInterval time.Duration

	// PageImageCompressionBytes is N in spec.md §4.3's page-image
	// compression rule: after every N bytes of log against a single page,
	// promote the next record for that page to a full image.
	PageImageCompressionBytes uint32

	// DevMode selects zap's development logger (console-friendly, more
	// verbose) instead of the production JSON logger.
	DevMode bool

	// MetricsAddr, if non-empty, is the address cmd/zerod serves
	// Prometheus metrics on.
	MetricsAddr string
}

// Default returns the configuration the engine uses absent any overrides.
func Default() Config {
	return Config{
		PageSize:                  8192,
		BufferPoolFrames:          4096,
		LogSegmentBlocks:          16384,
		LogBlockSize:              512,
		LogSegmentsPerPartition:   8,
		GroupCommitSize:           64 * 1024,
		GroupCommitTimeout:        5 * time.Millisecond,
		CheckpointInterval:        30 * time.Second,
		PageImageCompressionBytes: 1 << 20,
		DevMode:                   false,
		MetricsAddr:               "",
	}
}

// RegisterFlags binds every Config field to fs, following the etcdmain
// pattern of a single function wiring flags to a config struct passed by
// pointer.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.Uint32Var(&c.PageSize, "page-size", c.PageSize, "fixed page size in bytes")
	fs.Uint32Var(&c.BufferPoolFrames, "buffer-pool-frames", c.BufferPoolFrames, "number of buffer pool frames")
	fs.Uint32Var(&c.LogSegmentBlocks, "log-segment-blocks", c.LogSegmentBlocks, "blocks per log flush segment")
	fs.Uint32Var(&c.LogBlockSize, "log-block-size", c.LogBlockSize, "log block size in bytes")
	fs.Uint32Var(&c.LogSegmentsPerPartition, "log-segments-per-partition", c.LogSegmentsPerPartition, "segments per log partition file")
	fs.Uint32Var(&c.GroupCommitSize, "group-commit-size", c.GroupCommitSize, "minimum unflushed bytes before a group commit flush")
	fs.DurationVar(&c.GroupCommitTimeout, "group-commit-timeout", c.GroupCommitTimeout, "max wait before flushing regardless of size")
	fs.DurationVar(&c.CheckpointInterval, "checkpoint-interval", c.CheckpointInterval, "automatic checkpoint period (0 disables)")
	fs.Uint32Var(&c.PageImageCompressionBytes, "page-image-compression-bytes", c.PageImageCompressionBytes, "bytes of log per page before promoting to a full image")
	fs.BoolVar(&c.DevMode, "dev", c.DevMode, "use the development (console) logger")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "address to serve Prometheus metrics on, empty disables")
}

// ExtentBits returns E, the number of page-ids covered by one allocation
// bitmap page: 8 * (page-size - header), per spec.md §3.
func (c Config) ExtentBits() uint32 {
	const allocHeaderBytes = 40 // page.HeaderSize
	return 8 * (c.PageSize - allocHeaderBytes)
}
