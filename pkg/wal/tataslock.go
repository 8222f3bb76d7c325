package wal

import (
	"runtime"
	"sync/atomic"
)

// tatasLock is a test-and-test-and-set spinlock, used for the log's flush
// critical section (spec.md §5), which is held briefly and rarely
// contended enough to justify a full mutex's syscall-capable slow path.
// Between failed attempts it yields with runtime.Gosched; there is no
// backoff and no parking — this is a best-effort spinlock suitable for
// short critical sections on a machine with more cores than contending
// goroutines, matching the original's tatas_lock usage.
type tatasLock struct {
	held atomic.Bool
}

// Lock blocks until the lock is acquired.
func (l *tatasLock) Lock() {
	for {
		if !l.held.Load() && l.held.CompareAndSwap(false, true) {
			return
		}
		runtime.Gosched()
	}
}

// TryLock attempts to acquire the lock without blocking.
func (l *tatasLock) TryLock() bool {
	return !l.held.Load() && l.held.CompareAndSwap(false, true)
}

// Unlock releases the lock.
func (l *tatasLock) Unlock() {
	l.held.Store(false)
}
