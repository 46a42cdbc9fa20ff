// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lock provides the interrupt-safe and blocking synchronization
// primitives the rest of the storage stack is built on: a busy-waiting
// SpinLock safe to take from interrupt context, a blocking SleepLock that
// may be held across I/O, and a pointer-keyed Sleep/Wakeup pair standing
// in for the scheduler's own wait queues.
package lock

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// SpinLock is a mutual-exclusion lock meant for short critical sections
// that may be entered from interrupt handlers. Unlike SleepLock it never
// blocks the calling goroutine on another goroutine's progress; a holder
// that needs to wait for something must use Sleep with the lock's Guard,
// which gives the SpinLock up while the caller is parked and takes it
// back before returning.
//
// Go has no notion of "disabling interrupts on this core", so SpinLock
// keeps no interrupt-enable state and does no nesting bookkeeping: an
// Acquire by the current holder panics, every Release frees the lock at
// once, and depth is simply 1 while held and 0 while free.
type SpinLock struct {
	state  int32 // 0 = free, 1 = held
	holder int64 // goroutine-independent owner id, 0 = none
	depth  int32 // 1 while held, 0 while free; acquisitions do not nest
}

// ownerID is a stand-in for "the current core/task identity" used to detect
// same-holder re-acquisition. Callers supply their own id (e.g. a task id
// or a pointer to their own goroutine-local marker); using 0 is invalid.
type ownerID = int64

var ownerCounter int64

// NextOwner returns a fresh, never-repeating owner id for use with
// SpinLock.Acquire/SleepLock.Acquire. Go has no stable per-goroutine or
// per-cpu identity to reuse the way xv6 uses cpuid(), so callers that
// don't already have a natural identity (a *sysfs.Task, say) mint one
// per critical section.
func NextOwner() ownerID {
	return atomic.AddInt64(&ownerCounter, 1)
}

// Acquire spins until the lock is free, then claims it for owner id.
// It panics if id already holds the lock (xv6's "acquire: already
// held" fatal check) since that is a programming error, not a
// recoverable race.
func (l *SpinLock) Acquire(id ownerID) {
	if id == 0 {
		panic("lock: invalid zero owner id")
	}
	if atomic.LoadInt64(&l.holder) == id && atomic.LoadInt32(&l.state) == 1 {
		panic("acquire: already held")
	}
	for !atomic.CompareAndSwapInt32(&l.state, 0, 1) {
		runtime.Gosched()
	}
	atomic.StoreInt64(&l.holder, id)
	atomic.StoreInt32(&l.depth, 1)
}

// Release gives up the lock. It panics if id is not the current holder
// (xv6's "release: not holding").
func (l *SpinLock) Release(id ownerID) {
	if !l.Holding(id) {
		panic("release: not holding")
	}
	atomic.StoreInt64(&l.holder, 0)
	atomic.StoreInt32(&l.depth, 0)
	atomic.StoreInt32(&l.state, 0)
}

// Holding reports whether id currently holds the lock.
func (l *SpinLock) Holding(id ownerID) bool {
	return atomic.LoadInt32(&l.state) == 1 && atomic.LoadInt64(&l.holder) == id
}

// spinGuard adapts a SpinLock plus a fixed owner id to the Locker
// interface Sleep needs, so callers holding a SpinLock can pass it to
// Sleep the same way a SleepLock is passed.
type spinGuard struct {
	l  *SpinLock
	id ownerID
}

func (g spinGuard) Lock()   { g.l.Acquire(g.id) }
func (g spinGuard) Unlock() { g.l.Release(g.id) }

// Guard returns a Locker view of l for owner id, suitable for passing to
// Sleep while l is held.
func (l *SpinLock) Guard(id ownerID) Locker {
	return spinGuard{l: l, id: id}
}

func (l *SpinLock) String() string {
	return fmt.Sprintf("spinlock{held=%v holder=%d}", atomic.LoadInt32(&l.state) == 1, atomic.LoadInt64(&l.holder))
}
