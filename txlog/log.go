// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package txlog is a simple group-commit write-ahead log that makes
// multi-block file system operations crash atomic. Callers bracket a
// transaction with Begin/End and route every block they modify through
// Write instead of writing it to disk directly; End batches every
// outstanding transaction's writes into one commit.
package txlog

import (
	"log"

	"github.com/sv39fs/kernel/bcache"
	"github.com/sv39fs/kernel/internal/diskimage"
	"github.com/sv39fs/kernel/lock"
)

// Log coordinates transactions against one device's log region.
type Log struct {
	mu lock.SpinLock

	start       uint32
	dev         uint32
	outstanding int
	committing  bool

	cache *bcache.Cache
	hdr   diskimage.LogHeader
}

// Open attaches a Log to the log region described by sb on dev,
// recovering any committed-but-not-installed transaction left over
// from an unclean shutdown.
func Open(cache *bcache.Cache, dev uint32, sb *diskimage.Superblock) *Log {
	if diskimage.LogHeaderSize >= diskimage.BSIZE {
		panic("txlog: log header too big for one block")
	}
	l := &Log{
		start: sb.LogStart,
		dev:   dev,
		cache: cache,
	}
	l.recover()
	return l
}

func (l *Log) readHead() {
	b, err := l.cache.Read(l.dev, l.start)
	if err != nil {
		log.Fatalf("txlog: reading log header: %v", err)
	}
	l.hdr.Unmarshal(b.Data[:])
	l.cache.Release(b)
}

func (l *Log) writeHead() {
	b := l.cache.Get(l.dev, l.start)
	copy(b.Data[:], l.hdr.Marshal())
	if err := l.cache.Write(b); err != nil {
		log.Fatalf("txlog: writing log header: %v", err)
	}
	l.cache.Release(b)
}

// installTrans copies every block currently recorded in the log header
// to its real destination block. When recovering is true, it leaves
// the destination buffer's extra pin alone (there is none yet to
// remove) rather than unpinning it, mirroring the boot-time path.
func (l *Log) installTrans(recovering bool) {
	for tail := int32(0); tail < l.hdr.N; tail++ {
		lbuf, err := l.cache.Read(l.dev, l.start+1+uint32(tail))
		if err != nil {
			log.Fatalf("txlog: reading log block: %v", err)
		}
		dbuf, err := l.cache.Read(l.dev, uint32(l.hdr.Blocks[tail]))
		if err != nil {
			log.Fatalf("txlog: reading destination block: %v", err)
		}
		dbuf.Data = lbuf.Data
		if err := l.cache.Write(dbuf); err != nil {
			log.Fatalf("txlog: installing transaction: %v", err)
		}
		if !recovering {
			l.cache.Unpin(dbuf)
		}
		l.cache.Release(lbuf)
		l.cache.Release(dbuf)
	}
}

func (l *Log) recover() {
	l.readHead()
	l.installTrans(true)
	l.hdr.N = 0
	l.writeHead()
}

// writeLog copies each block a transaction touched from its real
// location into the log region, ahead of the commit record.
func (l *Log) writeLog() {
	for tail := int32(0); tail < l.hdr.N; tail++ {
		lbuf := l.cache.Get(l.dev, l.start+1+uint32(tail))
		dbuf, err := l.cache.Read(l.dev, uint32(l.hdr.Blocks[tail]))
		if err != nil {
			log.Fatalf("txlog: reading dirty block: %v", err)
		}
		lbuf.Data = dbuf.Data
		if err := l.cache.Write(lbuf); err != nil {
			log.Fatalf("txlog: writing log block: %v", err)
		}
		l.cache.Release(dbuf)
		l.cache.Release(lbuf)
	}
}

func (l *Log) commit() {
	if l.hdr.N > 0 {
		l.writeLog()
		l.writeHead() // commit point: the transaction is now durable
		l.installTrans(false)
		l.hdr.N = 0
		l.writeHead()
	}
}

// CommitPoint durably records the current transaction's blocks in the
// log and writes the header with N>0, the same two steps commit takes
// before installTrans, and stops there. It exists so recovery tests can
// simulate a crash landing exactly at that durability point; it does
// not call End, so the Log that calls it should not be used again —
// recovery happens on the next Open of the same log region.
func (l *Log) CommitPoint() {
	l.writeLog()
	l.writeHead()
}

// Begin declares the start of a file system call that may write
// multiple blocks atomically. It blocks while a commit is underway or
// while there isn't enough log space left to guarantee this and every
// other outstanding caller's worst case fits.
func (l *Log) Begin() {
	owner := lock.NextOwner()
	l.mu.Acquire(owner)
	for {
		if l.committing {
			lock.Sleep(l, l.mu.Guard(owner))
			continue
		}
		if int(l.hdr.N)+(l.outstanding+1)*diskimage.MAXOPBLOCKS >= diskimage.LOGSIZE {
			lock.Sleep(l, l.mu.Guard(owner))
			continue
		}
		l.outstanding++
		break
	}
	l.mu.Release(owner)
}

// End declares the end of a file system call. The last caller to
// finish performs the actual commit.
func (l *Log) End() {
	owner := lock.NextOwner()
	l.mu.Acquire(owner)

	l.outstanding--
	if l.committing {
		l.mu.Release(owner)
		panic("txlog: End called while committing")
	}

	doCommit := false
	if l.outstanding == 0 {
		doCommit = true
		l.committing = true
	} else {
		lock.Wakeup(l)
	}
	l.mu.Release(owner)

	if doCommit {
		l.commit()

		l.mu.Acquire(owner)
		l.committing = false
		lock.Wakeup(l)
		l.mu.Release(owner)
	}
}

// Write records that b has been modified as part of the current
// transaction, pinning it in the cache and absorbing it into the
// pending commit instead of writing it to disk immediately.
func (l *Log) Write(b *bcache.Buf) {
	owner := lock.NextOwner()
	l.mu.Acquire(owner)
	defer l.mu.Release(owner)

	if int(l.hdr.N) >= diskimage.LOGSIZE-1 {
		panic("txlog: transaction too big")
	}
	if l.outstanding < 1 {
		panic("txlog: write outside of a transaction")
	}

	for i := int32(0); i < l.hdr.N; i++ {
		if uint32(l.hdr.Blocks[i]) == b.Blockno {
			return // already pending in this transaction, log it only once
		}
	}
	l.cache.Pin(b)
	l.hdr.Blocks[l.hdr.N] = int32(b.Blockno)
	l.hdr.N++
}
