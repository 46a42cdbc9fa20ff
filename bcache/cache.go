// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bcache is an LRU cache of fixed-size disk blocks. It caps the
// number of blocks held in memory, deduplicates concurrent callers
// wanting the same block onto one shared slot, and hands out a buffer
// locked for the caller's exclusive use until Release.
package bcache

import (
	"fmt"

	"github.com/sv39fs/kernel/internal/diskimage"
	"github.com/sv39fs/kernel/lock"
	"github.com/sv39fs/kernel/virtio"
)

// Buf is one cached disk block. Callers obtain one via Get or Read and
// must hold it locked (which Get/Read already do on their behalf)
// until Release.
type Buf struct {
	Dev     uint32
	Blockno uint32
	Data    [diskimage.BSIZE]byte

	valid     bool
	lk        lock.SleepLock
	lockOwner int64 // owner id passed to lk.Acquire, needed to Release/Write
}

// slot is the cache's bookkeeping for one Buf: its reference count and
// its position in the LRU list, the list itself represented as indices
// into the fixed pool rather than pointers, per the package's
// array-of-indices design.
type slot struct {
	buf    Buf
	refcnt int32
	used   bool // set once the slot has been assigned a block; never cleared
	prev   int
	next   int
}

const nilSlot = -1

// Cache is an NBUF-slot LRU buffer cache for a single underlying disk.
type Cache struct {
	mu      lock.SpinLock
	disk    *virtio.Disk
	slots   [diskimage.NBUF]slot
	mruHead int
	lruTail int
}

// New creates a Cache fronting disk. The cache starts empty; every
// slot begins on the free (LRU) end of the list.
func New(disk *virtio.Disk) *Cache {
	c := &Cache{disk: disk}
	c.initChain()
	return c
}

// mruHead and lruTail are the ends of the doubly-linked recency list
// threaded through c.slots[i].prev/next: mruHead is the most recently
// touched slot, lruTail the least.

func (c *Cache) initChain() {
	n := len(c.slots)
	for i := 0; i < n; i++ {
		c.slots[i].prev = i - 1
		c.slots[i].next = i + 1
	}
	c.slots[0].prev = nilSlot
	c.slots[n-1].next = nilSlot
	c.mruHead = 0
	c.lruTail = n - 1
}

func (c *Cache) unlink(i int) {
	p, nx := c.slots[i].prev, c.slots[i].next
	if p != nilSlot {
		c.slots[p].next = nx
	} else {
		c.mruHead = nx
	}
	if nx != nilSlot {
		c.slots[nx].prev = p
	} else {
		c.lruTail = p
	}
	c.slots[i].prev = nilSlot
	c.slots[i].next = nilSlot
}

func (c *Cache) pushMRU(i int) {
	c.slots[i].prev = nilSlot
	c.slots[i].next = c.mruHead
	if c.mruHead != nilSlot {
		c.slots[c.mruHead].prev = i
	}
	c.mruHead = i
	if c.lruTail == nilSlot {
		c.lruTail = i
	}
}

func (c *Cache) String() string {
	return fmt.Sprintf("bcache(mru=%d lru=%d)", c.mruHead, c.lruTail)
}
