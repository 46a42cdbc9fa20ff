// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bcache

import (
	"github.com/sv39fs/kernel/lock"
)

// get returns the slot index caching (dev, blockno), pinning it,
// allocating a free slot if the block isn't already resident. It does
// not touch the returned Buf's lock; the caller does that next.
func (c *Cache) get(owner int64, dev, blockno uint32) int {
	c.mu.Acquire(owner)

	for i := range c.slots {
		s := &c.slots[i]
		if s.used && s.buf.Dev == dev && s.buf.Blockno == blockno {
			s.refcnt++
			c.mu.Release(owner)
			return i
		}
	}

	// Walk from the LRU tail looking for an unreferenced slot to
	// evict, exactly the order bget() scans in.
	for i := c.lruTail; i != nilSlot; i = c.slots[i].prev {
		s := &c.slots[i]
		if s.refcnt == 0 {
			s.buf.Dev = dev
			s.buf.Blockno = blockno
			s.buf.valid = false
			s.refcnt = 1
			s.used = true
			c.mu.Release(owner)
			return i
		}
	}

	c.mu.Release(owner)
	panic("bcache: no free buffers")
}

// Get returns the Buf caching (dev, blockno), locked for the caller's
// exclusive use, without reading its contents from disk. Used when the
// caller is about to overwrite the entire block; the buffer counts as
// cached from then on, so a later Read returns what the caller put in
// Data rather than re-reading the disk.
func (c *Cache) Get(dev, blockno uint32) *Buf {
	owner := lock.NextOwner()
	i := c.get(owner, dev, blockno)
	b := &c.slots[i].buf
	b.lk.Acquire(owner)
	b.lockOwner = owner
	b.valid = true
	return b
}

// Read returns the Buf caching (dev, blockno), locked for the caller's
// exclusive use, reading it from disk first if it wasn't already
// cached.
func (c *Cache) Read(dev, blockno uint32) (*Buf, error) {
	owner := lock.NextOwner()
	i := c.get(owner, dev, blockno)
	b := &c.slots[i].buf
	b.lk.Acquire(owner)
	b.lockOwner = owner
	if !b.valid {
		if err := c.disk.Rw(b.Blockno, b.Data[:], false); err != nil {
			c.Release(b)
			return nil, err
		}
		b.valid = true
	}
	return b, nil
}

// Write persists b's contents to disk. The caller must already hold b
// locked (via Get or Read).
func (c *Cache) Write(b *Buf) error {
	if !b.lk.Holding(b.lockOwner) {
		panic("bcache: write of unlocked buffer")
	}
	return c.disk.Rw(b.Blockno, b.Data[:], true)
}

// Release unlocks b and, once nobody else references it, moves its
// slot to the most-recently-used end of the eviction list.
func (c *Cache) Release(b *Buf) {
	owner := b.lockOwner
	b.lk.Release(owner)

	lockOwner := lock.NextOwner()
	c.mu.Acquire(lockOwner)
	i := c.indexOf(b)
	s := &c.slots[i]
	s.refcnt--
	if s.refcnt == 0 {
		c.unlink(i)
		c.pushMRU(i)
	}
	c.mu.Release(lockOwner)
}

// Pin increments b's reference count so it survives eviction even
// after the caller releases its lock, without keeping the lock held.
func (c *Cache) Pin(b *Buf) {
	owner := lock.NextOwner()
	c.mu.Acquire(owner)
	c.slots[c.indexOf(b)].refcnt++
	c.mu.Release(owner)
}

// Unpin undoes a prior Pin.
func (c *Cache) Unpin(b *Buf) {
	owner := lock.NextOwner()
	c.mu.Acquire(owner)
	c.slots[c.indexOf(b)].refcnt--
	c.mu.Release(owner)
}

func (c *Cache) indexOf(b *Buf) int {
	for i := range c.slots {
		if &c.slots[i].buf == b {
			return i
		}
	}
	panic("bcache: buffer not from this cache")
}
