// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fs implements the on-disk inode allocator, the direct plus
// single-indirect block map, directories as files of fixed-size
// entries, and path resolution on top of a transaction log and block
// cache. Every mutating operation here must run inside a txlog
// transaction (Begin/End) opened by the caller.
package fs

import (
	"fmt"
	"syscall"

	"github.com/sv39fs/kernel/bcache"
	"github.com/sv39fs/kernel/internal/diskimage"
	"github.com/sv39fs/kernel/lock"
	"github.com/sv39fs/kernel/txlog"
)

// OK is the zero Errno, meaning success, matching the convention that
// every recoverable error surfaces as a syscall.Errno.
const OK = syscall.Errno(0)

// Inode is the in-memory, possibly-stale mirror of one on-disk dinode:
// a superset of diskimage.Dinode plus the bookkeeping (device, number,
// refcount, validity, lock) that only matters while it's resident.
type Inode struct {
	Dev  uint32
	Inum uint32

	ref       int32
	valid     bool
	lk        lock.SleepLock
	lockOwner int64

	Type  int16
	Major int16
	Minor int16
	NLink int16
	Size  uint32
	Addrs [diskimage.NDIRECT + 1]uint32
}

// FS is a mounted file system: a block cache and log shared with the
// rest of the storage stack, the loaded superblock, and the table of
// in-memory inodes resident from it.
type FS struct {
	mu     lock.SpinLock
	cache  *bcache.Cache
	log    *txlog.Log
	dev    uint32
	sb     diskimage.Superblock
	itable [diskimage.NINODE]Inode
}

// ReadSuperblock loads the superblock from block 1 of dev through
// cache, validating its magic number.
func ReadSuperblock(cache *bcache.Cache, dev uint32) (diskimage.Superblock, error) {
	b, err := cache.Read(dev, 1)
	if err != nil {
		return diskimage.Superblock{}, err
	}
	defer cache.Release(b)

	var sb diskimage.Superblock
	if err := sb.Unmarshal(b.Data[:]); err != nil {
		return diskimage.Superblock{}, err
	}
	return sb, nil
}

// New mounts a file system over cache and log, which must already be
// open on dev and have replayed any pending recovery.
func New(cache *bcache.Cache, log *txlog.Log, dev uint32, sb diskimage.Superblock) *FS {
	return &FS{cache: cache, log: log, dev: dev, sb: sb}
}

// Superblock returns the mounted superblock.
func (fs *FS) Superblock() diskimage.Superblock { return fs.sb }

// Begin opens a transaction against the underlying log. Every call
// that allocates, frees, or updates a dinode or directory entry must
// run between a Begin/End pair.
func (fs *FS) Begin() { fs.log.Begin() }

// End closes a transaction opened with Begin, committing it to the
// log once the last outstanding transaction in the group finishes.
func (fs *FS) End() { fs.log.End() }

func (fs *FS) String() string {
	return fmt.Sprintf("fs(dev=%d %s)", fs.dev, fs.sb.String())
}
