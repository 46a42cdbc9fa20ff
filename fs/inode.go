// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fs

import (
	"syscall"

	"github.com/sv39fs/kernel/internal/diskimage"
	"github.com/sv39fs/kernel/lock"
)

// Ialloc scans the inode region for a free dinode of the given type,
// marks it in use on disk, and returns the corresponding in-memory
// inode (not yet loaded with ilock). It must run inside a transaction.
func (fs *FS) Ialloc(kind int16) (*Inode, error) {
	for inum := uint32(diskimage.ROOTINO); inum < fs.sb.NInodes; inum++ {
		bp, err := fs.cache.Read(fs.dev, diskimage.IBlock(inum, &fs.sb))
		if err != nil {
			return nil, err
		}
		off := diskimage.DinodeAt(inum)
		var dip diskimage.Dinode
		dip.Unmarshal(bp.Data[off : off+diskimage.DinodeSize])

		if dip.Type == diskimage.TypeFree {
			dip = diskimage.Dinode{Type: kind}
			copy(bp.Data[off:off+diskimage.DinodeSize], dip.Marshal())
			fs.log.Write(bp)
			fs.cache.Release(bp)
			return fs.iget(inum), nil
		}
		fs.cache.Release(bp)
	}
	return nil, syscall.ENOSPC
}

// iget finds or allocates the in-memory slot for (fs.dev, inum),
// incrementing its reference count without loading its contents.
func (fs *FS) iget(inum uint32) *Inode {
	owner := lock.NextOwner()
	fs.mu.Acquire(owner)
	defer fs.mu.Release(owner)

	var empty *Inode
	for i := range fs.itable {
		ip := &fs.itable[i]
		if ip.ref > 0 && ip.Dev == fs.dev && ip.Inum == inum {
			ip.ref++
			return ip
		}
		if empty == nil && ip.ref == 0 {
			empty = ip
		}
	}
	if empty == nil {
		panic("fs: inode table full")
	}
	empty.Dev = fs.dev
	empty.Inum = inum
	empty.ref = 1
	empty.valid = false
	return empty
}

// Iget returns the in-memory inode for inum on this file system,
// incrementing its reference count.
func (fs *FS) Iget(inum uint32) *Inode { return fs.iget(inum) }

// Ilock locks ip, loading its contents from disk on first use.
func (fs *FS) Ilock(ip *Inode) error {
	if ip == nil || ip.ref <= 0 {
		panic("fs: ilock of unreferenced inode")
	}
	owner := lock.NextOwner()
	ip.lk.Acquire(owner)
	ip.lockOwner = owner

	if !ip.valid {
		bp, err := fs.cache.Read(fs.dev, diskimage.IBlock(ip.Inum, &fs.sb))
		if err != nil {
			ip.lk.Release(owner)
			return err
		}
		off := diskimage.DinodeAt(ip.Inum)
		var dip diskimage.Dinode
		dip.Unmarshal(bp.Data[off : off+diskimage.DinodeSize])
		fs.cache.Release(bp)

		ip.Type = dip.Type
		ip.Major = dip.Major
		ip.Minor = dip.Minor
		ip.NLink = dip.NLink
		ip.Size = dip.Size
		ip.Addrs = dip.Addrs
		ip.valid = true
		if ip.Type == diskimage.TypeFree {
			ip.lk.Release(owner)
			panic("fs: ilock of inode with no type")
		}
	}
	return nil
}

// Iunlock releases ip's lock.
func (fs *FS) Iunlock(ip *Inode) {
	if ip == nil || !ip.lk.Holding(ip.lockOwner) || ip.ref <= 0 {
		panic("fs: iunlock of unlocked inode")
	}
	ip.lk.Release(ip.lockOwner)
}

// Iupdate writes ip's in-memory fields back to its dinode. The caller
// must hold ip locked and be inside a transaction.
func (fs *FS) Iupdate(ip *Inode) error {
	bp, err := fs.cache.Read(fs.dev, diskimage.IBlock(ip.Inum, &fs.sb))
	if err != nil {
		return err
	}
	off := diskimage.DinodeAt(ip.Inum)
	dip := diskimage.Dinode{
		Type:  ip.Type,
		Major: ip.Major,
		Minor: ip.Minor,
		NLink: ip.NLink,
		Size:  ip.Size,
		Addrs: ip.Addrs,
	}
	copy(bp.Data[off:off+diskimage.DinodeSize], dip.Marshal())
	fs.log.Write(bp)
	fs.cache.Release(bp)
	return nil
}

// Idup increments ip's reference count and returns it.
func (fs *FS) Idup(ip *Inode) *Inode {
	owner := lock.NextOwner()
	fs.mu.Acquire(owner)
	ip.ref++
	fs.mu.Release(owner)
	return ip
}

// Iput drops one reference to ip. If that was the last reference and
// the inode has no remaining links, its blocks are freed and the
// dinode is marked free on disk. Must run inside a transaction when
// the inode might need truncating.
func (fs *FS) Iput(ip *Inode) error {
	owner := lock.NextOwner()
	fs.mu.Acquire(owner)

	if ip.ref == 1 && ip.valid && ip.NLink == 0 {
		lockOwner := lock.NextOwner()
		ip.lk.Acquire(lockOwner)
		ip.lockOwner = lockOwner
		fs.mu.Release(owner)

		if err := fs.Itrunc(ip); err != nil {
			ip.lk.Release(lockOwner)
			return err
		}
		ip.Type = diskimage.TypeFree
		if err := fs.Iupdate(ip); err != nil {
			ip.lk.Release(lockOwner)
			return err
		}
		ip.valid = false

		ip.lk.Release(lockOwner)
		fs.mu.Acquire(owner)
	}

	ip.ref--
	fs.mu.Release(owner)
	return nil
}

// Iunlockput unlocks ip and drops a reference.
func (fs *FS) Iunlockput(ip *Inode) error {
	fs.Iunlock(ip)
	return fs.Iput(ip)
}

// Stat summarizes ip's metadata. The caller must hold ip locked.
type Stat struct {
	Dev   uint32
	Inum  uint32
	Type  int16
	NLink int16
	Size  uint32
}

func (fs *FS) Stati(ip *Inode) Stat {
	return Stat{Dev: ip.Dev, Inum: ip.Inum, Type: ip.Type, NLink: ip.NLink, Size: ip.Size}
}
