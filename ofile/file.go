// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ofile implements the open-file table: a fixed pool of
// reference-counted File handles that dispatch Read/Write/Close to
// whichever kind of object they hold open — a pipe, an on-disk inode,
// or a device. It is the Go analogue of xv6's struct file / file.c.
package ofile

import (
	"sync/atomic"
	"syscall"

	"github.com/sv39fs/kernel/fs"
	"github.com/sv39fs/kernel/lock"
)

// Kind discriminates what a File is backed by.
type Kind int

const (
	// None marks an unused slot in the table.
	None Kind = iota
	// Pipe means the file is one end of an in-process Pipe.
	Pipe
	// FInode means the file is an ordinary on-disk inode.
	FInode
	// Device means the file is a character device dispatched through
	// the Devices registry by Major number.
	Device
)

// File is one entry in the open-file table: a tagged union over the
// three things xv6's struct file can point to, plus the bookkeeping
// (reference count, read/write permissions, seek offset) shared by
// all three kinds.
type File struct {
	Kind     Kind
	ref      int32
	Readable bool
	Writable bool
	off      int64 // atomic; only FInode advances it

	Ip    *fs.Inode
	Pipe  *Pipe
	Major int16
}

// Table is a fixed-size pool of File handles, the Go analogue of
// xv6's global struct file ftable.file[NFILE]. mu is the file-table
// spin lock spec.md §4.G/§5 names as the outermost lock in the lock
// order; it guards slot metadata (Kind/ref) only, never the blocking
// work (Iput, Pipe.Close) that follows a slot's last reference.
type Table struct {
	mu    lock.SpinLock
	fs    *fs.FS
	slots []File
}

// NewTable returns an open-file table of size n backed by fsys, whose
// Begin/End transaction pair brackets every mutating Close.
func NewTable(fsys *fs.FS, n int) *Table {
	return &Table{fs: fsys, slots: make([]File, n)}
}

// Alloc finds a free slot, marks it in use with ref=1, and returns it,
// under the table lock so two concurrent Allocs can never claim the
// same slot. It returns nil if the table is full, matching
// filealloc's "return 0" rather than panicking: callers (sysfs) treat
// this as EMFILE/ENFILE.
func (t *Table) Alloc() *File {
	owner := lock.NextOwner()
	t.mu.Acquire(owner)
	defer t.mu.Release(owner)

	for i := range t.slots {
		f := &t.slots[i]
		if f.Kind == None && f.ref == 0 {
			f.ref = 1
			return f
		}
	}
	return nil
}

// Dup increments f's reference count and returns f, mirroring
// filedup. It panics if f has no outstanding reference, which would
// mean the caller is dup'ing an already-closed file.
func (t *Table) Dup(f *File) *File {
	owner := lock.NextOwner()
	t.mu.Acquire(owner)
	defer t.mu.Release(owner)

	if f.ref < 1 {
		panic("ofile: dup of closed file")
	}
	f.ref++
	return f
}

// Close drops one reference to f. On the last reference it releases
// the underlying resource: a pipe end is shut with Pipe.Close, an
// inode or device is put back through the file system inside its own
// transaction, matching fileclose's begin_op/iput/end_op bracket. The
// refcount check and slot reset happen under the table lock; the
// possibly-blocking release happens after it is dropped, the same
// split bcache.Release uses between its spin lock and the sleep lock.
func (t *Table) Close(f *File) error {
	owner := lock.NextOwner()
	t.mu.Acquire(owner)
	f.ref--
	if f.ref > 0 {
		t.mu.Release(owner)
		return nil
	}
	if f.ref < 0 {
		t.mu.Release(owner)
		panic("ofile: close of already-closed file")
	}

	kind, ip, pipe, writable := f.Kind, f.Ip, f.Pipe, f.Writable
	f.Kind = None
	f.Ip = nil
	f.Pipe = nil
	t.mu.Release(owner)

	switch kind {
	case Pipe:
		pipe.Close(writable)
		return nil
	case FInode, Device:
		t.fs.Begin()
		defer t.fs.End()
		return t.fs.Iput(ip)
	default:
		return nil
	}
}

// Fstat copies f's inode metadata out, matching filestat. It is an
// error to stat a pipe.
func (t *Table) Fstat(f *File) (fs.Stat, error) {
	if f.Kind != FInode && f.Kind != Device {
		return fs.Stat{}, syscall.EINVAL
	}
	if err := t.fs.Ilock(f.Ip); err != nil {
		return fs.Stat{}, err
	}
	defer t.fs.Iunlock(f.Ip)
	return t.fs.Stati(f.Ip), nil
}
