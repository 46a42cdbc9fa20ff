// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sysfs implements the system-call layer that xv6 calls from
// sysfile.c: argument validation plus the begin_op/end_op transaction
// bracket around fs and ofile operations. Where xv6 traps from user
// mode into a kernel that already knows "the current process", sysfs
// takes that process explicitly as a *Task, the in-scope stand-in for
// proc->ofile/proc->cwd described in the design notes.
package sysfs

import (
	"github.com/sv39fs/kernel/fs"
	"github.com/sv39fs/kernel/internal/diskimage"
	"github.com/sv39fs/kernel/lock"
	"github.com/sv39fs/kernel/ofile"
	"github.com/sv39fs/kernel/virtio"
)

// NOFILE is the number of file descriptors a single Task may have
// open at once, matching xv6's param.h NOFILE.
const NOFILE = 16

// Open mode flags, matching xv6's kernel/fcntl.h.
const (
	ORdOnly = 0x000
	OWrOnly = 0x001
	ORdWr   = 0x002
	OCreate = 0x200
	OTrunc  = 0x400
)

// Task is the in-scope stand-in for "the calling process": its
// current-directory inode and its open-file-descriptor table. It
// carries no thread-local state beyond what's passed to each call.
type Task struct {
	mu  lock.SpinLock
	cwd *fs.Inode
	fds [NOFILE]*ofile.File
}

// Sys is a booted storage stack: the layers from virtio through fs
// plus the shared open-file table, wired together by Boot or built
// directly for tests.
type Sys struct {
	Disk  *virtio.Disk
	FS    *fs.FS
	Files *ofile.Table
}

// NewTask returns a Task rooted at cwd (typically the root directory,
// Iget'd by the caller).
func NewTask(cwd *fs.Inode) *Task {
	return &Task{cwd: cwd}
}

// Cwd returns the task's current-directory inode, referenced but not
// locked.
func (t *Task) Cwd() *fs.Inode { return t.cwd }

func (t *Task) fdalloc(f *ofile.File) int {
	owner := lock.NextOwner()
	t.mu.Acquire(owner)
	defer t.mu.Release(owner)

	for fd := range t.fds {
		if t.fds[fd] == nil {
			t.fds[fd] = f
			return fd
		}
	}
	return -1
}

func (t *Task) getfd(fd int) *ofile.File {
	owner := lock.NextOwner()
	t.mu.Acquire(owner)
	defer t.mu.Release(owner)

	if fd < 0 || fd >= NOFILE {
		return nil
	}
	return t.fds[fd]
}

func (t *Task) clearfd(fd int) {
	owner := lock.NextOwner()
	t.mu.Acquire(owner)
	defer t.mu.Release(owner)
	t.fds[fd] = nil
}

// TypeDir, TypeFile and TypeDevice expose the diskimage type constants
// sysfs callers need for Mknod's kind argument without importing
// internal/diskimage themselves.
const (
	TypeDir    = diskimage.TypeDir
	TypeFile   = diskimage.TypeFile
	TypeDevice = diskimage.TypeDevice
)
