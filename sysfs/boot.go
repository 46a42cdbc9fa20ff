// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sysfs

import (
	"github.com/sv39fs/kernel/bcache"
	"github.com/sv39fs/kernel/fs"
	"github.com/sv39fs/kernel/internal/diskimage"
	"github.com/sv39fs/kernel/ofile"
	"github.com/sv39fs/kernel/txlog"
	"github.com/sv39fs/kernel/virtio"
)

// Mkfs formats a fresh disk image at path with size blocks and
// ninodes inodes, exactly as cmd/mkfs does; exposed here so callers
// that already depend on sysfs don't need a separate import of
// internal/diskimage.
func Mkfs(path string, size, ninodes uint32) error {
	return diskimage.Format(path, size, ninodes)
}

// Boot opens the disk image at path, replays any pending log
// transaction (txlog.Open's recovery, matching xv6's boot-time
// recover_from_log), mounts the file system over it, and returns a
// ready Sys plus a root Task whose cwd is the root directory.
func Boot(path string) (*Sys, *Task, error) {
	disk, err := virtio.Open(path)
	if err != nil {
		return nil, nil, err
	}

	cache := bcache.New(disk)
	const dev = diskimage.ROOTDEV

	sb, err := fs.ReadSuperblock(cache, dev)
	if err != nil {
		disk.Close()
		return nil, nil, err
	}

	log := txlog.Open(cache, dev, &sb)
	fsys := fs.New(cache, log, dev, sb)

	s := &Sys{Disk: disk, FS: fsys, Files: ofile.NewTable(fsys, NOFILE*8)}

	root := fsys.Iget(diskimage.ROOTINO)
	return s, NewTask(root), nil
}
