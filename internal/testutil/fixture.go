// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package testutil

import (
	"path/filepath"
	"testing"

	"github.com/sv39fs/kernel/bcache"
	"github.com/sv39fs/kernel/fs"
	"github.com/sv39fs/kernel/internal/diskimage"
	"github.com/sv39fs/kernel/txlog"
	"github.com/sv39fs/kernel/virtio"
)

// Fixture is a fully booted storage stack against a scratch disk
// image, torn down automatically at the end of the test.
type Fixture struct {
	Disk  *virtio.Disk
	Cache *bcache.Cache
	Log   *txlog.Log
	FS    *fs.FS
	Dev   uint32
}

// NewDiskFixture formats a fresh image of size blocks with ninodes
// inodes, boots the disk, cache, log and fs layers over it, and
// registers cleanup with t.
func NewDiskFixture(t *testing.T, size, ninodes uint32) *Fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fs.img")
	if err := diskimage.Format(path, size, ninodes); err != nil {
		t.Fatalf("diskimage.Format: %v", err)
	}

	disk, err := virtio.Open(path)
	if err != nil {
		t.Fatalf("virtio.Open: %v", err)
	}
	t.Cleanup(func() { disk.Close() })

	cache := bcache.New(disk)
	const dev = diskimage.ROOTDEV

	sb, err := fs.ReadSuperblock(cache, dev)
	if err != nil {
		t.Fatalf("fs.ReadSuperblock: %v", err)
	}

	l := txlog.Open(cache, dev, &sb)
	fsys := fs.New(cache, l, dev, sb)

	if VerboseTest() {
		t.Logf("testutil: fixture %s: %s", path, sb.String())
	}

	return &Fixture{Disk: disk, Cache: cache, Log: l, FS: fsys, Dev: dev}
}
