// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package virtio

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sv39fs/kernel/internal/diskimage"
)

func newScratchDisk(t *testing.T, blocks int) *Disk {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.Truncate(int64(blocks) * diskimage.BSIZE); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	f.Close()

	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDiskWriteThenRead(t *testing.T) {
	d := newScratchDisk(t, 16)

	want := bytes.Repeat([]byte{0xab}, diskimage.BSIZE)
	if err := d.Rw(3, want, true); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := make([]byte, diskimage.BSIZE)
	if err := d.Rw(3, got, false); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("read back mismatch")
	}
}

func TestDiskRejectsWrongSizedBuffer(t *testing.T) {
	d := newScratchDisk(t, 4)
	if err := d.Rw(0, make([]byte, 10), false); err == nil {
		t.Fatal("expected error for undersized buffer")
	}
}

func TestDiskConcurrentRequests(t *testing.T) {
	d := newScratchDisk(t, 64)

	var wg sync.WaitGroup
	for i := uint32(0); i < 40; i++ {
		wg.Add(1)
		go func(blockno uint32) {
			defer wg.Done()
			buf := bytes.Repeat([]byte{byte(blockno)}, diskimage.BSIZE)
			if err := d.Rw(blockno, buf, true); err != nil {
				t.Errorf("write block %d: %v", blockno, err)
				return
			}
			read := make([]byte, diskimage.BSIZE)
			if err := d.Rw(blockno, read, false); err != nil {
				t.Errorf("read block %d: %v", blockno, err)
				return
			}
			if !bytes.Equal(read, buf) {
				t.Errorf("block %d: read back mismatch", blockno)
			}
		}(i % 20)
	}
	wg.Wait()
}
