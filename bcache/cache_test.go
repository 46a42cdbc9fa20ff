// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sv39fs/kernel/internal/diskimage"
	"github.com/sv39fs/kernel/virtio"
)

func newTestCache(t *testing.T, blocks int) (*Cache, *virtio.Disk) {
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

	d, err := virtio.Open(path)
	if err != nil {
		t.Fatalf("virtio.Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return New(d), d
}

func TestGetReturnsSameSlotForSameBlock(t *testing.T) {
	c, _ := newTestCache(t, 32)

	b1 := c.Get(1, 5)
	b1.Data[0] = 0x42
	c.Release(b1)

	b2, err := c.Read(1, 5)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	defer c.Release(b2)
	if b2.Data[0] != 0x42 {
		t.Fatalf("expected cached contents to survive, got %#x", b2.Data[0])
	}
}

func TestWriteThenReread(t *testing.T) {
	c, _ := newTestCache(t, 32)

	b := c.Get(1, 7)
	for i := range b.Data {
		b.Data[i] = byte(i)
	}
	if err := c.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}
	c.Release(b)

	// Evict it by cycling through every other slot so the next Read
	// must actually hit the disk.
	for i := uint32(0); i < diskimage.NBUF; i++ {
		bb, err := c.Read(1, 100+i)
		if err != nil {
			t.Fatalf("Read filler %d: %v", i, err)
		}
		c.Release(bb)
	}

	got, err := c.Read(1, 7)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	defer c.Release(got)
	for i := range got.Data {
		if got.Data[i] != byte(i) {
			t.Fatalf("byte %d = %#x, want %#x", i, got.Data[i], byte(i))
		}
	}
}

func TestPinSurvivesEviction(t *testing.T) {
	c, _ := newTestCache(t, 32)

	b := c.Get(1, 3)
	b.Data[0] = 0x9
	c.Write(b)
	c.Pin(b)
	c.Release(b)

	for i := uint32(0); i < diskimage.NBUF+5; i++ {
		bb, err := c.Read(1, 200+i)
		if err != nil {
			t.Fatalf("Read filler %d: %v", i, err)
		}
		c.Release(bb)
	}

	b2, err := c.Read(1, 3)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if b2 != b {
		t.Fatalf("pinned buffer was evicted")
	}
	if b2.Data[0] != 0x9 {
		t.Fatalf("pinned buffer lost its contents")
	}
	c.Release(b2)
	c.Unpin(b2)
}

func TestWriteOfUnlockedBufferPanics(t *testing.T) {
	c, _ := newTestCache(t, 8)
	b := c.Get(1, 1)
	c.Release(b)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic writing an unlocked buffer")
		}
	}()
	c.Write(b)
}
