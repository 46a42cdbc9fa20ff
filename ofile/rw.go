// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ofile

import (
	"sync/atomic"
	"syscall"

	"github.com/sv39fs/kernel/internal/diskimage"
)

// writeChunk is the largest slice of an inode write that fits in one
// transaction: MAXOPBLOCKS less one block for the inode, one for the
// indirect block and two of slop for a write that is not block aligned,
// halved to leave room for the bitmap blocks that allocating new data
// blocks dirties, exactly as file.c computes it.
const writeChunk = ((diskimage.MAXOPBLOCKS - 1 - 1 - 2) / 2) * diskimage.BSIZE

// Read dispatches to the pipe, device, or inode behind f, matching
// fileread's three-way switch. It returns EBADF for a file not open
// for reading and panics on an unrecognized kind, which a correctly
// constructed File never has.
func (t *Table) Read(f *File, dst []byte) (int, error) {
	if !f.Readable {
		return 0, syscall.EBADF
	}

	switch f.Kind {
	case Pipe:
		return f.Pipe.Read(dst)

	case Device:
		if int(f.Major) < 0 || int(f.Major) >= len(Devices) || Devices[f.Major].Read == nil {
			return 0, syscall.ENXIO
		}
		return Devices[f.Major].Read(dst)

	case FInode:
		if err := t.fs.Ilock(f.Ip); err != nil {
			return 0, err
		}
		defer t.fs.Iunlock(f.Ip)

		off := uint64(atomic.LoadInt64(&f.off))
		n, err := t.fs.Readi(f.Ip, dst, uint32(off), uint32(len(dst)))
		if err != nil {
			return 0, err
		}
		atomic.AddInt64(&f.off, int64(n))
		return int(n), nil

	default:
		panic("ofile: read of file with no kind")
	}
}

// Write dispatches to the pipe, device, or inode behind f. The
// FInode case chunks the write into writeChunk-sized pieces, each
// wrapped in its own transaction, so a single large write never asks
// the log for more blocks than one transaction is allowed to hold —
// matching filewrite's own chunking loop exactly.
func (t *Table) Write(f *File, src []byte) (int, error) {
	if !f.Writable {
		return 0, syscall.EBADF
	}

	switch f.Kind {
	case Pipe:
		return f.Pipe.Write(src)

	case Device:
		if int(f.Major) < 0 || int(f.Major) >= len(Devices) || Devices[f.Major].Write == nil {
			return 0, syscall.ENXIO
		}
		return Devices[f.Major].Write(src)

	case FInode:
		total := 0
		for total < len(src) {
			n1 := len(src) - total
			if n1 > writeChunk {
				n1 = writeChunk
			}

			t.fs.Begin()
			if err := t.fs.Ilock(f.Ip); err != nil {
				t.fs.End()
				return total, err
			}
			off := uint64(atomic.LoadInt64(&f.off))
			n, err := t.fs.Writei(f.Ip, src[total:total+n1], uint32(off), uint32(n1))
			t.fs.Iunlock(f.Ip)
			t.fs.End()

			if err != nil {
				return total, err
			}
			atomic.AddInt64(&f.off, int64(n))
			total += int(n)
			if int(n) != n1 {
				break
			}
		}
		if total != len(src) {
			return total, syscall.EIO
		}
		return total, nil

	default:
		panic("ofile: write of file with no kind")
	}
}
