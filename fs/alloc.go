// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fs

import (
	"syscall"

	"github.com/sv39fs/kernel/internal/diskimage"
)

// balloc finds and marks used the first free block tracked by the
// bitmap, zeroing its contents before handing it back. It must run
// inside a transaction.
func (fs *FS) balloc() (uint32, error) {
	for part := uint32(0); part < fs.sb.Size; part += diskimage.BPB {
		bn := diskimage.BBlock(part, &fs.sb)
		bp, err := fs.cache.Read(fs.dev, bn)
		if err != nil {
			return 0, err
		}

		for bi := uint32(0); bi < diskimage.BPB && part+bi < fs.sb.Size; bi++ {
			mask := byte(1 << (bi % 8))
			if bp.Data[bi/8]&mask == 0 {
				bp.Data[bi/8] |= mask
				fs.log.Write(bp)
				fs.cache.Release(bp)

				bno := part + bi
				data, err := fs.cache.Read(fs.dev, bno)
				if err != nil {
					return 0, err
				}
				data.Data = [diskimage.BSIZE]byte{}
				fs.log.Write(data)
				fs.cache.Release(data)
				return bno, nil
			}
		}
		fs.cache.Release(bp)
	}
	return 0, syscall.ENOSPC
}

// bfree clears block bno's bit in the bitmap. It must run inside a
// transaction.
func (fs *FS) bfree(bno uint32) error {
	bi := bno % diskimage.BPB
	mask := byte(1 << (bi % 8))
	bp, err := fs.cache.Read(fs.dev, diskimage.BBlock(bno, &fs.sb))
	if err != nil {
		return err
	}
	defer fs.cache.Release(bp)

	if bp.Data[bi/8]&mask == 0 {
		panic("fs: freeing already-free block")
	}
	bp.Data[bi/8] &^= mask
	fs.log.Write(bp)
	return nil
}
