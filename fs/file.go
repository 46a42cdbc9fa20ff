// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fs

import (
	"encoding/binary"
	"syscall"

	"github.com/sv39fs/kernel/internal/diskimage"
)

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// bmap returns the disk block holding the addri'th block of ip's
// content, allocating it (and, for indirect blocks, the indirect
// block itself) on first use. The caller must hold ip locked and be
// inside a transaction.
func (fs *FS) bmap(ip *Inode, addri uint32) (uint32, error) {
	if addri < diskimage.NDIRECT {
		addr := ip.Addrs[addri]
		if addr == 0 {
			var err error
			addr, err = fs.balloc()
			if err != nil {
				return 0, err
			}
			ip.Addrs[addri] = addr
		}
		return addr, nil
	}

	addri -= diskimage.NDIRECT
	if addri >= diskimage.NINDIRECT {
		panic("fs: bmap out of range")
	}

	indirect := ip.Addrs[diskimage.NDIRECT]
	if indirect == 0 {
		var err error
		indirect, err = fs.balloc()
		if err != nil {
			return 0, err
		}
		ip.Addrs[diskimage.NDIRECT] = indirect
	}

	bp, err := fs.cache.Read(fs.dev, indirect)
	if err != nil {
		return 0, err
	}
	off := addri * 4
	addr := binary.LittleEndian.Uint32(bp.Data[off : off+4])
	if addr == 0 {
		addr, err = fs.balloc()
		if err != nil {
			fs.cache.Release(bp)
			return 0, err
		}
		binary.LittleEndian.PutUint32(bp.Data[off:off+4], addr)
		fs.log.Write(bp)
	}
	fs.cache.Release(bp)
	return addr, nil
}

// Itrunc frees every block belonging to ip's content and resets its
// size to zero. The caller must hold ip locked and be inside a
// transaction.
func (fs *FS) Itrunc(ip *Inode) error {
	for i := 0; i < diskimage.NDIRECT; i++ {
		if ip.Addrs[i] != 0 {
			if err := fs.bfree(ip.Addrs[i]); err != nil {
				return err
			}
			ip.Addrs[i] = 0
		}
	}

	if ip.Addrs[diskimage.NDIRECT] != 0 {
		bp, err := fs.cache.Read(fs.dev, ip.Addrs[diskimage.NDIRECT])
		if err != nil {
			return err
		}
		for j := 0; j < diskimage.NINDIRECT; j++ {
			addr := binary.LittleEndian.Uint32(bp.Data[j*4 : j*4+4])
			if addr != 0 {
				if err := fs.bfree(addr); err != nil {
					fs.cache.Release(bp)
					return err
				}
			}
		}
		fs.cache.Release(bp)

		if err := fs.bfree(ip.Addrs[diskimage.NDIRECT]); err != nil {
			return err
		}
		ip.Addrs[diskimage.NDIRECT] = 0
	}

	ip.Size = 0
	return fs.Iupdate(ip)
}

// Readi copies up to n bytes from ip's content starting at off into
// dst, returning the number of bytes actually copied. The caller must
// hold ip locked.
func (fs *FS) Readi(ip *Inode, dst []byte, off, n uint32) (uint32, error) {
	if off >= ip.Size {
		return 0, nil
	}
	if off+n > ip.Size {
		n = ip.Size - off
	}

	var total uint32
	for total < n {
		addr, err := fs.bmap(ip, off/diskimage.BSIZE)
		if err != nil {
			return total, err
		}
		bp, err := fs.cache.Read(fs.dev, addr)
		if err != nil {
			return total, err
		}
		maxLen := minUint32(n-total, diskimage.BSIZE-off%diskimage.BSIZE)
		copy(dst[total:total+maxLen], bp.Data[off%diskimage.BSIZE:])
		fs.cache.Release(bp)

		total += maxLen
		off += maxLen
	}
	return total, nil
}

// Writei copies n bytes from src into ip's content starting at off,
// growing the file as needed, and updates its dinode. The caller must
// hold ip locked and be inside a transaction.
func (fs *FS) Writei(ip *Inode, src []byte, off, n uint32) (uint32, error) {
	if off > ip.Size || off+n < off {
		return 0, syscall.EINVAL
	}
	if uint64(off)+uint64(n) > uint64(diskimage.MAXFILE)*diskimage.BSIZE {
		return 0, syscall.EFBIG
	}

	var total uint32
	for total < n {
		addr, err := fs.bmap(ip, off/diskimage.BSIZE)
		if err != nil {
			break
		}
		bp, err := fs.cache.Read(fs.dev, addr)
		if err != nil {
			break
		}
		maxLen := minUint32(n-total, diskimage.BSIZE-off%diskimage.BSIZE)
		copy(bp.Data[off%diskimage.BSIZE:], src[total:total+maxLen])
		fs.log.Write(bp)
		fs.cache.Release(bp)

		total += maxLen
		off += maxLen
	}

	if off > ip.Size {
		ip.Size = off
	}
	if err := fs.Iupdate(ip); err != nil {
		return total, err
	}
	return total, nil
}
