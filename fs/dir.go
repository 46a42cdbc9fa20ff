// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fs

import (
	"syscall"

	"github.com/sv39fs/kernel/internal/diskimage"
)

func namecmp(a, b string) bool {
	if len(a) > diskimage.DIRSIZ {
		a = a[:diskimage.DIRSIZ]
	}
	if len(b) > diskimage.DIRSIZ {
		b = b[:diskimage.DIRSIZ]
	}
	return a == b
}

// Dirlookup searches directory dp for name, returning the matching
// inode (referenced, not locked) and the byte offset of its entry. dp
// must be locked and be a directory.
func (fs *FS) Dirlookup(dp *Inode, name string) (*Inode, uint32, error) {
	if dp.Type != diskimage.TypeDir {
		panic("fs: dirlookup of non-directory")
	}

	var de diskimage.Dirent
	buf := make([]byte, diskimage.DirentSize)
	for off := uint32(0); off < dp.Size; off += diskimage.DirentSize {
		n, err := fs.Readi(dp, buf, off, diskimage.DirentSize)
		if err != nil {
			return nil, 0, err
		}
		if n != diskimage.DirentSize {
			panic("fs: short directory entry read")
		}
		if err := de.Unmarshal(buf); err != nil {
			return nil, 0, err
		}
		if de.Inum == 0 {
			continue
		}
		if namecmp(name, de.NameString()) {
			return fs.iget(uint32(de.Inum)), off, nil
		}
	}
	return nil, 0, syscall.ENOENT
}

// Dirlink adds an entry mapping name to inum in directory dp, which
// must be locked. It fails with EEXIST if name is already present.
// Must run inside a transaction.
func (fs *FS) Dirlink(dp *Inode, name string, inum uint32) error {
	if existing, _, err := fs.Dirlookup(dp, name); err == nil {
		fs.Iput(existing)
		return syscall.EEXIST
	}

	var de diskimage.Dirent
	buf := make([]byte, diskimage.DirentSize)
	off := uint32(0)
	for ; off < dp.Size; off += diskimage.DirentSize {
		n, err := fs.Readi(dp, buf, off, diskimage.DirentSize)
		if err != nil {
			return err
		}
		if n != diskimage.DirentSize {
			panic("fs: short directory entry read")
		}
		if err := de.Unmarshal(buf); err != nil {
			return err
		}
		if de.Inum == 0 {
			break
		}
	}

	de = diskimage.NewDirent(uint16(inum), name)
	n, err := fs.Writei(dp, de.Marshal(), off, diskimage.DirentSize)
	if err != nil {
		return err
	}
	if n != diskimage.DirentSize {
		return syscall.EIO
	}
	return nil
}

// IsDirEmpty reports whether directory dp, which must be locked,
// contains only "." and "..".
func (fs *FS) IsDirEmpty(dp *Inode) (bool, error) {
	var de diskimage.Dirent
	buf := make([]byte, diskimage.DirentSize)
	for off := uint32(2 * diskimage.DirentSize); off < dp.Size; off += diskimage.DirentSize {
		n, err := fs.Readi(dp, buf, off, diskimage.DirentSize)
		if err != nil {
			return false, err
		}
		if n != diskimage.DirentSize {
			panic("fs: short directory entry read")
		}
		if err := de.Unmarshal(buf); err != nil {
			return false, err
		}
		if de.Inum != 0 {
			return false, nil
		}
	}
	return true, nil
}
