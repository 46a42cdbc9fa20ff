// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package diskimage

import (
	"encoding/binary"
	"fmt"
	"os"
)

// formatter builds a fresh image directly against a file, the way
// mkfs works: no cache, no log, just sequential block writes, since
// neither exists yet when the image is built.
type formatter struct {
	f         *os.File
	sb        Superblock
	freeInode uint32
	freeBlock uint32
}

// Format creates (or truncates) the file at path and writes a fresh,
// empty file system image to it with size total blocks and room for
// ninodes inodes. The root directory is inode ROOTINO, seeded with "."
// and ".." entries.
func Format(path string, size, ninodes uint32) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("diskimage: create %s: %w", path, err)
	}
	defer f.Close()

	sb := BuildSuperblock(size, ninodes)
	nmeta := sb.BmapStart + size/BPB + 1
	fm := &formatter{f: f, sb: sb, freeInode: ROOTINO, freeBlock: nmeta}

	zero := make([]byte, BSIZE)
	for i := uint32(0); i < size; i++ {
		if err := fm.wsect(i, zero); err != nil {
			return err
		}
	}
	if err := fm.wsect(1, sb.Marshal()); err != nil {
		return err
	}

	rootino, err := fm.ialloc(TypeDir)
	if err != nil {
		return err
	}
	if rootino != ROOTINO {
		return fmt.Errorf("diskimage: root inode allocated as %d, want %d", rootino, ROOTINO)
	}

	dot := NewDirent(uint16(rootino), ".")
	if err := fm.iappend(rootino, dot.Marshal()); err != nil {
		return err
	}
	dotdot := NewDirent(uint16(rootino), "..")
	if err := fm.iappend(rootino, dotdot.Marshal()); err != nil {
		return err
	}

	if err := fm.roundRootSizeToBlock(rootino); err != nil {
		return err
	}
	return fm.writeBitmap()
}

func (fm *formatter) wsect(sec uint32, buf []byte) error {
	_, err := fm.f.WriteAt(pad(buf), int64(sec)*BSIZE)
	return err
}

func (fm *formatter) rsect(sec uint32) ([]byte, error) {
	buf := make([]byte, BSIZE)
	_, err := fm.f.ReadAt(buf, int64(sec)*BSIZE)
	return buf, err
}

func pad(buf []byte) []byte {
	if len(buf) >= BSIZE {
		return buf[:BSIZE]
	}
	out := make([]byte, BSIZE)
	copy(out, buf)
	return out
}

func (fm *formatter) readInode(inum uint32) (Dinode, error) {
	block, err := fm.rsect(IBlock(inum, &fm.sb))
	if err != nil {
		return Dinode{}, err
	}
	var d Dinode
	off := DinodeAt(inum)
	err = d.Unmarshal(block[off : off+DinodeSize])
	return d, err
}

func (fm *formatter) writeInode(inum uint32, d Dinode) error {
	bn := IBlock(inum, &fm.sb)
	block, err := fm.rsect(bn)
	if err != nil {
		return err
	}
	off := DinodeAt(inum)
	copy(block[off:off+DinodeSize], d.Marshal())
	return fm.wsect(bn, block)
}

func (fm *formatter) ialloc(kind int16) (uint32, error) {
	inum := fm.freeInode
	fm.freeInode++
	d := Dinode{Type: kind, NLink: 1}
	return inum, fm.writeInode(inum, d)
}

func (fm *formatter) iappend(inum uint32, p []byte) error {
	din, err := fm.readInode(inum)
	if err != nil {
		return err
	}
	off := din.Size
	n := uint32(len(p))

	for n > 0 {
		fbn := off / BSIZE
		if fbn >= MAXFILE {
			return fmt.Errorf("diskimage: file grew past MAXFILE blocks")
		}

		var x uint32
		if fbn < NDIRECT {
			if din.Addrs[fbn] == 0 {
				din.Addrs[fbn] = fm.freeBlock
				fm.freeBlock++
			}
			x = din.Addrs[fbn]
		} else {
			if din.Addrs[NDIRECT] == 0 {
				din.Addrs[NDIRECT] = fm.freeBlock
				fm.freeBlock++
			}
			indirect, err := fm.rsect(din.Addrs[NDIRECT])
			if err != nil {
				return err
			}
			ioff := (fbn - NDIRECT) * 4
			addr := binary.LittleEndian.Uint32(indirect[ioff : ioff+4])
			if addr == 0 {
				addr = fm.freeBlock
				fm.freeBlock++
				binary.LittleEndian.PutUint32(indirect[ioff:ioff+4], addr)
				if err := fm.wsect(din.Addrs[NDIRECT], indirect); err != nil {
					return err
				}
			}
			x = addr
		}

		n1 := n
		if cap := (fbn+1)*BSIZE - off; n1 > cap {
			n1 = cap
		}
		block, err := fm.rsect(x)
		if err != nil {
			return err
		}
		copy(block[off-fbn*BSIZE:], p[:n1])
		if err := fm.wsect(x, block); err != nil {
			return err
		}

		n -= n1
		off += n1
		p = p[n1:]
	}

	din.Size = off
	return fm.writeInode(inum, din)
}

func (fm *formatter) roundRootSizeToBlock(rootino uint32) error {
	din, err := fm.readInode(rootino)
	if err != nil {
		return err
	}
	din.Size = (din.Size/BSIZE + 1) * BSIZE
	return fm.writeInode(rootino, din)
}

// writeBitmap marks every block below freeBlock (boot block through
// the last block mkfs itself allocated) used.
func (fm *formatter) writeBitmap() error {
	buf := make([]byte, BSIZE)
	for i := uint32(0); i < fm.freeBlock; i++ {
		buf[i/8] |= 1 << (i % 8)
	}
	return fm.wsect(fm.sb.BmapStart, buf)
}
