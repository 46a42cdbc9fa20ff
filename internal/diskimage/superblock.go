// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package diskimage

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// SuperblockSize is the on-disk encoded size of a Superblock, in bytes.
const SuperblockSize = 8 * 4

// Superblock describes the fixed region layout of a disk image: the
// boot block occupies block 0, the superblock lives in block 1, and
// everything after follows in the order log, inodes, bitmap, data.
type Superblock struct {
	Magic      uint32 // must equal FSMAGIC
	Size       uint32 // total image size, in blocks
	NBlocks    uint32 // number of data blocks
	NInodes    uint32 // number of inodes
	NLog       uint32 // number of log blocks
	LogStart   uint32 // block number of the first log block
	InodeStart uint32 // block number of the first inode block
	BmapStart  uint32 // block number of the first bitmap block
}

// Marshal encodes sb into a BSIZE-length block, little-endian, zero
// padded past the struct.
func (sb *Superblock) Marshal() []byte {
	buf := make([]byte, BSIZE)
	binary.LittleEndian.PutUint32(buf[0:4], sb.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], sb.Size)
	binary.LittleEndian.PutUint32(buf[8:12], sb.NBlocks)
	binary.LittleEndian.PutUint32(buf[12:16], sb.NInodes)
	binary.LittleEndian.PutUint32(buf[16:20], sb.NLog)
	binary.LittleEndian.PutUint32(buf[20:24], sb.LogStart)
	binary.LittleEndian.PutUint32(buf[24:28], sb.InodeStart)
	binary.LittleEndian.PutUint32(buf[28:32], sb.BmapStart)
	return buf
}

// Unmarshal decodes a Superblock from the first SuperblockSize bytes of
// block, which must be at least that long.
func (sb *Superblock) Unmarshal(block []byte) error {
	if len(block) < SuperblockSize {
		return fmt.Errorf("diskimage: superblock block too short: %d bytes", len(block))
	}
	sb.Magic = binary.LittleEndian.Uint32(block[0:4])
	sb.Size = binary.LittleEndian.Uint32(block[4:8])
	sb.NBlocks = binary.LittleEndian.Uint32(block[8:12])
	sb.NInodes = binary.LittleEndian.Uint32(block[12:16])
	sb.NLog = binary.LittleEndian.Uint32(block[16:20])
	sb.LogStart = binary.LittleEndian.Uint32(block[20:24])
	sb.InodeStart = binary.LittleEndian.Uint32(block[24:28])
	sb.BmapStart = binary.LittleEndian.Uint32(block[28:32])
	if sb.Magic != FSMAGIC {
		return fmt.Errorf("diskimage: bad superblock magic %#x", sb.Magic)
	}
	return nil
}

// BuildSuperblock computes a superblock describing an image of size
// blocks with ninodes inodes, following the fixed layout order
// boot(1) | super(1) | log | inodes | bitmap | data.
func BuildSuperblock(size, ninodes uint32) Superblock {
	nlog := uint32(LOGSIZE)
	logStart := uint32(2)
	inodeStart := logStart + nlog
	ninodeblocks := (ninodes + IPB - 1) / IPB
	bmapStart := inodeStart + ninodeblocks
	nmetaBlocks := bmapStart + (size/BPB + 1)
	nblocks := size - nmetaBlocks

	return Superblock{
		Magic:      FSMAGIC,
		Size:       size,
		NBlocks:    nblocks,
		NInodes:    ninodes,
		NLog:       nlog,
		LogStart:   logStart,
		InodeStart: inodeStart,
		BmapStart:  bmapStart,
	}
}

func (sb Superblock) String() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "sb(size=%d nblocks=%d ninodes=%d nlog=%d logstart=%d inodestart=%d bmapstart=%d)",
		sb.Size, sb.NBlocks, sb.NInodes, sb.NLog, sb.LogStart, sb.InodeStart, sb.BmapStart)
	return b.String()
}
