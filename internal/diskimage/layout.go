// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package diskimage defines the on-disk layout shared by the storage
// stack and the mkfs tool: block size, superblock, inode, and directory
// entry formats, plus the fixed region sizing (boot block, superblock,
// log, inodes, free bitmap, data) every image follows.
package diskimage

const (
	// BSIZE is the size in bytes of every disk block, including the
	// boot block, superblock, log blocks, inode blocks, bitmap blocks
	// and data blocks.
	BSIZE = 1024

	// FSMAGIC identifies a valid superblock.
	FSMAGIC = 0x10203040

	// ROOTINO is the inode number of the root directory.
	ROOTINO = 1

	// ROOTDEV is the device number the root file system is mounted on.
	ROOTDEV = 1

	// NDIRECT is the number of direct block pointers in a dinode.
	NDIRECT = 12

	// NINDIRECT is the number of block pointers held in one indirect
	// block: BSIZE divided by the 4-byte size of a block number.
	NINDIRECT = BSIZE / 4

	// MAXFILE is the largest file size in blocks addressable through
	// direct plus single-indirect pointers.
	MAXFILE = NDIRECT + NINDIRECT

	// IPB is the number of dinodes that fit in one block.
	IPB = BSIZE / DinodeSize

	// BPB is the number of bits (blocks) one bitmap block can track.
	BPB = BSIZE * 8

	// DIRSIZ is the maximum length of one path component, including
	// the final NUL when the name runs short of it.
	DIRSIZ = 14

	// MAXOPBLOCKS is the most distinct blocks a single file system
	// call is allowed to write inside one transaction.
	MAXOPBLOCKS = 10

	// LOGSIZE is the number of blocks reserved for the log, three
	// MAXOPBLOCKS worth. txlog.Begin admits a transaction only while the
	// reservation stays below LOGSIZE, so at most two MAXOPBLOCKS
	// writers are outstanding at once.
	LOGSIZE = MAXOPBLOCKS * 3

	// NBUF is the number of slots in the block cache, sized the same
	// as LOGSIZE so a full transaction's writes always fit in cache.
	NBUF = MAXOPBLOCKS * 3

	// FSSIZE is the default total size of a disk image, in blocks.
	FSSIZE = 2000

	// NINODE is the maximum number of in-memory inodes resident at
	// once, independent of how many are allocated on disk.
	NINODE = 50

	// NDEV is the number of distinct device major numbers.
	NDEV = 10
)

// File types stored in Dinode.Type and used as stat() kinds.
const (
	TypeFree = iota
	TypeDir
	TypeFile
	TypeDevice
)

// IBlock returns the block number holding inode inum, given the
// superblock's inode region start.
func IBlock(inum uint32, sb *Superblock) uint32 {
	return inum/IPB + sb.InodeStart
}

// BBlock returns the block number of the bitmap block that tracks the
// free/used bit for block b, given the superblock's bitmap region start.
func BBlock(b uint32, sb *Superblock) uint32 {
	return b/BPB + sb.BmapStart
}
