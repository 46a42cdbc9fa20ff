// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package diskimage

import (
	"encoding/binary"
	"fmt"
)

// DinodeSize is the on-disk encoded size of a Dinode, in bytes:
// four int16 fields, one uint32, and 13 uint32 block addresses.
const DinodeSize = 2*4 + 4 + 4*(NDIRECT+1)

// Dinode is the on-disk inode format: fixed-size, IPB of them packed
// per block starting at the superblock's inode region.
type Dinode struct {
	Type  int16
	Major int16
	Minor int16
	NLink int16
	Size  uint32
	Addrs [NDIRECT + 1]uint32 // 12 direct blocks, 1 singly-indirect
}

// Marshal encodes d into exactly DinodeSize bytes, little-endian.
func (d *Dinode) Marshal() []byte {
	buf := make([]byte, DinodeSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(d.Type))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(d.Major))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(d.Minor))
	binary.LittleEndian.PutUint16(buf[6:8], uint16(d.NLink))
	binary.LittleEndian.PutUint32(buf[8:12], d.Size)
	for i, a := range d.Addrs {
		off := 12 + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], a)
	}
	return buf
}

// Unmarshal decodes a Dinode from the first DinodeSize bytes of b.
func (d *Dinode) Unmarshal(b []byte) error {
	if len(b) < DinodeSize {
		return fmt.Errorf("diskimage: dinode buffer too short: %d bytes", len(b))
	}
	d.Type = int16(binary.LittleEndian.Uint16(b[0:2]))
	d.Major = int16(binary.LittleEndian.Uint16(b[2:4]))
	d.Minor = int16(binary.LittleEndian.Uint16(b[4:6]))
	d.NLink = int16(binary.LittleEndian.Uint16(b[6:8]))
	d.Size = binary.LittleEndian.Uint32(b[8:12])
	for i := range d.Addrs {
		off := 12 + i*4
		d.Addrs[i] = binary.LittleEndian.Uint32(b[off : off+4])
	}
	return nil
}

// DinodeAt returns the byte offset of inode inum within its block.
func DinodeAt(inum uint32) int {
	return int(inum%IPB) * DinodeSize
}
