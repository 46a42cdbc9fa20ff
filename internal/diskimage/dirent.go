// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package diskimage

import (
	"encoding/binary"
	"fmt"
)

// DirentSize is the on-disk encoded size of a Dirent: a uint16 inode
// number followed by a fixed DIRSIZ-byte name field.
const DirentSize = 2 + DIRSIZ

// Dirent is one entry in a directory file: an inode number paired with
// a fixed-width, not necessarily NUL-terminated, name.
type Dirent struct {
	Inum uint16
	Name [DIRSIZ]byte
}

// NewDirent builds a Dirent for inum and name, truncating name to
// DIRSIZ bytes if it runs long.
func NewDirent(inum uint16, name string) Dirent {
	var d Dirent
	d.Inum = inum
	copy(d.Name[:], name)
	return d
}

// NameString returns the entry's name with trailing NUL bytes
// stripped.
func (d *Dirent) NameString() string {
	i := 0
	for i < len(d.Name) && d.Name[i] != 0 {
		i++
	}
	return string(d.Name[:i])
}

// Marshal encodes d into exactly DirentSize bytes.
func (d *Dirent) Marshal() []byte {
	buf := make([]byte, DirentSize)
	binary.LittleEndian.PutUint16(buf[0:2], d.Inum)
	copy(buf[2:], d.Name[:])
	return buf
}

// Unmarshal decodes a Dirent from the first DirentSize bytes of b.
func (d *Dirent) Unmarshal(b []byte) error {
	if len(b) < DirentSize {
		return fmt.Errorf("diskimage: dirent buffer too short: %d bytes", len(b))
	}
	d.Inum = binary.LittleEndian.Uint16(b[0:2])
	copy(d.Name[:], b[2:2+DIRSIZ])
	return nil
}
