// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package diskimage

import "encoding/binary"

// LogHeaderSize is the on-disk encoded size of a LogHeader: one int32
// count followed by LOGSIZE-1 int32 target block numbers.
const LogHeaderSize = 4 + 4*(LOGSIZE-1)

// LogHeader is the on-disk twin of the log's in-memory block list: it
// occupies the first block of the log region and records, for each
// currently logged block, which data block it belongs to.
type LogHeader struct {
	N      int32
	Blocks [LOGSIZE - 1]int32
}

// Marshal encodes h into a BSIZE-length block, zero padded past the
// header.
func (h *LogHeader) Marshal() []byte {
	buf := make([]byte, BSIZE)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.N))
	for i, b := range h.Blocks {
		off := 4 + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(b))
	}
	return buf
}

// Unmarshal decodes a LogHeader from the first LogHeaderSize bytes of
// block.
func (h *LogHeader) Unmarshal(block []byte) {
	h.N = int32(binary.LittleEndian.Uint32(block[0:4]))
	for i := range h.Blocks {
		off := 4 + i*4
		h.Blocks[i] = int32(binary.LittleEndian.Uint32(block[off : off+4]))
	}
}
