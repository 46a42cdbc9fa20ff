// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ofile

import (
	"sync"
	"syscall"
)

// PipeSize is the capacity in bytes of a pipe's ring buffer, matching
// xv6's PIPESIZE.
const PipeSize = 512

// Pipe is a bounded, single-process ring buffer connecting a read end
// and a write end, the Go analogue of xv6's struct pipe. Where xv6
// guards it with a spinlock and parks on &pi->nread/&pi->nwrite via
// the scheduler's sleep/wakeup, Pipe uses a sync.Mutex plus a
// sync.Cond broadcast on every state change, the same idiom the
// teacher uses for its mount-wide treeLock/openFilesMutex
// coordination.
type Pipe struct {
	mu   sync.Mutex
	cond *sync.Cond
	data [PipeSize]byte

	readOpen  bool
	writeOpen bool
	nread     uint64
	nwrite    uint64
}

// NewPipe returns a pair of File handles sharing one Pipe, the read
// end and the write end, matching pipealloc.
func NewPipe(t *Table) (rf, wf *File, err error) {
	rf = t.Alloc()
	wf = t.Alloc()
	if rf == nil || wf == nil {
		return nil, nil, syscall.EMFILE
	}

	p := &Pipe{readOpen: true, writeOpen: true}
	p.cond = sync.NewCond(&p.mu)

	rf.Kind, rf.Readable, rf.Writable, rf.Pipe = Pipe, true, false, p
	wf.Kind, wf.Readable, wf.Writable, wf.Pipe = Pipe, false, true, p
	return rf, wf, nil
}

// Close shuts the read end (writable=false) or the write end
// (writable=true) of p, waking whichever side is blocked so it can
// observe the closed end and return.
func (p *Pipe) Close(writable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if writable {
		p.writeOpen = false
	} else {
		p.readOpen = false
	}
	p.cond.Broadcast()
}

// Write appends src to the pipe, blocking while the buffer is full
// and the read end is still open. It returns syscall.EPIPE once the
// read end has closed, matching pipewrite's readopen==0 check.
func (p *Pipe) Write(src []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for n < len(src) {
		if !p.readOpen {
			return n, syscall.EPIPE
		}
		if p.nwrite == p.nread+PipeSize {
			p.cond.Broadcast()
			p.cond.Wait()
			continue
		}
		p.data[p.nwrite%PipeSize] = src[n]
		p.nwrite++
		n++
	}
	p.cond.Broadcast()
	return n, nil
}

// Read copies up to len(dst) bytes out of the pipe, blocking while
// the buffer is empty and the write end is still open. A closed
// write end with no buffered data yields a zero-length, nil-error
// read (EOF), matching piperead.
func (p *Pipe) Read(dst []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.nread == p.nwrite && p.writeOpen {
		p.cond.Wait()
	}

	n := 0
	for n < len(dst) {
		if p.nread == p.nwrite {
			break
		}
		dst[n] = p.data[p.nread%PipeSize]
		p.nread++
		n++
	}
	p.cond.Broadcast()
	return n, nil
}
