// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package virtio models a virtio-blk style block device: a driver side
// that queues read/write requests on a small, fixed pool of descriptor
// chains and a device side, running on its own goroutine, that services
// them against a real backing file and raises a completion "interrupt"
// when done. There is no QEMU here to front an actual MMIO ring, so the
// ring itself is a plain slice guarded by a spin lock rather than memory
// shared with a device across a bus — but the request lifecycle (alloc
// three descriptors, notify, sleep until the interrupt clears them) is
// the same one the driver lives by.
package virtio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/sv39fs/kernel/internal/diskimage"
	"github.com/sv39fs/kernel/lock"
)

// NumDescriptors is the size of the descriptor pool. Each request
// consumes three descriptors (header, data, status), so at most
// NumDescriptors/3 requests are ever in flight at once.
const NumDescriptors = 3 * 8

type pending struct {
	blockno uint32
	data    []byte
	write   bool
	done    bool
	status  error
}

// Disk is a virtio-blk style block device backed by a regular file.
// Rw is safe to call concurrently from many goroutines; completions are
// delivered by an internal goroutine that plays the role of the
// device's interrupt handler.
type Disk struct {
	mu   lock.SpinLock
	file *os.File

	free  [NumDescriptors]bool
	info  [NumDescriptors]*pending
	avail []int // descriptor-chain head ids awaiting service, FIFO

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

// Open attaches a Disk to the file at path, which must already exist
// and be at least the size implied by the image's superblock. The
// caller is responsible for closing the Disk with Close.
func Open(path string) (*Disk, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("virtio: open %s: %w", path, err)
	}
	d := &Disk{
		file:   f,
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for i := range d.free {
		d.free[i] = true
	}
	go d.run()
	return d, nil
}

// Close stops the device goroutine and closes the backing file. Any
// request still in flight is abandoned.
func (d *Disk) Close() error {
	close(d.stop)
	<-d.done
	return d.file.Close()
}

func (d *Disk) allocOwner() int64 { return lock.NextOwner() }

// allocDescs claims the three lowest-numbered free slots in the
// descriptor pool (not necessarily adjacent), blocking until three are
// free.
func (d *Disk) allocDescs(owner int64) [3]int {
	var idx [3]int
	for {
		n := 0
		for i := 0; i < NumDescriptors && n < 3; i++ {
			if d.free[i] {
				idx[n] = i
				d.free[i] = false
				n++
			}
		}
		if n == 3 {
			break
		}
		for i := 0; i < n; i++ {
			d.free[idx[i]] = true
		}
		lock.Sleep(&d.free[0], d.mu.Guard(owner))
	}
	return idx
}

func (d *Disk) freeDescs(idx [3]int) {
	for _, i := range idx {
		d.free[i] = true
		d.info[i] = nil
	}
	lock.Wakeup(&d.free[0])
}

// Rw performs a synchronous block read (write=false) or write
// (write=true) of exactly diskimage.BSIZE bytes against blockno. data
// must be diskimage.BSIZE bytes long; for writes its contents are sent
// to the device, for reads it is filled in place. A wrong-sized buffer
// is reported as an error; an I/O error from the backing file is fatal
// and panics.
func (d *Disk) Rw(blockno uint32, data []byte, write bool) error {
	if len(data) != diskimage.BSIZE {
		return fmt.Errorf("virtio: buffer length %d, want %d", len(data), diskimage.BSIZE)
	}

	owner := d.allocOwner()
	d.mu.Acquire(owner)

	idx := d.allocDescs(owner)
	p := &pending{blockno: blockno, data: data, write: write}
	d.info[idx[0]] = p
	d.avail = append(d.avail, idx[0])

	select {
	case d.notify <- struct{}{}:
	default:
	}

	for !p.done {
		lock.Sleep(p, d.mu.Guard(owner))
	}
	d.freeDescs(idx)
	d.mu.Release(owner)

	if p.status != nil {
		panic(fmt.Sprintf("virtio: block %d: %v", blockno, p.status))
	}
	return nil
}

// run plays the device side of the queue: it waits for newly available
// descriptor chains, performs the real I/O, and raises a completion
// for each one.
func (d *Disk) run() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case <-d.notify:
		}
		for {
			id, ok := d.popAvail()
			if !ok {
				break
			}
			d.service(id)
			d.intr(id)
		}
	}
}

func (d *Disk) popAvail() (int, bool) {
	owner := d.allocOwner()
	d.mu.Acquire(owner)
	defer d.mu.Release(owner)
	if len(d.avail) == 0 {
		return 0, false
	}
	id := d.avail[0]
	d.avail = d.avail[1:]
	return id, true
}

// service performs the real Pread/Pwrite for the request at descriptor
// chain head id, outside the driver's lock.
func (d *Disk) service(id int) {
	owner := d.allocOwner()
	d.mu.Acquire(owner)
	p := d.info[id]
	d.mu.Release(owner)
	if p == nil {
		return
	}

	off := int64(p.blockno) * (diskimage.BSIZE)
	var err error
	if p.write {
		_, err = unix.Pwrite(int(d.file.Fd()), p.data, off)
	} else {
		_, err = unix.Pread(int(d.file.Fd()), p.data, off)
	}
	p.status = err
}

// intr marks the request at descriptor chain head id complete and
// wakes whoever is sleeping on it, the same role virtio_disk_intr
// plays for a real interrupt: short, never blocks, only touches the
// lock briefly.
func (d *Disk) intr(id int) {
	owner := d.allocOwner()
	d.mu.Acquire(owner)
	p := d.info[id]
	if p != nil {
		p.done = true
	}
	d.mu.Release(owner)
	if p == nil {
		return
	}
	lock.Wakeup(p)
}
