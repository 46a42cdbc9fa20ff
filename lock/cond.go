// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lock

import "sync"

// Locker is the minimal interface Sleep needs from whatever lock the
// caller is holding when it calls Sleep: something it can give up before
// parking and take back before returning. SpinLock satisfies it through
// its Guard adapter, and a *sync.Mutex (such as the one inside
// SleepLock) satisfies it directly.
type Locker interface {
	Unlock()
	Lock()
}

var (
	waitRegistryMu sync.Mutex
	waitRegistry   = map[interface{}]*sync.Cond{}
)

func condFor(channel interface{}) *sync.Cond {
	c, ok := waitRegistry[channel]
	if !ok {
		c = sync.NewCond(&waitRegistryMu)
		waitRegistry[channel] = c
	}
	return c
}

// Sleep atomically releases lk (which the caller must be holding),
// suspends the calling goroutine until a Wakeup(channel) call observes
// it waiting, then reacquires lk before returning. channel is any stable
// identity — conventionally the address of the object being waited on
// (a *txlog.Log, a *SleepLock, a pending virtio request) — never a
// value type.
//
// The registry mutex closes the gap between "lk gave up" and "parked on
// the condition": Wakeup cannot take the registry lock until Sleep has
// either not yet started waiting or is already blocked inside Wait,
// so no wakeup is ever lost.
func Sleep(channel interface{}, lk Locker) {
	waitRegistryMu.Lock()
	c := condFor(channel)
	lk.Unlock()
	c.Wait()
	waitRegistryMu.Unlock()
	lk.Lock()
}

// Wakeup marks every goroutine sleeping on channel runnable. It is safe
// to call from an interrupt-handler goroutine (it only ever takes the
// registry spin-style mutex briefly) and safe to call when nobody is
// sleeping on channel.
func Wakeup(channel interface{}) {
	waitRegistryMu.Lock()
	if c, ok := waitRegistry[channel]; ok {
		c.Broadcast()
	}
	waitRegistryMu.Unlock()
}
