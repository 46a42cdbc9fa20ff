// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lock

import (
	"sync"
	"testing"
	"time"
)

func TestSpinLockMutualExclusion(t *testing.T) {
	var l SpinLock
	var counter int
	var wg sync.WaitGroup
	const n = 64
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			l.Acquire(id)
			counter++
			l.Release(id)
		}(int64(i))
	}
	wg.Wait()
	if counter != n {
		t.Fatalf("counter = %d, want %d", counter, n)
	}
}

func TestSpinLockPanicsOnDoubleAcquire(t *testing.T) {
	var l SpinLock
	l.Acquire(1)
	defer l.Release(1)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on re-acquiring an already-held lock")
		}
	}()
	l.Acquire(1)
}

func TestSpinLockPanicsOnReleaseNotHeld(t *testing.T) {
	var l SpinLock
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic releasing a lock nobody holds")
		}
	}()
	l.Release(1)
}

func TestSleepLockBlocksSecondAcquirer(t *testing.T) {
	var s SleepLock
	s.Acquire(1)

	acquired := make(chan struct{})
	go func() {
		s.Acquire(2)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire returned while lock still held")
	case <-time.After(20 * time.Millisecond):
	}

	s.Release(1)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire never woke after Release")
	}
	s.Release(2)
}

func TestSleepWakeup(t *testing.T) {
	var mu sync.Mutex
	key := &mu
	done := make(chan struct{})

	mu.Lock()
	go func() {
		mu.Lock()
		Sleep(key, &mu)
		mu.Unlock()
		close(done)
	}()
	mu.Unlock()

	// Give the goroutine a chance to park before waking it.
	time.Sleep(10 * time.Millisecond)
	Wakeup(key)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wakeup did not release the sleeper")
	}
}
