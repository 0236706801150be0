// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testCPU is a CPU that only counts PushOff nesting.
type testCPU struct {
	id  int
	off atomic.Int32
}

func (c *testCPU) ID() int { return c.id }

func (c *testCPU) PushOff() { c.off.Add(1) }

func (c *testCPU) PopOff() {
	if c.off.Add(-1) < 0 {
		panic("unbalanced PopOff")
	}
}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("%s did not panic", name)
		}
	}()
	fn()
}

func TestSpinlockMutualExclusion(t *testing.T) {
	const (
		cpus   = 8
		rounds = 2000
	)
	var (
		l      Spinlock
		inside atomic.Int32
		count  int
		wg     sync.WaitGroup
	)
	l.Init("counter")
	for i := 0; i < cpus; i++ {
		wg.Add(1)
		go func(c *testCPU) {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				l.Acquire(c)
				if n := inside.Add(1); n != 1 {
					t.Errorf("%d CPUs inside the critical section", n)
				}
				count++
				inside.Add(-1)
				l.Release(c)
			}
		}(&testCPU{id: i})
	}
	wg.Wait()
	if want := cpus * rounds; count != want {
		t.Errorf("count = %d, want %d", count, want)
	}
	if l.Locked() {
		t.Errorf("lock still held after every CPU released it")
	}
}

func TestSpinlockTwoCPUs(t *testing.T) {
	var l Spinlock
	l.Init("pair")
	c0, c1 := &testCPU{id: 0}, &testCPU{id: 1}

	l.Acquire(c0)
	if !l.Holding(c0) || l.Holding(c1) {
		t.Fatalf("Holding(cpu0) = %v, Holding(cpu1) = %v, want true, false", l.Holding(c0), l.Holding(c1))
	}
	if l.TryAcquire(c1) {
		t.Fatalf("cpu1 acquired a lock held by cpu0")
	}
	if got := c1.off.Load(); got != 0 {
		t.Errorf("failed TryAcquire left cpu1 push-off depth %d, want 0", got)
	}

	acquired := make(chan struct{})
	go func() {
		l.Acquire(c1)
		close(acquired)
	}()
	select {
	case <-acquired:
		t.Fatalf("cpu1 acquired the lock before cpu0 released it")
	case <-time.After(20 * time.Millisecond):
	}

	l.Release(c0)
	<-acquired
	if !l.Holding(c1) {
		t.Errorf("cpu1 does not hold the lock after acquiring it")
	}
	l.Release(c1)
	if got := c0.off.Load() + c1.off.Load(); got != 0 {
		t.Errorf("push-off depth after release = %d, want 0", got)
	}
}

func TestSpinlockPushOff(t *testing.T) {
	var a, b Spinlock
	c := &testCPU{id: 3}
	a.Acquire(c)
	b.Acquire(c)
	if got := c.off.Load(); got != 2 {
		t.Errorf("depth with two locks held = %d, want 2", got)
	}
	b.Release(c)
	a.Release(c)
	if got := c.off.Load(); got != 0 {
		t.Errorf("depth after release = %d, want 0", got)
	}
}

func TestSpinlockMisuse(t *testing.T) {
	var l Spinlock
	l.Init("misuse")
	c0, c1 := &testCPU{id: 0}, &testCPU{id: 1}

	mustPanic(t, "Release of a free lock", func() { l.Release(c0) })

	l.Acquire(c0)
	mustPanic(t, "re-Acquire", func() { l.Acquire(c0) })
	mustPanic(t, "Release by another CPU", func() { l.Release(c1) })
	if !l.Holding(c0) {
		t.Errorf("failed misuse changed the holder")
	}
}
