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
	"testing"
	"time"
)

// testWorld provides sleep and wakeup for testTasks on host primitives.
type testWorld struct {
	mu   sync.Mutex
	cond *sync.Cond
	gen  map[any]int
}

func newTestWorld() *testWorld {
	w := &testWorld{gen: make(map[any]int)}
	w.cond = sync.NewCond(&w.mu)
	return w
}

type testTask struct {
	w   *testWorld
	cpu *testCPU
	pid int32
}

func (t *testTask) CPU() CPU { return t.cpu }

func (t *testTask) PID() int32 { return t.pid }

func (t *testTask) Sleep(channel any, lk *Spinlock) {
	t.w.mu.Lock()
	g := t.w.gen[channel]
	lk.Release(t.cpu)
	for t.w.gen[channel] == g {
		t.w.cond.Wait()
	}
	t.w.mu.Unlock()
	lk.Acquire(t.cpu)
}

func (t *testTask) Wakeup(channel any) {
	t.w.mu.Lock()
	t.w.gen[channel]++
	t.w.cond.Broadcast()
	t.w.mu.Unlock()
}

func TestSleepLockAcquireRelease(t *testing.T) {
	var l SleepLock
	l.Init("inode")
	task := &testTask{w: newTestWorld(), cpu: &testCPU{id: 0}, pid: 1}

	l.Acquire(task)
	if !l.Holding(task) {
		t.Errorf("Holding() = false after Acquire")
	}
	l.Release(task)
	if l.Holding(task) || l.locked {
		t.Errorf("lock still held after Release")
	}
	if got := task.cpu.off.Load(); got != 0 {
		t.Errorf("push-off depth = %d, want 0", got)
	}
}

func TestSleepLockContention(t *testing.T) {
	var l SleepLock
	l.Init("buf")
	w := newTestWorld()
	a := &testTask{w: w, cpu: &testCPU{id: 0}, pid: 1}
	b := &testTask{w: w, cpu: &testCPU{id: 1}, pid: 2}

	l.Acquire(a)
	acquired := make(chan struct{})
	go func() {
		l.Acquire(b)
		close(acquired)
	}()
	select {
	case <-acquired:
		t.Fatalf("pid 2 acquired the lock held by pid 1")
	case <-time.After(20 * time.Millisecond):
	}
	if l.Holding(b) {
		t.Errorf("waiter reported as holder")
	}

	l.Release(a)
	<-acquired
	if !l.Holding(b) || l.Holding(a) {
		t.Errorf("after hand-off Holding(pid 2) = %v, Holding(pid 1) = %v", l.Holding(b), l.Holding(a))
	}
	l.Release(b)
}

func TestSleepLockReleaseUnlocked(t *testing.T) {
	var l SleepLock
	l.Init("free")
	task := &testTask{w: newTestWorld(), cpu: &testCPU{id: 0}, pid: 1}
	mustPanic(t, "Release of a free sleep-lock", func() { l.Release(task) })
}
