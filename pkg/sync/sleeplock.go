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

import "fmt"

// Sleeper is a task that can block on a wait channel.
type Sleeper interface {
	// CPU returns the CPU the task is currently running on. It may change
	// across a call to Sleep.
	CPU() CPU

	// PID returns the task's id.
	PID() int32

	// Sleep atomically releases lk and blocks on channel. lk is held again
	// when Sleep returns.
	Sleep(channel any, lk *Spinlock)

	// Wakeup makes every task blocked on channel runnable.
	Wakeup(channel any)
}

// SleepLock is a long-term lock. A task waiting for it blocks instead of
// spinning, so it may be held across operations that sleep.
type SleepLock struct {
	// lk protects the fields below.
	lk Spinlock

	locked bool
	pid    int32
	name   string
}

// Init names the lock.
func (l *SleepLock) Init(name string) {
	l.lk.Init("sleep lock")
	l.name = name
	l.locked = false
	l.pid = 0
}

// Name returns the diagnostic name given to Init.
func (l *SleepLock) Name() string {
	return l.name
}

// Acquire blocks s until it owns the lock.
//
// Precondition: s holds no spinlocks.
func (l *SleepLock) Acquire(s Sleeper) {
	l.lk.Acquire(s.CPU())
	for l.locked {
		s.Sleep(l, &l.lk)
	}
	l.locked = true
	l.pid = s.PID()
	l.lk.Release(s.CPU())
}

// Release releases the lock and wakes every task waiting for it.
func (l *SleepLock) Release(s Sleeper) {
	l.lk.Acquire(s.CPU())
	if !l.locked {
		panic(fmt.Sprintf("release %q: not locked", l.name))
	}
	l.locked = false
	l.pid = 0
	s.Wakeup(l)
	l.lk.Release(s.CPU())
}

// Holding reports whether s holds the lock.
func (l *SleepLock) Holding(s Sleeper) bool {
	l.lk.Acquire(s.CPU())
	held := l.locked && l.pid == s.PID()
	l.lk.Release(s.CPU())
	return held
}
