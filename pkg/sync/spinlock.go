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
	"fmt"
	"runtime"
	"sync/atomic"
)

// CPU is the view of a simulated processor that locks need.
type CPU interface {
	// ID returns the processor number.
	ID() int

	// PushOff disables timer delivery on the CPU. Calls nest.
	PushOff()

	// PopOff undoes one PushOff. Timer delivery is re-enabled only when
	// every PushOff has been matched.
	PopOff()
}

// spinsBeforeYield is the number of failed compare-and-swap attempts after
// which an acquiring CPU yields its host thread.
const spinsBeforeYield = 64

// Spinlock is a non-reentrant mutual exclusion lock held by a CPU. A CPU
// that holds a spinlock does not take timer interrupts.
//
// The zero value is an unlocked, unnamed spinlock.
type Spinlock struct {
	// locked is 1 while some CPU is between Acquire and Release.
	locked atomic.Uint32

	// cpu is the holder's ID plus one. It is meaningful only while locked
	// is set.
	cpu atomic.Int32

	name string
}

// Init names the lock. It must not be called while the lock is in use.
func (l *Spinlock) Init(name string) {
	l.name = name
	l.cpu.Store(0)
	l.locked.Store(0)
}

// Name returns the diagnostic name given to Init.
func (l *Spinlock) Name() string {
	return l.name
}

// Acquire spins until c owns the lock.
//
// Precondition: c does not hold l.
func (l *Spinlock) Acquire(c CPU) {
	c.PushOff()
	if l.Holding(c) {
		panic(fmt.Sprintf("acquire %q: already held by cpu%d", l.name, c.ID()))
	}
	for spins := 1; !l.locked.CompareAndSwap(0, 1); spins++ {
		if spins%spinsBeforeYield == 0 {
			runtime.Gosched()
		}
	}
	l.cpu.Store(int32(c.ID()) + 1)
}

// TryAcquire acquires l if it is free and reports whether it did.
func (l *Spinlock) TryAcquire(c CPU) bool {
	c.PushOff()
	if l.Holding(c) {
		panic(fmt.Sprintf("acquire %q: already held by cpu%d", l.name, c.ID()))
	}
	if !l.locked.CompareAndSwap(0, 1) {
		c.PopOff()
		return false
	}
	l.cpu.Store(int32(c.ID()) + 1)
	return true
}

// Release releases the lock.
//
// Precondition: c holds l.
func (l *Spinlock) Release(c CPU) {
	if !l.Holding(c) {
		panic(fmt.Sprintf("release %q: not held by cpu%d", l.name, c.ID()))
	}
	l.cpu.Store(0)
	// Stores made in the critical section happen before this store, and
	// so before the next successful CompareAndSwap observes it.
	l.locked.Store(0)
	c.PopOff()
}

// Holding reports whether c holds l. The answer is only stable when the
// caller has timer delivery disabled.
func (l *Spinlock) Holding(c CPU) bool {
	return l.locked.Load() == 1 && l.cpu.Load() == int32(c.ID())+1
}

// Locked reports whether any CPU holds l.
func (l *Spinlock) Locked() bool {
	return l.locked.Load() == 1
}
