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

package kernel

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"gvisor.dev/armkern/pkg/log"
	"gvisor.dev/armkern/pkg/sentry/arch"
	"gvisor.dev/armkern/pkg/sync"
)

var _ sync.CPU = (*CPU)(nil)

// CPU is one simulated processor. Each CPU has a goroutine running its
// scheduler loop; at any time exactly one goroutine, the scheduler or the
// task it switched to, executes on the CPU.
type CPU struct {
	k  *Kernel
	id int

	// noff is the depth of PushOff calls. It and task are accessed only by
	// the goroutine executing on the CPU.
	noff int

	// task is the task running on the CPU, or nil.
	task *Task

	// sched is the scheduler's switchable context.
	sched     switchContext
	schedRegs arch.Context

	// ttbr0 is the root of the user translation table installed on the
	// CPU, or zero while the scheduler runs.
	ttbr0 atomic.Uint64

	// tick is set by the CPU's timer and consumed by HandleTimer.
	tick atomic.Bool

	// switches counts context switches from the scheduler to tasks.
	switches atomic.Uint64
}

func newCPU(k *Kernel, id int) *CPU {
	c := &CPU{k: k, id: id}
	c.sched = switchContext{
		regs:    &c.schedRegs,
		wake:    make(chan struct{}),
		started: true,
	}
	return c
}

// ID implements sync.CPU.ID.
func (c *CPU) ID() int {
	return c.id
}

// PushOff implements sync.CPU.PushOff.
func (c *CPU) PushOff() {
	c.noff++
}

// PopOff implements sync.CPU.PopOff.
func (c *CPU) PopOff() {
	if c.noff < 1 {
		panic(fmt.Sprintf("cpu %d: PopOff without PushOff", c.id))
	}
	c.noff--
}

// Switches returns the number of times the CPU's scheduler has switched to
// a task.
func (c *CPU) Switches() uint64 {
	return c.switches.Load()
}

// TTBR0 returns the root of the translation table currently installed for
// user addresses.
func (c *CPU) TTBR0() uint64 {
	return c.ttbr0.Load()
}

// switchUVM installs t's address space on c.
func (c *CPU) switchUVM(t *Task) {
	if t.kstack == 0 {
		panic(fmt.Sprintf("switchUVM: task %d has no kernel stack", t.tid))
	}
	if t.pageTables == nil {
		panic(fmt.Sprintf("switchUVM: task %d has no page table", t.tid))
	}
	c.ttbr0.Store(uint64(t.pageTables.Root()))
}

// takeTick consumes a pending timer tick.
func (c *CPU) takeTick() bool {
	return c.tick.Swap(false)
}

// schedule is the CPU's scheduler loop. It scans the task table for a
// runnable task, switches to it, and continues the scan when the task
// switches back. When a full scan finds nothing to run the CPU idles with
// exponential backoff. schedule returns once ctx is cancelled.
func (c *CPU) schedule(ctx context.Context) error {
	b := backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     c.k.idleMin,
		Multiplier:          2,
		MaxInterval:         c.k.idleMax,
		RandomizationFactor: 0.1,
		Clock:               backoff.SystemClock,
	}, ctx)
	b.Reset()
	log.Debugf("cpu %d: scheduler starting", c.id)
	for ctx.Err() == nil {
		if c.scan() {
			b.Reset()
			continue
		}
		d := b.NextBackOff()
		if d == backoff.Stop {
			break
		}
		time.Sleep(d)
	}
	log.Debugf("cpu %d: scheduler stopping after %d switches", c.id, c.switches.Load())
	return nil
}

// scan makes one pass over the task table, running every task found
// runnable. It returns true if any task ran.
func (c *CPU) scan() bool {
	ran := false
	for _, t := range c.k.tasks {
		t.mu.Acquire(c)
		if t.state == Runnable {
			// The task releases t.mu, and reacquires it before switching
			// back.
			c.task = t
			t.cpu = c
			c.switchUVM(t)
			t.setState(Running)
			c.switches.Add(1)
			c.k.swtch(&c.sched, &t.kctx)
			c.ttbr0.Store(0)
			c.task = nil
			ran = true
		}
		t.mu.Release(c)
	}
	return ran
}

// tickLoop delivers a timer tick to c every interval until ctx is
// cancelled.
func (c *CPU) tickLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.tick.Store(true)
		}
	}
}
