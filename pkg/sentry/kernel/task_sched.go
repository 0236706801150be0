// Copyright 2018 The gVisor Authors.
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
	"fmt"
	"runtime"

	"gvisor.dev/armkern/pkg/sentry/arch"
)

// Kernel text addresses a fresh context may first resume at.
const (
	// forkretPC is the entry of every new task: it finishes the switch
	// from the scheduler and starts the task's program.
	forkretPC uint64 = 0xffff000000081000
)

// entryPoint returns the function at kernel text address pc.
func entryPoint(pc uint64) func(*Task) {
	switch pc {
	case forkretPC:
		return forkret
	}
	return nil
}

// switchContext is a context that swtch can save and resume. A task's
// context starts at the address in its saved link register the first time
// it is resumed; afterwards it continues wherever it last switched away.
type switchContext struct {
	// regs are the saved callee-saved registers.
	regs *arch.Context

	// wake resumes the goroutine parked on this context.
	wake chan struct{}

	// started is true once a goroutine executes this context.
	started bool

	// task is the task the context belongs to, or nil for a scheduler.
	task *Task
}

// reset prepares a task context to enter at pc on its next resume.
func (s *switchContext) reset(t *Task, regs *arch.Context, pc uint64) {
	regs.Reset(pc)
	*s = switchContext{
		regs: regs,
		wake: make(chan struct{}),
		task: t,
	}
}

// swtch saves the executing context into from and resumes to. It returns
// when some CPU switches back to from.
func (k *Kernel) swtch(from, to *switchContext) {
	k.resume(to)
	k.park(from)
}

// resume hands the executing CPU to to.
func (k *Kernel) resume(to *switchContext) {
	if !to.started {
		entry := entryPoint(to.regs.LR)
		if entry == nil {
			panic(fmt.Sprintf("swtch: no kernel text at %#x", to.regs.LR))
		}
		to.started = true
		go entry(to.task)
		return
	}
	to.wake <- struct{}{}
}

// park blocks until from is resumed. If the machine halts first the
// calling goroutine exits.
func (k *Kernel) park(from *switchContext) {
	select {
	case <-from.wake:
	case <-k.halted:
		runtime.Goexit()
	}
}

// sched switches from t to its CPU's scheduler. A zombie never returns.
//
// Preconditions: t.mu is the only spinlock held and t.state is not
// Running.
func (t *Task) sched() {
	c := t.cpu
	if !t.mu.Holding(c) {
		panic(fmt.Sprintf("sched: task %d does not hold its lock", t.tid))
	}
	if c.noff != 1 {
		panic(fmt.Sprintf("sched: task %d holds %d locks", t.tid, c.noff))
	}
	if t.state == Running {
		panic(fmt.Sprintf("sched: task %d is running", t.tid))
	}
	if t.state == Zombie {
		// Nothing may touch t after the scheduler resumes: the parent
		// can reap the slot as soon as the task lock is released.
		t.k.resume(&c.sched)
		runtime.Goexit()
	}
	t.k.swtch(&t.kctx, &c.sched)
}

// forkret is where a new task first runs. The scheduler switched here
// with the task lock held.
func forkret(t *Task) {
	t.mu.Release(t.cpu)
	t.checkKilled()
	t.Exit(t.main(t))
}

// Yield gives up the CPU for one scheduling round.
func (t *Task) Yield() {
	t.mu.Acquire(t.cpu)
	t.setState(Runnable)
	t.sched()
	// t.cpu may have changed.
	t.mu.Release(t.cpu)
}

// HandleTimer is the timer interrupt path of a task's trap handler. If a
// tick is pending on the task's CPU and no spinlock is held, the task
// yields. A killed task exits instead of returning.
func (t *Task) HandleTimer() {
	t.checkKilled()
	if c := t.cpu; c.noff == 0 && c.takeTick() {
		t.Yield()
	}
	t.checkKilled()
}

// Killed returns true if t has been killed.
func (t *Task) Killed() bool {
	c := t.cpu
	t.mu.Acquire(c)
	killed := t.killed
	t.mu.Release(c)
	return killed
}

// checkKilled exits t if it has been killed. It is called at system call
// and trap boundaries.
func (t *Task) checkKilled() {
	if t.Killed() {
		t.Exit(-1)
	}
}
