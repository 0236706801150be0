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
	"strconv"

	"gvisor.dev/armkern/pkg/hostarch"
	"gvisor.dev/armkern/pkg/ring0/pagetables"
	"gvisor.dev/armkern/pkg/sentry/arch"
	"gvisor.dev/armkern/pkg/sentry/usage"
	"gvisor.dev/armkern/pkg/sync"
)

// ThreadID is a generic thread identifier.
type ThreadID int32

// String returns a decimal representation of the ThreadID.
func (tid ThreadID) String() string {
	return strconv.FormatInt(int64(tid), 10)
}

// InitTID is the TID given to the first task.
const InitTID ThreadID = 1

// maxNameLen bounds Task names, including the terminator a user-visible
// copy would need.
const maxNameLen = 16

// TaskMain is the user program a task runs. Its return value is the task's
// exit status.
type TaskMain func(t *Task) int32

// TaskState is the scheduling state of a task slot.
type TaskState int

// Task states.
const (
	// Unused slots are free for allocation.
	Unused TaskState = iota

	// Embryo tasks are being constructed by the allocating task.
	Embryo

	// Sleeping tasks are blocked on a wait channel.
	Sleeping

	// Runnable tasks are waiting for a CPU.
	Runnable

	// Running tasks own exactly one CPU.
	Running

	// Zombie tasks have exited and wait to be reaped by their parent.
	Zombie
)

var taskStateNames = [...]string{
	Unused:   "unused",
	Embryo:   "embryo",
	Sleeping: "sleeping",
	Runnable: "runnable",
	Running:  "running",
	Zombie:   "zombie",
}

// String implements fmt.Stringer.String.
func (s TaskState) String() string {
	if s < 0 || int(s) >= len(taskStateNames) {
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
	return taskStateNames[s]
}

// legalTransitions lists every permitted state change.
var legalTransitions = map[TaskState][]TaskState{
	Unused:   {Embryo},
	Embryo:   {Runnable, Unused},
	Runnable: {Running},
	Running:  {Runnable, Sleeping, Zombie},
	Sleeping: {Runnable},
	Zombie:   {Unused},
}

// legalTransition returns true if a task may move from one state to
// another.
func legalTransition(from, to TaskState) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Task is a process in the simulated kernel. Every task slot of the
// kernel's table is a Task; a slot is reused after its task is reaped.
//
// Each task that has been scheduled at least once is associated with a
// goroutine, called the task goroutine, that executes the task's program
// and system calls. The task goroutine only runs while some CPU has
// switched to the task.
//
// Fields marked "protected by mu" may only be accessed with mu held.
// Fields marked "owned by the task" are accessed only by the task goroutine
// once the task is runnable, or by the allocating task while it is an
// embryo.
type Task struct {
	k *Kernel

	// mu is the task lock.
	mu sync.Spinlock

	// state is protected by mu.
	state TaskState

	// tid is protected by mu.
	tid ThreadID

	// channel is the wait channel of a sleeping task. It is protected by
	// mu.
	channel any

	// killed is protected by mu.
	killed bool

	// exitStatus is protected by mu.
	exitStatus int32

	// parent is protected by Kernel.waitLock.
	parent *Task

	// kstack is the physical frame of the kernel stack. Its top holds the
	// callee-saved context.
	kstack hostarch.PhysAddr

	// trapFrame is the physical frame holding the user register state.
	trapFrame hostarch.PhysAddr

	// kctx is the switchable context of the task goroutine. It is
	// protected by mu.
	kctx switchContext

	// cpu is the CPU the task is running on. It is written by the
	// scheduler before switching to the task, and read by the task
	// goroutine afterwards.
	cpu *CPU

	// The fields below are owned by the task.
	pageTables *pagetables.PageTables
	size       uint64
	name       string
	fdTable    *FDTable
	main       TaskMain
	io         usage.IO
}

var _ sync.Sleeper = (*Task)(nil)

// TID returns the task's ID.
func (t *Task) TID() ThreadID {
	return t.tid
}

// Name returns the task's name.
func (t *Task) Name() string {
	return t.name
}

// Size returns the size in bytes of the task's user address space.
func (t *Task) Size() uint64 {
	return t.size
}

// PageTables returns the task's address space.
func (t *Task) PageTables() *pagetables.PageTables {
	return t.pageTables
}

// Kernel returns the kernel the task belongs to.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// TrapFrame returns the task's saved user registers.
func (t *Task) TrapFrame() *arch.TrapFrame {
	return t.k.trapFrameAt(t.trapFrame)
}

// context returns the task's callee-saved context at the top of its kernel
// stack.
func (t *Task) context() *arch.Context {
	return t.k.contextAt(t.kstack)
}

// IOUsage returns a snapshot of the bytes the task has copied to and from
// user memory.
func (t *Task) IOUsage() usage.IO {
	return t.io.Snapshot()
}

// CPU implements sync.Sleeper.CPU.
func (t *Task) CPU() sync.CPU {
	return t.cpu
}

// PID implements sync.Sleeper.PID.
func (t *Task) PID() int32 {
	return int32(t.tid)
}

// setState moves t to state to. It panics if the transition is not
// permitted.
//
// Preconditions: t.mu is locked.
func (t *Task) setState(to TaskState) {
	from := t.state
	if !legalTransition(from, to) {
		panic(fmt.Sprintf("task %d (%s): illegal state transition %v -> %v", t.tid, t.name, from, to))
	}
	t.state = to
	if t.k.observer != nil {
		t.k.observer(t.tid, from, to)
	}
}

// setName sets t's name to the last path component of path, truncated to
// fit maxNameLen.
func (t *Task) setName(path string) {
	last := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			last = path[i+1:]
			break
		}
	}
	if len(last) > maxNameLen-1 {
		last = last[:maxNameLen-1]
	}
	t.name = last
}
