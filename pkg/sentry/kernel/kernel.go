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

// Package kernel is the process core of a simulated multiprocessor AArch64
// machine: the task table, the per-CPU schedulers, and the system calls
// that create, block, and reap tasks.
//
// Lock order:
//
//	Kernel.waitLock
//	  Task.mu
//	    Kernel.pidLock
//
// Spinlocks are held by CPUs, not goroutines: a lock acquired by a
// scheduler before switching to a task is released by that task, and vice
// versa.
package kernel

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gvisor.dev/armkern/pkg/hostarch"
	"gvisor.dev/armkern/pkg/log"
	"gvisor.dev/armkern/pkg/ring0/pagetables"
	"gvisor.dev/armkern/pkg/sentry/arch"
	"gvisor.dev/armkern/pkg/sentry/pgalloc"
	"gvisor.dev/armkern/pkg/sentry/usage"
	"gvisor.dev/armkern/pkg/sync"
)

// Defaults for InitKernelArgs.
const (
	DefaultMaxTasks      = 64
	DefaultTimerInterval = 10 * time.Millisecond
	DefaultIdleMin       = 50 * time.Microsecond
	DefaultIdleMax       = 5 * time.Millisecond
)

// MaxCPUs is the largest supported number of CPUs.
const MaxCPUs = 8

// InitKernelArgs holds arguments to Init.
type InitKernelArgs struct {
	// MemoryFile is the physical memory of the machine.
	MemoryFile *pgalloc.MemoryFile

	// CPUs is the number of CPUs. It must be in [1, MaxCPUs].
	CPUs int

	// MaxTasks is the capacity of the task table. If zero,
	// DefaultMaxTasks is used.
	MaxTasks int

	// TimerInterval is the period of each CPU's timer. If zero,
	// DefaultTimerInterval is used.
	TimerInterval time.Duration

	// IdleMin and IdleMax bound the backoff of an idle CPU. If zero, the
	// defaults are used.
	IdleMin time.Duration
	IdleMax time.Duration

	// Observer, if not nil, is called on every task state transition with
	// the task lock held. It must not call into the kernel.
	Observer func(tid ThreadID, from, to TaskState)
}

// Kernel represents an emulated multiprocessor machine's process core.
type Kernel struct {
	mf    *pgalloc.MemoryFile
	cpus  []*CPU
	tasks []*Task

	// waitLock serializes parent/child relationships, so that wakeups of
	// parents in Wait are not lost. It also protects every Task.parent.
	waitLock sync.Spinlock

	// pidLock protects nextTID.
	pidLock sync.Spinlock
	nextTID ThreadID

	// initTask is the first task. It is set once by UserInit.
	initTask *Task

	timerInterval time.Duration
	idleMin       time.Duration
	idleMax       time.Duration
	observer      func(tid ThreadID, from, to TaskState)

	// limitedLog reports resource exhaustion, which a busy workload can
	// hit in a tight loop.
	limitedLog log.Logger

	// running is set by Run.
	running atomic.Bool

	// halted is closed when Run returns. Task goroutines still parked then
	// exit.
	halted chan struct{}
}

// Init initializes the Kernel with no tasks.
func (k *Kernel) Init(args InitKernelArgs) error {
	if args.MemoryFile == nil {
		return fmt.Errorf("MemoryFile is nil")
	}
	if args.CPUs < 1 || args.CPUs > MaxCPUs {
		return fmt.Errorf("CPUs is %d, must be in [1, %d]", args.CPUs, MaxCPUs)
	}
	if args.MaxTasks < 0 {
		return fmt.Errorf("MaxTasks is negative")
	}
	if args.MaxTasks == 0 {
		args.MaxTasks = DefaultMaxTasks
	}
	if args.TimerInterval == 0 {
		args.TimerInterval = DefaultTimerInterval
	}
	if args.IdleMin == 0 {
		args.IdleMin = DefaultIdleMin
	}
	if args.IdleMax == 0 {
		args.IdleMax = DefaultIdleMax
	}
	if args.IdleMax < args.IdleMin {
		return fmt.Errorf("IdleMax %v is less than IdleMin %v", args.IdleMax, args.IdleMin)
	}

	k.mf = args.MemoryFile
	k.timerInterval = args.TimerInterval
	k.idleMin = args.IdleMin
	k.idleMax = args.IdleMax
	k.observer = args.Observer
	k.limitedLog = log.BasicRateLimitedLogger(time.Second)
	k.halted = make(chan struct{})
	k.waitLock.Init("wait")
	k.pidLock.Init("nextpid")
	k.nextTID = InitTID

	k.cpus = make([]*CPU, args.CPUs)
	for i := range k.cpus {
		k.cpus[i] = newCPU(k, i)
	}
	k.tasks = make([]*Task, args.MaxTasks)
	for i := range k.tasks {
		t := &Task{k: k}
		t.mu.Init("task")
		k.tasks[i] = t
	}
	log.Infof("Kernel initialized: %d CPUs, %d task slots, %d frames", args.CPUs, args.MaxTasks, k.mf.TotalFrames())
	return nil
}

// MemoryFile returns the machine's physical memory.
func (k *Kernel) MemoryFile() *pgalloc.MemoryFile {
	return k.mf
}

// CPUs returns the machine's CPUs.
func (k *Kernel) CPUs() []*CPU {
	return k.cpus
}

// bootCPU returns the CPU that runs boot code before the schedulers start.
func (k *Kernel) bootCPU() *CPU {
	if k.running.Load() {
		panic("boot code called after Run")
	}
	return k.cpus[0]
}

// UserInit creates the first task. It maps initcode at user address 0 in
// a one-page address space and makes the task runnable with main as its
// program. console, if not nil, is installed as descriptors 0, 1 and 2.
//
// UserInit must be called exactly once, before Run. Failure is fatal.
func (k *Kernel) UserInit(initcode []byte, main TaskMain, console *File) *Task {
	c := k.bootCPU()
	if k.initTask != nil {
		panic("UserInit called twice")
	}
	t, err := k.allocTask(c)
	if err != nil {
		panic(fmt.Sprintf("UserInit: %v", err))
	}
	k.initTask = t

	pt, err := pagetables.New(k.mf)
	if err != nil {
		panic(fmt.Sprintf("UserInit: %v", err))
	}
	pt.LoadInit(initcode)
	t.pageTables = pt
	t.size = hostarch.PageSize

	tf := t.TrapFrame()
	*tf = arch.TrapFrame{}
	tf.SetIP(0)
	tf.SetStack(hostarch.PageSize)
	tf.SPSR_EL1 = arch.PsrModeEL0t

	t.fdTable = NewFDTable()
	if console != nil {
		for fd := int32(0); fd < 3; fd++ {
			if _, err := t.fdTable.NewFD(fd, console); err != nil {
				panic(fmt.Sprintf("UserInit: installing console: %v", err))
			}
		}
	}
	t.name = "initproc"
	t.main = main
	t.setState(Runnable)
	t.mu.Release(c)
	log.Infof("init task %d created", t.tid)
	return t
}

// Run starts every CPU's scheduler and timer and blocks until ctx is
// cancelled and every CPU has returned to its scheduler. Tasks that are
// still alive when Run returns never run again.
//
// A task that neither blocks, yields nor reaches a trap boundary keeps its
// CPU, and Run waits for it.
func (k *Kernel) Run(ctx context.Context) error {
	if k.initTask == nil {
		return fmt.Errorf("no init task")
	}
	if !k.running.CompareAndSwap(false, true) {
		return fmt.Errorf("kernel already running")
	}
	defer close(k.halted)

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range k.cpus {
		g.Go(func() error {
			return c.schedule(ctx)
		})
		g.Go(func() error {
			return c.tickLoop(ctx, k.timerInterval)
		})
	}
	err := g.Wait()
	log.Infof("Kernel halted")
	return err
}

// TaskInfo describes one task table slot.
type TaskInfo struct {
	TID    ThreadID
	Parent ThreadID
	State  TaskState
	Name   string
	Size   uint64
	Killed bool
	IO     usage.IO
}

// Tasks returns a description of every task slot that is in use. It must
// not be called while Run is executing.
func (k *Kernel) Tasks() []TaskInfo {
	if k.running.Load() {
		select {
		case <-k.halted:
		default:
			panic("Tasks called while the kernel is running")
		}
	}
	var infos []TaskInfo
	for _, t := range k.tasks {
		if t.state == Unused {
			continue
		}
		info := TaskInfo{
			TID:    t.tid,
			State:  t.state,
			Name:   t.name,
			Size:   t.size,
			Killed: t.killed,
			IO:     t.io.Snapshot(),
		}
		if t.parent != nil {
			info.Parent = t.parent.tid
		}
		infos = append(infos, info)
	}
	return infos
}
