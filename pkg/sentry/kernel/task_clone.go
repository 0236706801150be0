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
	"gvisor.dev/armkern/pkg/cleanup"
	"gvisor.dev/armkern/pkg/errors/linuxerr"
	"gvisor.dev/armkern/pkg/log"
	"gvisor.dev/armkern/pkg/sentry/usage"
)

// allocTask claims an Unused slot, assigns it a fresh TID and gives it a
// kernel stack and a trap frame. The new task's context is set to enter
// forkret. It returns with the task in Embryo and its lock held.
//
// It returns EAGAIN if the table is full and ENOMEM if frames run out; in
// either case nothing is left allocated.
func (k *Kernel) allocTask(c *CPU) (*Task, error) {
	var t *Task
	for _, slot := range k.tasks {
		slot.mu.Acquire(c)
		if slot.state == Unused {
			t = slot
			break
		}
		slot.mu.Release(c)
	}
	if t == nil {
		k.limitedLog.Warningf("task table full (%d tasks)", len(k.tasks))
		return nil, linuxerr.EAGAIN
	}

	t.tid = k.allocTID(c)
	t.setState(Embryo)
	cu := cleanup.Make(func() {
		k.freeTask(t)
		t.mu.Release(c)
	})
	defer cu.Clean()

	kstack, ok := k.mf.AllocateFrame(usage.KernelStack)
	if !ok {
		k.limitedLog.Warningf("out of memory allocating a kernel stack")
		return nil, linuxerr.ENOMEM
	}
	t.kstack = kstack
	clear(k.mf.FrameBytes(kstack))

	tf, ok := k.mf.AllocateFrame(usage.TrapFrame)
	if !ok {
		k.limitedLog.Warningf("out of memory allocating a trap frame")
		return nil, linuxerr.ENOMEM
	}
	t.trapFrame = tf
	clear(k.mf.FrameBytes(tf))

	t.kctx.reset(t, t.context(), forkretPC)
	cu.Release()
	return t, nil
}

// allocTID returns the next task ID.
func (k *Kernel) allocTID(c *CPU) ThreadID {
	k.pidLock.Acquire(c)
	tid := k.nextTID
	k.nextTID++
	k.pidLock.Release(c)
	return tid
}

// Fork creates a child of t running childMain. The child gets a copy of
// t's address space and registers, with a zero return value, and shares
// t's open files. Fork returns the child's TID, which is also t's
// return value register.
func (t *Task) Fork(childMain TaskMain) (ThreadID, error) {
	t.checkKilled()
	k := t.k
	c := t.cpu

	nt, err := k.allocTask(c)
	if err != nil {
		return -1, err
	}
	pt, err := t.pageTables.Copy(t.size)
	if err != nil {
		k.limitedLog.Warningf("fork: out of memory copying %d bytes for task %d", t.size, t.tid)
		k.freeTask(nt)
		nt.mu.Release(c)
		return -1, err
	}
	nt.pageTables = pt
	nt.size = t.size
	*nt.TrapFrame() = *t.TrapFrame()
	nt.TrapFrame().SetReturn(0)
	if t.fdTable != nil {
		nt.fdTable = t.fdTable.Fork()
	}
	nt.name = t.name
	nt.main = childMain
	tid := nt.tid
	nt.mu.Release(c)

	k.waitLock.Acquire(c)
	nt.parent = t
	k.waitLock.Release(c)

	nt.mu.Acquire(c)
	nt.setState(Runnable)
	nt.mu.Release(c)

	log.Debugf("task %d forked task %d", t.tid, tid)
	t.TrapFrame().SetReturn(uint64(tid))
	return tid, nil
}
