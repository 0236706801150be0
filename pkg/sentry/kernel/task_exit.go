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
	"fmt"

	"gvisor.dev/armkern/pkg/errors/linuxerr"
	"gvisor.dev/armkern/pkg/log"
	"gvisor.dev/armkern/pkg/sentry/usage"
)

// Exit terminates t with the given status. t stays a zombie until its
// parent reaps it with Wait. Exit does not return.
func (t *Task) Exit(status int32) {
	k := t.k
	if t == k.initTask {
		panic(fmt.Sprintf("init exiting with status %d", status))
	}

	if t.fdTable != nil {
		t.fdTable.DecRef()
		t.fdTable = nil
	}

	c := t.cpu
	k.waitLock.Acquire(c)
	k.reparent(c, t)
	// The parent may be sleeping in Wait.
	k.wakeup(c, t, t.parent)

	t.mu.Acquire(c)
	t.exitStatus = status
	t.setState(Zombie)
	log.Debugf("task %d (%s) exited with status %d", t.tid, t.name, status)
	k.waitLock.Release(c)

	t.sched()
	panic("zombie exit")
}

// reparent hands the children of t to the init task.
//
// Preconditions: k.waitLock is held.
func (k *Kernel) reparent(c *CPU, t *Task) {
	for _, child := range k.tasks {
		if child.parent != t {
			continue
		}
		child.parent = k.initTask
		log.Debugf("task %d reparented from %d to init", child.tid, t.tid)
		k.wakeup(c, nil, k.initTask)
	}
}

// Wait blocks until a child of t exits, reaps it, and returns its TID and
// exit status. It returns ECHILD if t has no children or is killed.
func (t *Task) Wait() (ThreadID, int32, error) {
	k := t.k
	k.waitLock.Acquire(t.cpu)
	for {
		c := t.cpu
		haveKids := false
		for _, child := range k.tasks {
			if child.parent != t {
				continue
			}
			// The child lock ensures the child is done in Exit.
			child.mu.Acquire(c)
			haveKids = true
			if child.state == Zombie {
				tid, status := child.tid, child.exitStatus
				k.freeTask(child)
				child.mu.Release(c)
				k.waitLock.Release(c)
				return tid, status, nil
			}
			child.mu.Release(c)
		}

		if !haveKids || t.Killed() {
			k.waitLock.Release(c)
			return 0, 0, linuxerr.ECHILD
		}
		t.Sleep(t, &k.waitLock)
	}
}

// Kill marks the task with the given TID killed. A sleeping target is made
// runnable so that it notices at its next trap boundary.
func (t *Task) Kill(tid ThreadID) error {
	return t.k.kill(t.cpu, tid)
}

func (k *Kernel) kill(c *CPU, tid ThreadID) error {
	for _, t := range k.tasks {
		t.mu.Acquire(c)
		if t.state != Unused && t.tid == tid {
			t.killed = true
			if t.state == Sleeping {
				t.setState(Runnable)
			}
			t.mu.Release(c)
			log.Infof("task %d killed", tid)
			return nil
		}
		t.mu.Release(c)
	}
	return linuxerr.ESRCH
}

// freeTask releases the resources of an embryo or zombie t and returns its
// slot to Unused.
//
// Preconditions: t.mu is locked. If t is a zombie, k.waitLock is locked.
func (k *Kernel) freeTask(t *Task) {
	if t.trapFrame != 0 {
		k.mf.FreeFrame(t.trapFrame)
		t.trapFrame = 0
	}
	if t.pageTables != nil {
		t.pageTables.Shrink(t.size, 0)
		t.pageTables.Destroy()
		t.pageTables = nil
	}
	if t.kstack != 0 {
		k.mf.FreeFrame(t.kstack)
		t.kstack = 0
	}
	if t.fdTable != nil {
		t.fdTable.DecRef()
		t.fdTable = nil
	}
	t.setState(Unused)
	t.size = 0
	t.tid = 0
	t.parent = nil
	t.name = ""
	t.channel = nil
	t.killed = false
	t.exitStatus = 0
	t.main = nil
	t.cpu = nil
	t.io = usage.IO{}
	t.kctx = switchContext{}
}
