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

	"gvisor.dev/armkern/pkg/sync"
)

// Sleep atomically releases lk and blocks t on channel. lk is held again
// when Sleep returns, possibly on another CPU.
//
// Wait channels are compared with ==, so channel must hold a comparable
// value; pointers to the awaited object are conventional.
//
// Preconditions: lk is held and is not t's task lock.
func (t *Task) Sleep(channel any, lk *sync.Spinlock) {
	if lk == &t.mu {
		panic(fmt.Sprintf("sleep: task %d sleeping on its own lock", t.tid))
	}
	c := t.cpu
	// Holding the task lock across the release of lk means a Wakeup that
	// takes lk cannot run until t is marked asleep.
	t.mu.Acquire(c)
	lk.Release(c)

	t.channel = channel
	t.setState(Sleeping)
	t.sched()
	t.channel = nil

	c = t.cpu
	t.mu.Release(c)
	lk.Acquire(c)
}

// Wakeup implements sync.Sleeper.Wakeup.
func (t *Task) Wakeup(channel any) {
	t.k.wakeup(t.cpu, t, channel)
}

// wakeup makes every task sleeping on channel runnable, skipping self.
//
// Preconditions: c is the executing CPU and holds no task lock.
func (k *Kernel) wakeup(c *CPU, self *Task, channel any) {
	for _, t := range k.tasks {
		if t == self {
			continue
		}
		t.mu.Acquire(c)
		if t.state == Sleeping && t.channel == channel {
			t.setState(Runnable)
		}
		t.mu.Release(c)
	}
}
