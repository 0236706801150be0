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

package boot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"

	"gvisor.dev/armkern/pkg/hostarch"
	"gvisor.dev/armkern/pkg/log"
	"gvisor.dev/armkern/pkg/sentry/kernel"
	"gvisor.dev/armkern/pkg/sync"
)

// Exit statuses of a failed worker.
const (
	statusExecFailed  = 127
	statusNoMemory    = 126
	statusCorruptHeap = 125
	statusBadArgs     = 124
)

// Workload describes the demo program init runs: Workers tasks are forked
// and each execs the worker image. A worker grows its heap by HeapPages,
// then Rounds times increments a counter shared by all workers under a
// sleep lock, yielding inside the critical section.
type Workload struct {
	Workers   int
	Rounds    int
	HeapPages int
}

func (w Workload) validate() error {
	if w.Workers < 0 || w.Rounds < 0 || w.HeapPages < 0 {
		return fmt.Errorf("invalid workload %+v", w)
	}
	return nil
}

// Result is the outcome of a workload run.
type Result struct {
	// Statuses maps each reaped worker to its exit status.
	Statuses map[kernel.ThreadID]int32

	// Counter is the shared counter after every worker exited.
	Counter int

	// BootFreeFrames is the number of free frames once init is created.
	BootFreeFrames int

	// FreeFrames is the number of free frames after the run.
	FreeFrames int

	// Switches is the number of task switches made by each CPU.
	Switches []uint64
}

func newResult() *Result {
	return &Result{Statuses: make(map[kernel.ThreadID]int32)}
}

// expectedStatus is the exit status of a successful worker.
func expectedStatus(tid kernel.ThreadID) int32 {
	return int32(tid % 100)
}

// initScratch is where init stages console output, above initcode.
const initScratch = 0x800

// say writes a formatted message to t's standard output, staging it in
// user memory at va.
func say(t *kernel.Task, va hostarch.Addr, format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	if _, err := t.CopyOut(va, []byte(msg)); err != nil {
		log.Warningf("task %d: staging console output: %v", t.TID(), err)
		return
	}
	if _, err := t.Write(1, va, len(msg)); err != nil {
		log.Warningf("task %d: console write: %v", t.TID(), err)
	}
}

// idle blocks t forever.
func idle(t *kernel.Task) {
	var lk sync.Spinlock
	lk.Init("idle")
	lk.Acquire(t.CPU())
	t.Sleep(&lk, &lk)
}

// initMain returns init's program. It closes done once every worker has
// been reaped, then idles.
func (w Workload) initMain(res *Result, done chan<- struct{}) kernel.TaskMain {
	return func(init *kernel.Task) int32 {
		say(init, initScratch, "init: starting %d workers\n", w.Workers)

		var lock sync.SleepLock
		lock.Init("counter")
		image := w.workerImage(&lock, res)
		for i := 0; i < w.Workers; i++ {
			arg := strconv.Itoa(i)
			if _, err := init.Fork(func(t *kernel.Task) int32 {
				err := t.Exec(image, []string{image.Path, arg})
				say(t, initScratch, "worker %s: exec: %v\n", arg, err)
				return statusExecFailed
			}); err != nil {
				log.Warningf("init: fork of worker %d failed: %v", i, err)
				break
			}
		}

		for {
			tid, status, err := init.Wait()
			if err != nil {
				break
			}
			res.Statuses[tid] = status
		}
		say(init, initScratch, "init: reaped %d workers\n", len(res.Statuses))
		close(done)
		idle(init)
		return 0
	}
}

// workerImage returns the executable each worker runs.
func (w Workload) workerImage(lock *sync.SleepLock, res *Result) *kernel.Image {
	text := make([]byte, 64)
	for i := 0; i < len(text); i += 4 {
		// NOP.
		binary.LittleEndian.PutUint32(text[i:], 0xd503201f)
	}
	return &kernel.Image{
		Path:  "/bin/worker",
		Entry: 0,
		Segments: []kernel.Segment{
			{Vaddr: 0, Data: text, Memsz: uint64(len(text))},
			{Vaddr: hostarch.PageSize, Data: []byte("worker data"), Memsz: hostarch.PageSize + 512},
		},
		Main: func(t *kernel.Task) int32 {
			return w.worker(t, lock, res)
		},
	}
}

// worker is the program of the worker image.
func (w Workload) worker(t *kernel.Task, lock *sync.SleepLock, res *Result) int32 {
	tf := t.TrapFrame()
	sp := tf.Stack()
	scratch := hostarch.Addr(sp - 512)
	if tf.Return() != 2 {
		return statusBadArgs
	}
	var word [8]byte
	if _, err := t.CopyIn(word[:], hostarch.Addr(sp+16)); err != nil {
		return statusBadArgs
	}
	arg := make([]byte, 16)
	n, _ := t.CopyIn(arg, hostarch.Addr(binary.LittleEndian.Uint64(word[:])))
	if i := bytes.IndexByte(arg[:n], 0); i >= 0 {
		arg = arg[:i]
	}

	heapSize := w.HeapPages * hostarch.PageSize
	heap, err := t.Sbrk(int64(heapSize))
	if err != nil {
		say(t, scratch, "worker %s: sbrk: %v\n", arg, err)
		return statusNoMemory
	}
	pattern := bytes.Repeat([]byte{byte(t.TID())}, heapSize)
	if _, err := t.CopyOut(hostarch.Addr(heap), pattern); err != nil {
		return statusCorruptHeap
	}

	for r := 0; r < w.Rounds; r++ {
		lock.Acquire(t)
		v := res.Counter
		t.Yield()
		res.Counter = v + 1
		lock.Release(t)
		t.HandleTimer()
	}

	got := make([]byte, heapSize)
	if _, err := t.CopyIn(got, hostarch.Addr(heap)); err != nil || !bytes.Equal(got, pattern) {
		return statusCorruptHeap
	}
	say(t, scratch, "worker %s (task %d): done\n", arg, t.TID())
	return expectedStatus(t.TID())
}
