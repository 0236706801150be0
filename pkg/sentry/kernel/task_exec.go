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
	"gvisor.dev/armkern/pkg/cleanup"
	"gvisor.dev/armkern/pkg/errors/linuxerr"
	"gvisor.dev/armkern/pkg/hostarch"
	"gvisor.dev/armkern/pkg/log"
	"gvisor.dev/armkern/pkg/ring0/pagetables"
	"gvisor.dev/armkern/pkg/sentry/arch"
)

// MaxArgs is the maximum number of arguments accepted by Exec.
const MaxArgs = 32


// Segment is a loadable piece of an executable image.
type Segment struct {
	// Vaddr is the page-aligned user address the segment is loaded at.
	Vaddr uint64

	// Data is the initialized contents. The rest, up to Memsz, is zero.
	Data []byte

	// Memsz is the size of the segment in memory.
	Memsz uint64
}

// Image is an executable: its loadable segments, its entry address, and
// the program the task runs once the image is installed.
type Image struct {
	// Path names the executable. Its last component becomes the task name.
	Path string

	// Entry is the initial user program counter.
	Entry uint64

	Segments []Segment

	// Main is the program run after a successful Exec.
	Main TaskMain
}

// Exec replaces t's address space with a fresh one holding image and an
// initial stack built from argv, then runs image.Main and exits with its
// status.
//
// On success Exec does not return. On failure t's address space is
// untouched and every frame allocated for the new one is released.
func (t *Task) Exec(image *Image, argv []string) error {
	t.checkKilled()
	if len(argv) > MaxArgs {
		return linuxerr.E2BIG
	}
	if image.Main == nil {
		return linuxerr.ENOEXEC
	}

	pt, err := pagetables.New(t.k.mf)
	if err != nil {
		return err
	}
	cu := cleanup.Make(pt.Destroy)
	defer cu.Clean()

	var size uint64
	for _, seg := range image.Segments {
		end := seg.Vaddr + seg.Memsz
		switch {
		case seg.Memsz < uint64(len(seg.Data)):
			return linuxerr.ENOEXEC
		case end < seg.Vaddr || end > pagetables.MaxUserSize:
			return linuxerr.ENOEXEC
		case seg.Vaddr%hostarch.PageSize != 0:
			return linuxerr.ENOEXEC
		}
		if size, err = pt.Grow(size, end); err != nil {
			return err
		}
		if _, err := pt.CopyOut(hostarch.Addr(seg.Vaddr), seg.Data); err != nil {
			return linuxerr.ENOEXEC
		}
	}

	// Two pages for the stack, the lower one a guard.
	size = hostarch.PageRoundUp(size)
	if size, err = pt.Grow(size, size+2*hostarch.PageSize); err != nil {
		return err
	}
	pt.ClearUser(hostarch.Addr(size - 2*hostarch.PageSize))
	stack := arch.Stack{IO: pt, Bottom: hostarch.Addr(size)}
	sp, err := stack.Load(argv, arch.Auxv{{Key: arch.AT_PAGESZ, Value: hostarch.PageSize}})
	if err != nil {
		return linuxerr.E2BIG
	}
	cu.Release()

	old, oldSize := t.pageTables, t.size
	t.pageTables, t.size = pt, size
	tf := t.TrapFrame()
	tf.SetIP(image.Entry)
	tf.SetStack(uint64(sp))
	tf.Regs[1] = uint64(sp)
	tf.SetReturn(uint64(len(argv)))
	t.setName(image.Path)
	t.cpu.switchUVM(t)
	if old != nil {
		old.Shrink(oldSize, 0)
		old.Destroy()
	}
	log.Debugf("task %d exec %q: entry %#x sp %#x size %#x", t.tid, image.Path, image.Entry, uint64(sp), size)

	t.Exit(image.Main(t))
	panic("exec: Exit returned")
}
