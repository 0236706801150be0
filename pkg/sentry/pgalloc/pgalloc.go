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

// Package pgalloc contains the physical frame pool of the simulated machine.
//
// Physical memory is a host memory file mapped into the simulator. Frame n
// lives at physical address hostarch.PhysBase + n*PageSize and at byte
// offset n*PageSize in the mapping.
package pgalloc

import (
	"fmt"
	"os"

	"github.com/google/btree"
	"golang.org/x/sys/unix"
	"gvisor.dev/armkern/pkg/hostarch"
	"gvisor.dev/armkern/pkg/log"
	"gvisor.dev/armkern/pkg/sentry/usage"
	"gvisor.dev/armkern/pkg/sync"
)

// junk is the byte written over every freed frame so that stale
// references read obviously wrong values.
const junk = 1

// btreeDegree is the degree of the free frame set.
const btreeDegree = 16

// Frame is the index of a physical frame.
type Frame uint64

// PhysAddr returns the physical address of the first byte of f.
func (f Frame) PhysAddr() hostarch.PhysAddr {
	return hostarch.PhysBase + hostarch.PhysAddr(f)<<hostarch.PageShift
}

// frameState is the owner tag of one frame.
type frameState struct {
	allocated bool
	kind      usage.MemoryKind
}

// MemoryFileOpts provides options to NewMemoryFile.
type MemoryFileOpts struct {
	// Frames is the number of physical frames. It must be positive.
	Frames int

	// Name names the backing memfd, for debugging.
	Name string

	// DisableMemfd backs memory with an anonymous private mapping instead
	// of a memfd.
	DisableMemfd bool
}

// MemoryFile is the physical frame pool. All methods are safe for
// concurrent use. The pool lock is a host mutex: the pool is used during
// boot and by checks that run outside any simulated CPU, and no caller
// ever blocks while holding it.
type MemoryFile struct {
	opts MemoryFileOpts

	// file is the backing memfd, or nil for anonymous memory.
	file *os.File

	// mapping is all of physical memory. It is immutable after
	// construction.
	mapping []byte

	// mu protects the fields below.
	mu sync.Mutex

	// free holds every unallocated frame. Allocation takes the lowest.
	free *btree.BTreeG[Frame]

	// frames is the owner tag of each frame, indexed by Frame.
	frames []frameState

	usage usage.MemoryLocked
}

// NewMemoryFile creates a MemoryFile with opts.Frames frames, all free and
// filled with junk.
func NewMemoryFile(opts MemoryFileOpts) (*MemoryFile, error) {
	if opts.Frames <= 0 {
		return nil, fmt.Errorf("invalid frame count %d", opts.Frames)
	}
	if opts.Name == "" {
		opts.Name = "armkern-memory"
	}
	size := opts.Frames * hostarch.PageSize

	f := &MemoryFile{
		opts:   opts,
		free:   btree.NewG(btreeDegree, func(a, b Frame) bool { return a < b }),
		frames: make([]frameState, opts.Frames),
	}
	if err := f.mapMemory(size); err != nil {
		return nil, err
	}
	for i := 0; i < opts.Frames; i++ {
		fillJunk(f.frameBytes(Frame(i)))
		f.free.ReplaceOrInsert(Frame(i))
	}
	log.Infof("Physical memory: %d frames at %v-%v (memfd: %t)", opts.Frames, hostarch.PhysBase, Frame(opts.Frames).PhysAddr(), f.file != nil)
	return f, nil
}

func (f *MemoryFile) mapMemory(size int) error {
	if !f.opts.DisableMemfd {
		fd, err := unix.MemfdCreate(f.opts.Name, unix.MFD_CLOEXEC)
		if err == nil {
			file := os.NewFile(uintptr(fd), f.opts.Name)
			if err := file.Truncate(int64(size)); err != nil {
				file.Close()
				return fmt.Errorf("error truncating memory file: %v", err)
			}
			m, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
			if err != nil {
				file.Close()
				return fmt.Errorf("error mapping memory file: %v", err)
			}
			f.file, f.mapping = file, m
			return nil
		}
		log.Warningf("memfd_create failed, falling back to anonymous memory: %v", err)
	}
	m, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return fmt.Errorf("error mapping anonymous memory: %v", err)
	}
	f.mapping = m
	return nil
}

// Destroy releases the host resources backing f. f must not be used
// afterwards.
func (f *MemoryFile) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mapping != nil {
		if err := unix.Munmap(f.mapping); err != nil {
			log.Warningf("Failed to unmap physical memory: %v", err)
		}
		f.mapping = nil
	}
	if f.file != nil {
		f.file.Close()
		f.file = nil
	}
}

// TotalFrames returns the number of frames in the pool.
func (f *MemoryFile) TotalFrames() int {
	return f.opts.Frames
}

// FreeFrames returns the number of unallocated frames.
func (f *MemoryFile) FreeFrames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.free.Len()
}

// AllocateFrame takes the lowest free frame and tags it with kind. The
// frame's contents are unspecified. ok is false if the pool is empty.
func (f *MemoryFile) AllocateFrame(kind usage.MemoryKind) (pa hostarch.PhysAddr, ok bool) {
	if !kind.Valid() {
		panic(fmt.Sprintf("AllocateFrame: invalid kind %v", kind))
	}
	f.mu.Lock()
	fr, ok := f.free.DeleteMin()
	if ok {
		f.frames[fr] = frameState{allocated: true, kind: kind}
	}
	f.mu.Unlock()
	if !ok {
		return 0, false
	}
	f.usage.Inc(1, kind)
	return fr.PhysAddr(), true
}

// FreeFrame returns the frame at pa to the pool and fills it with junk.
//
// Precondition: the caller owns the frame and does not use it again.
func (f *MemoryFile) FreeFrame(pa hostarch.PhysAddr) {
	fr := f.frameOf(pa)
	f.mu.Lock()
	st := f.frames[fr]
	if !st.allocated {
		f.mu.Unlock()
		panic(fmt.Sprintf("FreeFrame: %v is already free", pa))
	}
	f.frames[fr] = frameState{}
	fillJunk(f.frameBytes(fr))
	f.free.ReplaceOrInsert(fr)
	f.mu.Unlock()
	f.usage.Dec(1, st.kind)
}

// FrameBytes returns the contents of the allocated frame at pa.
func (f *MemoryFile) FrameBytes(pa hostarch.PhysAddr) []byte {
	fr := f.frameOf(pa)
	f.mu.Lock()
	allocated := f.frames[fr].allocated
	f.mu.Unlock()
	if !allocated {
		panic(fmt.Sprintf("FrameBytes: %v is not allocated", pa))
	}
	return f.frameBytes(fr)
}

// Kind returns the owner tag of the frame at pa. ok is false if the frame
// is free.
func (f *MemoryFile) Kind(pa hostarch.PhysAddr) (kind usage.MemoryKind, ok bool) {
	fr := f.frameOf(pa)
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.frames[fr]
	return st.kind, st.allocated
}

// Usage returns the number of allocated frames per kind, and their total.
func (f *MemoryFile) Usage() (usage.MemoryStats, uint64) {
	return f.usage.Copy()
}

// CheckFreeList verifies that every free frame is in range, untagged and
// still filled with junk, and that the free set and owner tags agree.
func (f *MemoryFile) CheckFreeList() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	free := 0
	f.free.Ascend(func(fr Frame) bool {
		switch {
		case int(fr) >= len(f.frames):
			err = fmt.Errorf("free frame %d out of range", fr)
		case f.frames[fr].allocated:
			err = fmt.Errorf("free frame %v is tagged %v", fr.PhysAddr(), f.frames[fr].kind)
		case !isJunk(f.frameBytes(fr)):
			err = fmt.Errorf("free frame %v was written after it was freed", fr.PhysAddr())
		}
		free++
		return err == nil
	})
	if err != nil {
		return err
	}
	_, allocated := f.usage.Copy()
	if uint64(free)+allocated != uint64(len(f.frames)) {
		return fmt.Errorf("%d free + %d allocated frames != %d total", free, allocated, len(f.frames))
	}
	return nil
}

func (f *MemoryFile) frameOf(pa hostarch.PhysAddr) Frame {
	if !pa.IsPageAligned() || pa < hostarch.PhysBase {
		panic(fmt.Sprintf("invalid frame address %v", pa))
	}
	fr := Frame((pa - hostarch.PhysBase) >> hostarch.PageShift)
	if int(fr) >= len(f.frames) {
		panic(fmt.Sprintf("frame address %v beyond end of memory", pa))
	}
	return fr
}

func (f *MemoryFile) frameBytes(fr Frame) []byte {
	off := int(fr) * hostarch.PageSize
	return f.mapping[off : off+hostarch.PageSize : off+hostarch.PageSize]
}

func fillJunk(b []byte) {
	for i := range b {
		b[i] = junk
	}
}

func isJunk(b []byte) bool {
	for _, c := range b {
		if c != junk {
			return false
		}
	}
	return true
}
