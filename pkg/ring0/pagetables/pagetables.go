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

// Package pagetables builds and mutates AArch64 stage 1 translation tables
// stored in simulated physical memory.
package pagetables

import (
	"fmt"

	"gvisor.dev/armkern/pkg/errors/linuxerr"
	"gvisor.dev/armkern/pkg/hostarch"
	"gvisor.dev/armkern/pkg/sentry/usage"
)

// Allocator is the physical frame pool used for nodes and data pages.
type Allocator interface {
	// AllocateFrame returns a frame tagged with kind, with unspecified
	// contents, or false if memory is exhausted.
	AllocateFrame(kind usage.MemoryKind) (hostarch.PhysAddr, bool)

	// FreeFrame returns a frame to the pool.
	FreeFrame(pa hostarch.PhysAddr)

	// FrameBytes returns the contents of an allocated frame.
	FrameBytes(pa hostarch.PhysAddr) []byte
}

// PageTables is a 4-level translation table tree. The root and every node
// below it are owned by the tree; every valid leaf owns the frame it maps
// unless the mapping was installed with MapRegion over memory the caller
// keeps ownership of, in which case it must be removed with Unmap before
// Destroy.
//
// PageTables is not safe for concurrent mutation. It is mutated only by
// the task that owns it, or by a parent acting on a child that no CPU can
// run yet.
type PageTables struct {
	// Allocator is used to allocate nodes and data pages.
	Allocator Allocator

	// root is the physical address of the level 0 node.
	root hostarch.PhysAddr
}

// New returns a new, empty address space. It returns ENOMEM if the root
// cannot be allocated.
func New(a Allocator) (*PageTables, error) {
	p := &PageTables{Allocator: a}
	root, ok := p.newNode()
	if !ok {
		return nil, linuxerr.ENOMEM
	}
	p.root = root
	return p, nil
}

// Root returns the value to be installed in TTBR0_EL1.
func (p *PageTables) Root() hostarch.PhysAddr {
	return p.root
}

// newNode allocates a zero-filled node.
func (p *PageTables) newNode() (hostarch.PhysAddr, bool) {
	pa, ok := p.Allocator.AllocateFrame(usage.PageTable)
	if !ok {
		return 0, false
	}
	clear(p.Allocator.FrameBytes(pa))
	return pa, true
}

// Walk returns the level 3 descriptor for va, which need not be valid. If
// a node on the way is missing it is allocated when alloc is set, and Walk
// returns nil otherwise or if allocation fails. Non-canonical addresses
// yield nil.
func (p *PageTables) Walk(va hostarch.Addr, alloc bool) *PTE {
	if !va.IsCanonical() {
		return nil
	}
	node := p.ptes(p.root)
	for level := 0; level < levels-1; level++ {
		entry := &node[index(uint64(va), level)]
		if !entry.Valid() {
			if !alloc {
				return nil
			}
			pa, ok := p.newNode()
			if !ok {
				return nil
			}
			entry.setPageTable(pa)
		}
		node = p.ptes(entry.Address())
	}
	return &node[index(uint64(va), levels-1)]
}

// MapRegion maps every page of [va, va+size) to the corresponding page of
// physical memory starting at pa. va and pa need not be aligned; each is
// truncated to its page, and every page the range touches is mapped. On
// ENOMEM the pages mapped before the failure stay mapped.
//
// Precondition: no page of the range is already mapped.
func (p *PageTables) MapRegion(va hostarch.Addr, size uint64, pa hostarch.PhysAddr, opts MapOpts) error {
	if size == 0 {
		return nil
	}
	start := va.RoundDown()
	end := hostarch.PageRoundUp(uint64(va) + size)
	phys := pa &^ (hostarch.PageSize - 1)
	for off := uint64(0); off < end-uint64(start); off += hostarch.PageSize {
		pte := p.Walk(start+hostarch.Addr(off), true)
		if pte == nil {
			if !(start + hostarch.Addr(off)).IsCanonical() {
				return linuxerr.EFAULT
			}
			return linuxerr.ENOMEM
		}
		if pte.Valid() {
			panic(fmt.Sprintf("remap of %v: already %v", start+hostarch.Addr(off), pte))
		}
		pte.Set(phys+hostarch.PhysAddr(off), opts)
	}
	return nil
}

// Unmap clears every mapping in [va, va+size) and frees nodes that become
// empty, except the root. If free is set, the mapped frames are returned
// to the allocator as well. It returns the number of pages unmapped.
func (p *PageTables) Unmap(va hostarch.Addr, size uint64, free bool) int {
	start := uint64(va.RoundDown())
	end := hostarch.PageRoundUp(uint64(va) + size)
	if end <= start {
		return 0
	}
	n := 0
	p.pruneRange(p.root, 0, start, end, func(_ uint64, pte *PTE) {
		if free {
			p.Allocator.FreeFrame(pte.Address())
		}
		pte.Clear()
		n++
	})
	return n
}

// Translate returns the physical address and options va is mapped with.
func (p *PageTables) Translate(va hostarch.Addr) (hostarch.PhysAddr, MapOpts, bool) {
	pte := p.Walk(va, false)
	if pte == nil || !pte.Valid() {
		return 0, MapOpts{}, false
	}
	return pte.Address() + hostarch.PhysAddr(va.PageOffset()), pte.Opts(), true
}

// Destroy frees every node and every mapped frame, then the root. p must
// not be used afterwards.
func (p *PageTables) Destroy() {
	if uint64(p.root)&flagsMask != 0 {
		panic(fmt.Sprintf("Destroy: invalid root %#x", uint64(p.root)))
	}
	p.freeNode(p.root, 0)
	p.root = 0
}

// freeNode frees the node at pa, which lives at the given level, and
// everything below it. Recursion is bounded by the tree depth.
func (p *PageTables) freeNode(pa hostarch.PhysAddr, level int) {
	node := p.ptes(pa)
	for i := range node {
		if !node[i].Valid() {
			continue
		}
		if level == levels-1 {
			p.Allocator.FreeFrame(node[i].Address())
		} else {
			p.freeNode(node[i].Address(), level+1)
		}
	}
	p.Allocator.FreeFrame(pa)
}
