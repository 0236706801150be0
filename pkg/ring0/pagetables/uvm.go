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

package pagetables

import (
	"fmt"

	"gvisor.dev/armkern/pkg/errors/linuxerr"
	"gvisor.dev/armkern/pkg/hostarch"
	"gvisor.dev/armkern/pkg/sentry/usage"
)

// userOpts are the options of pages created by Grow and LoadInit. Execute
// permission is implied by the absence of restriction.
var userOpts = MapOpts{AccessType: hostarch.AnyAccess, User: true}

// newDataFrame allocates a zero-filled user data frame.
func (p *PageTables) newDataFrame() (hostarch.PhysAddr, bool) {
	pa, ok := p.Allocator.AllocateFrame(usage.Anonymous)
	if !ok {
		return 0, false
	}
	clear(p.Allocator.FrameBytes(pa))
	return pa, true
}

// LoadInit maps one zeroed user page at address 0 and copies code into
// it. It is used only for the first process, and memory exhaustion here is
// fatal.
func (p *PageTables) LoadInit(code []byte) {
	if len(code) >= hostarch.PageSize {
		panic(fmt.Sprintf("LoadInit: %d bytes of initcode do not fit in a page", len(code)))
	}
	pa, ok := p.newDataFrame()
	if !ok {
		panic("LoadInit: out of memory")
	}
	if err := p.MapRegion(0, hostarch.PageSize, pa, userOpts); err != nil {
		panic(fmt.Sprintf("LoadInit: mapping initcode: %v", err))
	}
	copy(p.Allocator.FrameBytes(pa), code)
}

// Grow maps fresh zeroed user pages to extend the address space from
// oldSize to newSize bytes, and returns newSize. If newSize is not larger
// it returns oldSize. On failure every page and node allocated by this
// call is released and oldSize is returned with ENOMEM.
func (p *PageTables) Grow(oldSize, newSize uint64) (uint64, error) {
	if newSize <= oldSize {
		return oldSize, nil
	}
	if newSize > MaxUserSize {
		return oldSize, linuxerr.ENOMEM
	}
	for a := hostarch.PageRoundUp(oldSize); a < newSize; a += hostarch.PageSize {
		pa, ok := p.newDataFrame()
		if !ok {
			p.Shrink(a+hostarch.PageSize, oldSize)
			return oldSize, linuxerr.ENOMEM
		}
		if err := p.MapRegion(hostarch.Addr(a), hostarch.PageSize, pa, userOpts); err != nil {
			p.Allocator.FreeFrame(pa)
			// Nodes the failed walk allocated for a are pruned too.
			p.Shrink(a+hostarch.PageSize, oldSize)
			return oldSize, err
		}
	}
	return newSize, nil
}

// Shrink unmaps and frees the pages between newSize and oldSize, and
// returns newSize. If newSize is not smaller it returns oldSize.
func (p *PageTables) Shrink(oldSize, newSize uint64) uint64 {
	if newSize >= oldSize {
		return oldSize
	}
	start := hostarch.PageRoundUp(newSize)
	end := hostarch.PageRoundUp(oldSize)
	if start < end {
		p.Unmap(hostarch.Addr(start), end-start, true)
	}
	return newSize
}

// Copy returns a new address space holding a private copy of every mapped
// page below size, with the same options. Unmapped pages below size are
// left unmapped in the copy. On failure the partial copy is destroyed and
// ENOMEM is returned.
func (p *PageTables) Copy(size uint64) (*PageTables, error) {
	np, err := New(p.Allocator)
	if err != nil {
		return nil, err
	}
	ok := p.visitLeaves(0, size, func(va uint64, pte *PTE) bool {
		pa, ok := p.Allocator.AllocateFrame(usage.Anonymous)
		if !ok {
			return false
		}
		copy(p.Allocator.FrameBytes(pa), p.Allocator.FrameBytes(pte.Address()))
		if np.MapRegion(hostarch.Addr(va), hostarch.PageSize, pa, pte.Opts()) != nil {
			p.Allocator.FreeFrame(pa)
			return false
		}
		return true
	})
	if !ok {
		np.Destroy()
		return nil, linuxerr.ENOMEM
	}
	return np, nil
}

// ClearUser revokes user access to the page at va. It is used for the
// guard page below a user stack.
//
// Precondition: va is mapped.
func (p *PageTables) ClearUser(va hostarch.Addr) {
	pte := p.Walk(va, false)
	if pte == nil || !pte.Valid() {
		panic(fmt.Sprintf("ClearUser: %v is not mapped", va))
	}
	pte.clearUser()
}

// MappedPages returns the number of valid leaves below size.
func (p *PageTables) MappedPages(size uint64) int {
	n := 0
	p.visitLeaves(0, size, func(uint64, *PTE) bool {
		n++
		return true
	})
	return n
}

// userFrame returns the bytes of the user page containing va, starting at
// va.
func (p *PageTables) userFrame(va hostarch.Addr) ([]byte, bool) {
	pte := p.Walk(va, false)
	if pte == nil || !pte.Valid() || !pte.Opts().User {
		return nil, false
	}
	return p.Allocator.FrameBytes(pte.Address())[va.PageOffset():], true
}

// CopyOut copies src to user memory at va, page by page. It returns the
// number of bytes copied and EFAULT if a page is unmapped or not user
// accessible, in which case the pages before it have been written.
func (p *PageTables) CopyOut(va hostarch.Addr, src []byte) (int, error) {
	done := 0
	for done < len(src) {
		b, ok := p.userFrame(va + hostarch.Addr(done))
		if !ok {
			return done, linuxerr.EFAULT
		}
		done += copy(b, src[done:])
	}
	return done, nil
}

// CopyIn copies user memory at va into dst, with the same failure
// semantics as CopyOut.
func (p *PageTables) CopyIn(dst []byte, va hostarch.Addr) (int, error) {
	done := 0
	for done < len(dst) {
		b, ok := p.userFrame(va + hostarch.Addr(done))
		if !ok {
			return done, linuxerr.EFAULT
		}
		done += copy(dst[done:], b)
	}
	return done, nil
}
