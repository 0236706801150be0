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

// Package hostarch describes the simulated AArch64 machine: page geometry,
// virtual and physical address types and access permissions.
package hostarch

import "fmt"

const (
	// PageShift is the binary log of the page size. Only the 4K granule is
	// supported.
	PageShift = 12

	// PageSize is the machine page size.
	PageSize = 1 << PageShift

	// HugePageShift is the binary log of a level 2 block size.
	HugePageShift = 21

	// HugePageSize is the size of a level 2 block.
	HugePageSize = 1 << HugePageShift

	// VABits is the number of significant virtual address bits. The
	// remaining high bits must be a sign extension of bit 47.
	VABits = 48

	// PhysBase is the physical address of the first frame of DRAM, as on
	// the QEMU virt board.
	PhysBase PhysAddr = 0x40000000
)

// Addr represents a virtual address.
type Addr uintptr

// String implements fmt.Stringer.String.
func (v Addr) String() string {
	return fmt.Sprintf("%#x", uintptr(v))
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (v Addr) RoundDown() Addr {
	return v & ^Addr(PageSize-1)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	addr = Addr(v + PageSize - 1).RoundDown()
	ok = addr >= v
	return
}

// MustRoundUp is equivalent to RoundUp, but panics if rounding up wraps
// around.
func (v Addr) MustRoundUp() Addr {
	addr, ok := v.RoundUp()
	if !ok {
		panic(fmt.Sprintf("hostarch.Addr(%#x).RoundUp() wraps", v))
	}
	return addr
}

// PageOffset returns the offset of v into the current page.
func (v Addr) PageOffset() uint64 {
	return uint64(v & Addr(PageSize-1))
}

// IsPageAligned returns true if v.PageOffset() == 0.
func (v Addr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// AddLength adds the given length to start and returns the result. ok is true
// iff adding the length did not overflow.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	// The second half of the following check is needed in case uintptr is
	// smaller than 64 bits.
	ok = end >= v && length <= uint64(^Addr(0))
	return
}

// IsCanonical returns true if the bits above VABits are a valid sign
// extension, i.e. all zero or all one.
func (v Addr) IsCanonical() bool {
	top := uint64(v) >> VABits
	return top == 0 || top == 0xffff
}

// PageRoundDown rounds a byte count down to a page multiple.
func PageRoundDown(x uint64) uint64 {
	return x &^ (PageSize - 1)
}

// PageRoundUp rounds a byte count up to a page multiple.
func PageRoundUp(x uint64) uint64 {
	return (x + PageSize - 1) &^ (PageSize - 1)
}

// PhysAddr is a simulated physical address.
type PhysAddr uint64

// String implements fmt.Stringer.String.
func (p PhysAddr) String() string {
	return fmt.Sprintf("pa:%#x", uint64(p))
}

// IsPageAligned returns true if p is a multiple of PageSize.
func (p PhysAddr) IsPageAligned() bool {
	return p&(PageSize-1) == 0
}
