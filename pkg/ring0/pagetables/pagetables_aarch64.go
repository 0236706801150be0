// Copyright 2019 The gVisor Authors.
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
	"sync/atomic"

	"gvisor.dev/armkern/pkg/hostarch"
)

// Stage 1 translation with a 4K granule: four levels of 512 entries.
const (
	entriesPerPage = 512

	pgdShift = 39
	pudShift = 30
	pmdShift = 21
	pteShift = 12

	levels = 4

	// lowerTop is the last address translated through TTBR0.
	lowerTop = 0x0000ffffffffffff
)

// MaxUserSize is the largest size of a user address space: the end of the
// range translated through TTBR0.
const MaxUserSize = lowerTop + 1

// Descriptor bits.
const (
	valid    = 1 << 0
	typePage = 1 << 1 // Table at levels 0-2, page at level 3.

	// mtNormal selects MAIR_EL1 attribute 1, normal write-back memory.
	mtNormal      = 1
	attrIndxShift = 2

	user      = 1 << 6 // AP[1]
	readOnly  = 1 << 7 // AP[2]
	shareable = 3 << 8 // Inner shareable.
	accessed  = 1 << 10
	pxn       = 1 << 53
	uxn       = 1 << 54

	addrMask  = 0x0000fffffffff000
	flagsMask = ^uint64(addrMask)

	// leafBits are set on every page descriptor.
	leafBits = valid | typePage | mtNormal<<attrIndxShift | shareable | accessed

	// tableBits are set on every table descriptor.
	tableBits = valid | typePage
)

// MapOpts are the options for a mapping.
type MapOpts struct {
	// AccessType defines permissions.
	AccessType hostarch.AccessType

	// User indicates the page is accessible from EL0.
	User bool
}

// String implements fmt.Stringer.String.
func (o MapOpts) String() string {
	if o.User {
		return o.AccessType.String() + "u"
	}
	return o.AccessType.String() + "k"
}

// PTE is a page table descriptor.
type PTE uint64

// PTEs is a collection of entries, one page-table node.
type PTEs [entriesPerPage]PTE

// Valid returns true iff this entry is valid.
func (p *PTE) Valid() bool {
	return atomic.LoadUint64((*uint64)(p))&valid != 0
}

// Address extracts the output address from a valid descriptor.
func (p *PTE) Address() hostarch.PhysAddr {
	return hostarch.PhysAddr(atomic.LoadUint64((*uint64)(p)) & addrMask)
}

// Clear clears this descriptor.
func (p *PTE) Clear() {
	atomic.StoreUint64((*uint64)(p), 0)
}

// Set sets this leaf descriptor to map addr with opts. If opts grants no
// access the descriptor is cleared.
func (p *PTE) Set(addr hostarch.PhysAddr, opts MapOpts) {
	if !opts.AccessType.Any() {
		p.Clear()
		return
	}
	if !addr.IsPageAligned() {
		panic(fmt.Sprintf("unaligned leaf address %v", addr))
	}
	v := uint64(addr)&addrMask | leafBits
	if !opts.AccessType.Write {
		v |= readOnly
	}
	if opts.User {
		// EL1 never executes user pages.
		v |= user | pxn
		if !opts.AccessType.Execute {
			v |= uxn
		}
	} else {
		v |= uxn
		if !opts.AccessType.Execute {
			v |= pxn
		}
	}
	atomic.StoreUint64((*uint64)(p), v)
}

// Opts returns the options of a valid leaf descriptor.
func (p *PTE) Opts() MapOpts {
	v := atomic.LoadUint64((*uint64)(p))
	if v&valid == 0 {
		return MapOpts{}
	}
	o := MapOpts{
		AccessType: hostarch.AccessType{
			Read:  true,
			Write: v&readOnly == 0,
		},
		User: v&user != 0,
	}
	if o.User {
		o.AccessType.Execute = v&uxn == 0
	} else {
		o.AccessType.Execute = v&pxn == 0
	}
	return o
}

// setPageTable makes this a table descriptor pointing at the node at addr.
func (p *PTE) setPageTable(addr hostarch.PhysAddr) {
	if !addr.IsPageAligned() {
		panic(fmt.Sprintf("unaligned table address %v", addr))
	}
	atomic.StoreUint64((*uint64)(p), uint64(addr)&addrMask|tableBits)
}

// clearUser revokes EL0 access to a valid leaf.
func (p *PTE) clearUser() {
	v := atomic.LoadUint64((*uint64)(p))
	atomic.StoreUint64((*uint64)(p), v&^user)
}

// String implements fmt.Stringer.String.
func (p *PTE) String() string {
	if !p.Valid() {
		return "<invalid>"
	}
	return fmt.Sprintf("%v %s", p.Address(), p.Opts())
}

// empty returns true iff no entry of the node is valid.
func (ptes *PTEs) empty() bool {
	for i := range ptes {
		if ptes[i].Valid() {
			return false
		}
	}
	return true
}

// shift returns the index shift of the given level, 0 being the root.
func shift(level int) uint {
	return pgdShift - 9*uint(level)
}

// index returns va's entry index in a node of the given level.
func index(va uint64, level int) int {
	return int(va>>shift(level)) & (entriesPerPage - 1)
}

// next returns the first address above va covered by the next entry of a
// node at the given level.
func next(va uint64, level int) uint64 {
	size := uint64(1) << shift(level)
	return (va + size) &^ (size - 1)
}
