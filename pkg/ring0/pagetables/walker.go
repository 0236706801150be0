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

import "gvisor.dev/armkern/pkg/hostarch"

// visitLeaves calls fn for every valid level 3 descriptor mapping an
// address in [start, end), in address order. fn may modify the descriptor
// but not the tree. Iteration stops when fn returns false, and visitLeaves
// then returns false.
func (p *PageTables) visitLeaves(start, end uint64, fn func(va uint64, pte *PTE) bool) bool {
	return p.visitNode(p.root, 0, start, end, fn)
}

func (p *PageTables) visitNode(pa hostarch.PhysAddr, level int, start, end uint64, fn func(va uint64, pte *PTE) bool) bool {
	node := p.ptes(pa)
	for i := index(start, level); start < end && i < entriesPerPage; i++ {
		entry := &node[i]
		limit := next(start, level)
		if entry.Valid() {
			if level == levels-1 {
				if !fn(start, entry) {
					return false
				}
			} else if !p.visitNode(entry.Address(), level+1, start, min(end, limit), fn) {
				return false
			}
		}
		if limit <= start {
			// Wrapped past the top of the address space.
			break
		}
		start = limit
	}
	return true
}

// pruneRange calls fn for every valid leaf in [start, end) under the node
// at pa, then frees each node below pa that no longer has a valid entry.
// It returns true iff the node at pa is itself empty afterwards.
func (p *PageTables) pruneRange(pa hostarch.PhysAddr, level int, start, end uint64, fn func(va uint64, pte *PTE)) bool {
	node := p.ptes(pa)
	for i := index(start, level); start < end && i < entriesPerPage; i++ {
		entry := &node[i]
		limit := next(start, level)
		if entry.Valid() {
			if level == levels-1 {
				fn(start, entry)
			} else if child := entry.Address(); p.pruneRange(child, level+1, start, min(end, limit), fn) {
				entry.Clear()
				p.Allocator.FreeFrame(child)
			}
		}
		if limit <= start {
			break
		}
		start = limit
	}
	return node.empty()
}
