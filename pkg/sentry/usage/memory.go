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

// Package usage tracks who owns physical memory and how much each task
// moves across the user boundary.
package usage

import (
	"fmt"
	"sync/atomic"

	"gvisor.dev/armkern/pkg/sync"
)

// MemoryKind is the owner tag carried by every allocated frame.
type MemoryKind int

const (
	// PageTable is a page-table node of some address space.
	PageTable MemoryKind = iota

	// Anonymous is a user data page mapped by exactly one address space.
	Anonymous

	// KernelStack is a task's kernel stack. The saved context lives at its
	// top.
	KernelStack

	// TrapFrame holds a task's saved user registers.
	TrapFrame

	// numKinds is the number of kinds above.
	numKinds
)

// String implements fmt.Stringer.String.
func (k MemoryKind) String() string {
	switch k {
	case PageTable:
		return "page-table"
	case Anonymous:
		return "anonymous"
	case KernelStack:
		return "kernel-stack"
	case TrapFrame:
		return "trap-frame"
	default:
		return fmt.Sprintf("MemoryKind(%d)", int(k))
	}
}

// Valid reports whether k is one of the kinds above.
func (k MemoryKind) Valid() bool {
	return k >= 0 && k < numKinds
}

// MemoryStats counts allocated frames by kind. The public fields may be
// safely accessed directly on a copy of the object obtained from
// MemoryLocked.Copy().
type MemoryStats struct {
	// +checkatomic
	PageTable uint64
	// +checkatomic
	Anonymous uint64
	// +checkatomic
	KernelStack uint64
	// +checkatomic
	TrapFrame uint64
}

// MemoryLocked is MemoryStats with access methods.
type MemoryLocked struct {
	mu sync.RWMutex
	// MemoryStats records the frame counts.
	MemoryStats
}

func (m *MemoryLocked) field(kind MemoryKind) *uint64 {
	switch kind {
	case PageTable:
		return &m.PageTable
	case Anonymous:
		return &m.Anonymous
	case KernelStack:
		return &m.KernelStack
	case TrapFrame:
		return &m.TrapFrame
	default:
		panic(fmt.Sprintf("invalid memory kind: %v", kind))
	}
}

// Inc adds val frames to kind.
//
// This method is thread-safe.
func (m *MemoryLocked) Inc(val uint64, kind MemoryKind) {
	m.mu.RLock()
	atomic.AddUint64(m.field(kind), val)
	m.mu.RUnlock()
}

// Dec removes val frames from kind.
//
// This method is thread-safe.
func (m *MemoryLocked) Dec(val uint64, kind MemoryKind) {
	m.mu.RLock()
	f := m.field(kind)
	if atomic.LoadUint64(f) < val {
		m.mu.RUnlock()
		panic(fmt.Sprintf("%s usage underflow: have %d, releasing %d", kind, atomic.LoadUint64(f), val))
	}
	atomic.AddUint64(f, ^(val - 1))
	m.mu.RUnlock()
}

// totalLocked returns the total frame count.
//
// Precondition: must be called when locked.
func (m *MemoryLocked) totalLocked() (total uint64) {
	total += atomic.LoadUint64(&m.PageTable)
	total += atomic.LoadUint64(&m.Anonymous)
	total += atomic.LoadUint64(&m.KernelStack)
	total += atomic.LoadUint64(&m.TrapFrame)
	return
}

// Total returns the number of allocated frames.
//
// This method is thread-safe.
func (m *MemoryLocked) Total() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalLocked()
}

// Copy returns a copy of the structure with a total.
//
// This method is thread-safe.
func (m *MemoryLocked) Copy() (MemoryStats, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms := MemoryStats{
		PageTable:   atomic.LoadUint64(&m.PageTable),
		Anonymous:   atomic.LoadUint64(&m.Anonymous),
		KernelStack: atomic.LoadUint64(&m.KernelStack),
		TrapFrame:   atomic.LoadUint64(&m.TrapFrame),
	}
	return ms, m.totalLocked()
}
