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

package pgalloc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/armkern/pkg/hostarch"
	"gvisor.dev/armkern/pkg/sentry/usage"
)

func newTestFile(t *testing.T, frames int, disableMemfd bool) *MemoryFile {
	t.Helper()
	f, err := NewMemoryFile(MemoryFileOpts{Frames: frames, DisableMemfd: disableMemfd})
	if err != nil {
		t.Fatalf("NewMemoryFile: %v", err)
	}
	t.Cleanup(f.Destroy)
	return f
}

func TestAllocateLowestFirst(t *testing.T) {
	for _, test := range []struct {
		name         string
		disableMemfd bool
	}{
		{name: "memfd"},
		{name: "anonymous", disableMemfd: true},
	} {
		t.Run(test.name, func(t *testing.T) {
			f := newTestFile(t, 4, test.disableMemfd)
			var got []hostarch.PhysAddr
			for i := 0; i < 4; i++ {
				pa, ok := f.AllocateFrame(usage.Anonymous)
				if !ok {
					t.Fatalf("AllocateFrame #%d failed", i)
				}
				got = append(got, pa)
			}
			want := []hostarch.PhysAddr{
				hostarch.PhysBase,
				hostarch.PhysBase + hostarch.PageSize,
				hostarch.PhysBase + 2*hostarch.PageSize,
				hostarch.PhysBase + 3*hostarch.PageSize,
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("allocation order mismatch (-want +got):\n%s", diff)
			}
			if _, ok := f.AllocateFrame(usage.Anonymous); ok {
				t.Errorf("AllocateFrame succeeded on an empty pool")
			}

			f.FreeFrame(want[2])
			if pa, ok := f.AllocateFrame(usage.PageTable); !ok || pa != want[2] {
				t.Errorf("AllocateFrame after free = %v, %v, want %v, true", pa, ok, want[2])
			}
		})
	}
}

func TestFreeFillsJunk(t *testing.T) {
	f := newTestFile(t, 2, false)
	pa, _ := f.AllocateFrame(usage.Anonymous)
	b := f.FrameBytes(pa)
	for i := range b {
		b[i] = 0xaa
	}
	f.FreeFrame(pa)
	if !isJunk(f.frameBytes(f.frameOf(pa))) {
		t.Errorf("freed frame was not filled with junk")
	}
	if err := f.CheckFreeList(); err != nil {
		t.Errorf("CheckFreeList: %v", err)
	}
}

func TestCheckFreeListDetectsWrites(t *testing.T) {
	f := newTestFile(t, 2, false)
	f.frameBytes(1)[7] = 0
	if err := f.CheckFreeList(); err == nil {
		t.Errorf("CheckFreeList did not notice a write to a free frame")
	}
}

func TestCheckFreeListExhausted(t *testing.T) {
	f := newTestFile(t, 2, true)
	var frames []hostarch.PhysAddr
	for i := 0; i < 2; i++ {
		pa, ok := f.AllocateFrame(usage.Anonymous)
		if !ok {
			t.Fatalf("AllocateFrame #%d failed", i)
		}
		frames = append(frames, pa)
	}
	if err := f.CheckFreeList(); err != nil {
		t.Errorf("CheckFreeList on a fully allocated pool: %v", err)
	}
	for _, pa := range frames {
		f.FreeFrame(pa)
	}
	if err := f.CheckFreeList(); err != nil {
		t.Errorf("CheckFreeList after freeing every frame: %v", err)
	}
}

func TestUsageAccounting(t *testing.T) {
	f := newTestFile(t, 8, false)
	pt, _ := f.AllocateFrame(usage.PageTable)
	data, _ := f.AllocateFrame(usage.Anonymous)
	f.AllocateFrame(usage.KernelStack)
	f.AllocateFrame(usage.TrapFrame)
	f.FreeFrame(data)

	got, total := f.Usage()
	want := usage.MemoryStats{PageTable: 1, KernelStack: 1, TrapFrame: 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Usage() mismatch (-want +got):\n%s", diff)
	}
	if total != 3 || f.FreeFrames() != 5 {
		t.Errorf("total = %d, free = %d, want 3, 5", total, f.FreeFrames())
	}
	if kind, ok := f.Kind(pt); !ok || kind != usage.PageTable {
		t.Errorf("Kind(%v) = %v, %v, want page-table, true", pt, kind, ok)
	}
	if _, ok := f.Kind(data); ok {
		t.Errorf("Kind of a freed frame reports allocated")
	}
}

func TestMisuse(t *testing.T) {
	f := newTestFile(t, 2, false)
	pa, _ := f.AllocateFrame(usage.Anonymous)
	f.FreeFrame(pa)

	for _, test := range []struct {
		name string
		fn   func()
	}{
		{"double free", func() { f.FreeFrame(pa) }},
		{"bytes of a free frame", func() { f.FrameBytes(pa) }},
		{"unaligned address", func() { f.FreeFrame(pa + 8) }},
		{"address below memory", func() { f.FreeFrame(0) }},
		{"address beyond memory", func() { f.FreeFrame(Frame(2).PhysAddr()) }},
	} {
		t.Run(test.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("%s did not panic", test.name)
				}
			}()
			test.fn()
		})
	}
}

func TestNewMemoryFileInvalid(t *testing.T) {
	if _, err := NewMemoryFile(MemoryFileOpts{}); err == nil {
		t.Errorf("NewMemoryFile with zero frames succeeded")
	}
}
