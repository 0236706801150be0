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

package usage

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMemoryAccounting(t *testing.T) {
	var m MemoryLocked
	m.Inc(3, Anonymous)
	m.Inc(2, PageTable)
	m.Inc(1, KernelStack)
	m.Inc(1, TrapFrame)
	m.Dec(1, Anonymous)

	got, total := m.Copy()
	want := MemoryStats{PageTable: 2, Anonymous: 2, KernelStack: 1, TrapFrame: 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Copy() mismatch (-want +got):\n%s", diff)
	}
	if total != 6 || m.Total() != 6 {
		t.Errorf("total = %d, Total() = %d, want 6", total, m.Total())
	}
}

func TestMemoryUnderflow(t *testing.T) {
	var m MemoryLocked
	defer func() {
		if recover() == nil {
			t.Errorf("Dec below zero did not panic")
		}
	}()
	m.Dec(1, PageTable)
}

func TestIOAccounting(t *testing.T) {
	var i IO
	i.AccountCopyOut(100, nil)
	i.AccountCopyIn(10, nil)
	i.AccountCopyOut(4096, errFault{})
	want := IO{BytesCopiedIn: 10, BytesCopiedOut: 4196, Faults: 1}
	if diff := cmp.Diff(want, i.Snapshot()); diff != "" {
		t.Errorf("Snapshot() mismatch (-want +got):\n%s", diff)
	}
}

type errFault struct{}

func (errFault) Error() string { return "fault" }
