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
	"io"
	"testing"

	"gvisor.dev/armkern/pkg/errors/linuxerr"
	"gvisor.dev/armkern/pkg/refs"
)

// newTestFile returns a file whose only reference is dropped at test end.
func newTestFile(t *testing.T, name string) *File {
	f := NewFile(name, io.Discard)
	t.Cleanup(f.DecRef)
	return f
}

func TestFDTableNewFD(t *testing.T) {
	f := NewFDTable()
	defer f.DecRef()
	file := newTestFile(t, "a")

	for want := int32(0); want < MaxFDs; want++ {
		fd, err := f.NewFD(0, file)
		if err != nil || fd != want {
			t.Fatalf("NewFD(0) = %d, %v, want %d, nil", fd, err, want)
		}
	}
	if _, err := f.NewFD(0, file); !linuxerr.Equals(linuxerr.EMFILE, err) {
		t.Errorf("NewFD on a full table = %v, want EMFILE", err)
	}
	if got := file.ReadRefs(); got != MaxFDs+1 {
		t.Errorf("file refs = %d, want %d", got, MaxFDs+1)
	}

	removed := f.Remove(3)
	if removed != file {
		t.Fatalf("Remove(3) = %v, want the file", removed)
	}
	removed.DecRef()
	if f.Remove(3) != nil {
		t.Errorf("second Remove(3) returned a file")
	}
	if fd, err := f.NewFD(2, file); err != nil || fd != 3 {
		t.Errorf("NewFD(2) = %d, %v, want 3, nil", fd, err)
	}
	if _, err := f.NewFD(-1, file); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("NewFD(-1) = %v, want EINVAL", err)
	}
	if got := f.Size(); got != MaxFDs {
		t.Errorf("Size() = %d, want %d", got, MaxFDs)
	}
}

func TestFDTableGet(t *testing.T) {
	f := NewFDTable()
	defer f.DecRef()
	file := newTestFile(t, "a")
	fd, _ := f.NewFD(0, file)

	got := f.Get(fd)
	if got != file {
		t.Fatalf("Get(%d) = %v, want the file", fd, got)
	}
	if refs := file.ReadRefs(); refs != 3 {
		t.Errorf("refs with a Get reference = %d, want 3", refs)
	}
	got.DecRef()
	for _, fd := range []int32{-1, 1, MaxFDs} {
		if f.Get(fd) != nil {
			t.Errorf("Get(%d) returned a file", fd)
		}
	}
}

func TestFDTableForkAndRelease(t *testing.T) {
	a, b := newTestFile(t, "a"), newTestFile(t, "b")
	f := NewFDTable()
	f.NewFD(0, a)
	f.NewFD(4, b)

	clone := f.Fork()
	if clone.Get(0) != a || clone.Get(4) != b {
		t.Fatalf("clone does not hold the same files:\n%v", clone)
	}
	a.DecRef()
	b.DecRef()
	if got := a.ReadRefs(); got != 3 {
		t.Errorf("refs after fork = %d, want 3", got)
	}

	f.DecRef()
	if got := a.ReadRefs(); got != 2 {
		t.Errorf("refs after releasing the original = %d, want 2", got)
	}
	clone.DecRef()
	if got := a.ReadRefs(); got != 1 {
		t.Errorf("refs after releasing both tables = %d, want 1", got)
	}
	if clone.Size() != 0 {
		t.Errorf("released table still holds %d files", clone.Size())
	}
}

func TestFileLeakCheck(t *testing.T) {
	old := refs.GetLeakMode()
	refs.SetLeakMode(refs.LeaksLogWarning)
	defer refs.SetLeakMode(old)

	f := NewFile("leaky", io.Discard)
	if got := refs.DoLeakCheck(); got != 1 {
		t.Errorf("DoLeakCheck() = %d with a live file, want 1", got)
	}
	f.DecRef()
	if got := refs.DoLeakCheck(); got != 0 {
		t.Errorf("DoLeakCheck() = %d after release, want 0", got)
	}
}
