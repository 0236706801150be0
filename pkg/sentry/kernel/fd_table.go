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
	"bytes"
	"fmt"
	"io"

	"gvisor.dev/armkern/pkg/errors/linuxerr"
	"gvisor.dev/armkern/pkg/log"
	"gvisor.dev/armkern/pkg/refs"
	"gvisor.dev/armkern/pkg/sync"
)

// MaxFDs is the number of descriptor slots in an FDTable.
const MaxFDs = 16

// File is an open, write-only file. Files are shared between descriptor
// tables after fork and are released when the last reference is dropped.
type File struct {
	refs.AtomicRefCount

	name string

	// mu serializes writes to w.
	mu sync.Mutex
	w  io.Writer
}

// NewFile returns a file with one reference that writes to w.
func NewFile(name string, w io.Writer) *File {
	f := &File{name: name, w: w}
	refs.Register(f)
	return f
}

// Name returns the file's name.
func (f *File) Name() string {
	return f.name
}

// Write writes b to the file.
func (f *File) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.w.Write(b)
}

// RefType implements refs.CheckedObject.RefType.
func (f *File) RefType() string {
	return "kernel.File"
}

// LeakMessage implements refs.CheckedObject.LeakMessage.
func (f *File) LeakMessage() string {
	return fmt.Sprintf("[kernel.File %p] %q: %d refs", f, f.name, f.ReadRefs())
}

// DecRef implements refs.RefCounter.DecRef.
func (f *File) DecRef() {
	f.DecRefWithDestructor(func() {
		refs.Unregister(f)
		log.Debugf("file %q released", f.name)
	})
}

// FDTable maps descriptors to files. Each task owns one table; a forked
// task gets a copy that shares the files.
type FDTable struct {
	refs.AtomicRefCount

	// mu protects files.
	mu    sync.Mutex
	files [MaxFDs]*File
}

// NewFDTable allocates an empty FDTable with one reference.
func NewFDTable() *FDTable {
	return &FDTable{}
}

// destroy drops the table's reference on every file.
func (f *FDTable) destroy() {
	f.mu.Lock()
	files := f.files
	f.files = [MaxFDs]*File{}
	f.mu.Unlock()
	for _, file := range files {
		if file != nil {
			file.DecRef()
		}
	}
}

// DecRef implements RefCounter.DecRef with destructor f.destroy.
func (f *FDTable) DecRef() {
	f.DecRefWithDestructor(f.destroy)
}

// Size returns the number of descriptors in use.
func (f *FDTable) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, file := range f.files {
		if file != nil {
			n++
		}
	}
	return n
}

// String is a stringer for FDTable.
func (f *FDTable) String() string {
	var b bytes.Buffer
	f.mu.Lock()
	defer f.mu.Unlock()
	for fd, file := range f.files {
		if file != nil {
			fmt.Fprintf(&b, "\tfd:%d => name %s\n", fd, file.name)
		}
	}
	return b.String()
}

// NewFD installs file at the lowest free descriptor that is at least fd
// and returns it. The table takes its own reference on file. It returns
// EMFILE if no descriptor is free.
func (f *FDTable) NewFD(fd int32, file *File) (int32, error) {
	if fd < 0 {
		return -1, linuxerr.EINVAL
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for ; fd < MaxFDs; fd++ {
		if f.files[fd] == nil {
			file.IncRef()
			f.files[fd] = file
			return fd, nil
		}
	}
	return -1, linuxerr.EMFILE
}

// Get returns a reference to the file at fd, or nil if fd is not in use.
//
// N.B. Callers are required to use DecRef when they are done.
func (f *FDTable) Get(fd int32) *File {
	if fd < 0 || fd >= MaxFDs {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	file := f.files[fd]
	if file == nil || !file.TryIncRef() {
		return nil
	}
	return file
}

// Remove removes fd from the table and returns the file it referred to,
// transferring the table's reference to the caller. It returns nil if fd
// was not in use.
func (f *FDTable) Remove(fd int32) *File {
	if fd < 0 || fd >= MaxFDs {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	file := f.files[fd]
	f.files[fd] = nil
	return file
}

// Fork returns a new table holding the same files as f.
func (f *FDTable) Fork() *FDTable {
	clone := NewFDTable()
	f.mu.Lock()
	defer f.mu.Unlock()
	for fd, file := range f.files {
		if file != nil {
			file.IncRef()
			clone.files[fd] = file
		}
	}
	return clone
}
