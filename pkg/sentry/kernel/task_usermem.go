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

package kernel

import (
	"gvisor.dev/armkern/pkg/errors/linuxerr"
	"gvisor.dev/armkern/pkg/hostarch"
	"gvisor.dev/armkern/pkg/ring0/pagetables"
)

// CopyOut copies src to user memory at va. It returns the number of bytes
// copied and EFAULT if the copy stopped at a page the task may not access.
func (t *Task) CopyOut(va hostarch.Addr, src []byte) (int, error) {
	n, err := t.pageTables.CopyOut(va, src)
	t.io.AccountCopyOut(n, err)
	return n, err
}

// CopyIn copies user memory at va to dst. It returns the number of bytes
// copied and EFAULT if the copy stopped at a page the task may not access.
func (t *Task) CopyIn(dst []byte, va hostarch.Addr) (int, error) {
	n, err := t.pageTables.CopyIn(dst, va)
	t.io.AccountCopyIn(n, err)
	return n, err
}

// Getpid returns t's TID.
func (t *Task) Getpid() ThreadID {
	return t.tid
}

// Sbrk grows or shrinks t's address space by n bytes and returns the old
// size. Growing past available memory returns ENOMEM and leaves the size
// unchanged; shrinking below zero returns EINVAL.
func (t *Task) Sbrk(n int64) (uint64, error) {
	t.checkKilled()
	old := t.size
	switch {
	case n > 0:
		if uint64(n) > pagetables.MaxUserSize-old {
			return old, linuxerr.ENOMEM
		}
		size, err := t.pageTables.Grow(old, old+uint64(n))
		if err != nil {
			t.k.limitedLog.Warningf("sbrk: task %d out of memory growing by %d", t.tid, n)
			return old, err
		}
		t.size = size
	case n < 0:
		if uint64(-n) > old {
			return old, linuxerr.EINVAL
		}
		t.size = t.pageTables.Shrink(old, old-uint64(-n))
	}
	return old, nil
}

// InstallFile installs f at t's lowest free descriptor.
func (t *Task) InstallFile(f *File) (int32, error) {
	return t.fdTable.NewFD(0, f)
}

// Write copies n bytes at va from user memory and writes them to the file
// at fd.
func (t *Task) Write(fd int32, va hostarch.Addr, n int) (int, error) {
	t.checkKilled()
	if n < 0 {
		return 0, linuxerr.EINVAL
	}
	f := t.fdTable.Get(fd)
	if f == nil {
		return 0, linuxerr.EBADF
	}
	buf := make([]byte, n)
	copied, err := t.CopyIn(buf, va)
	if err != nil {
		f.DecRef()
		return 0, err
	}
	written, err := f.Write(buf[:copied])
	f.DecRef()
	return written, err
}

// Dup installs another descriptor for the file at fd.
func (t *Task) Dup(fd int32) (int32, error) {
	f := t.fdTable.Get(fd)
	if f == nil {
		return -1, linuxerr.EBADF
	}
	nfd, err := t.fdTable.NewFD(0, f)
	f.DecRef()
	return nfd, err
}

// Close removes fd from t's descriptor table.
func (t *Task) Close(fd int32) error {
	f := t.fdTable.Remove(fd)
	if f == nil {
		return linuxerr.EBADF
	}
	f.DecRef()
	return nil
}
