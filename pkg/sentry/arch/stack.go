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

package arch

import (
	"encoding/binary"

	"gvisor.dev/armkern/pkg/hostarch"
)

// StackAlignment is the alignment of every item pushed on a user stack.
const StackAlignment = 16

// Auxiliary vector keys.
const (
	AT_NULL   = 0
	AT_PAGESZ = 6
)

// StackIO copies bytes into user memory.
type StackIO interface {
	CopyOut(va hostarch.Addr, src []byte) (int, error)
}

// Stack is a simple wrapper around a StackIO and an address. Stack
// implements a stack that grows down, with each push aligned to
// StackAlignment.
type Stack struct {
	// IO is the user memory the stack lives in.
	IO StackIO

	// Bottom is the lowest address pushed so far, or the initial top.
	Bottom hostarch.Addr
}

// Push writes b below Bottom and returns its address.
func (s *Stack) Push(b []byte) (hostarch.Addr, error) {
	sp := s.Bottom - hostarch.Addr(len(b))
	sp -= sp % StackAlignment
	if _, err := s.IO.CopyOut(sp, b); err != nil {
		return 0, err
	}
	s.Bottom = sp
	return sp, nil
}

// PushString pushes str with a NUL terminator.
func (s *Stack) PushString(str string) (hostarch.Addr, error) {
	b := make([]byte, len(str)+1)
	copy(b, str)
	return s.Push(b)
}

// PushUint64s pushes vs as consecutive little-endian words.
func (s *Stack) PushUint64s(vs ...uint64) (hostarch.Addr, error) {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(b[8*i:], v)
	}
	return s.Push(b)
}

// Auxv is an auxiliary vector.
type Auxv []AuxEntry

// AuxEntry represents an entry in an auxv.
type AuxEntry struct {
	Key   uint64
	Value uint64
}

// words returns the auxv as the word sequence pushed on the stack. The
// first word is a zero pad that keeps the vector 16-byte sized.
func (a Auxv) words() []uint64 {
	w := []uint64{0}
	for _, e := range a {
		w = append(w, e.Key, e.Value)
	}
	return append(w, AT_NULL)
}

// Load pushes the initial process stack: the auxiliary vector, an empty
// environment slot, the argument strings, then argc followed by the argv
// pointers and a NULL. It returns the final stack pointer, which points at
// argc.
func (s *Stack) Load(argv []string, auxv Auxv) (hostarch.Addr, error) {
	if _, err := s.PushUint64s(auxv.words()...); err != nil {
		return 0, err
	}
	if _, err := s.PushUint64s(0); err != nil {
		return 0, err
	}
	ptrs := make([]uint64, 0, len(argv)+2)
	ptrs = append(ptrs, uint64(len(argv)))
	for _, arg := range argv {
		addr, err := s.PushString(arg)
		if err != nil {
			return 0, err
		}
		ptrs = append(ptrs, uint64(addr))
	}
	ptrs = append(ptrs, 0)
	return s.PushUint64s(ptrs...)
}
