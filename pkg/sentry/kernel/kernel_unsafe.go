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
	"unsafe"

	"gvisor.dev/armkern/pkg/hostarch"
	"gvisor.dev/armkern/pkg/sentry/arch"
)

// contextOffset is the offset of the callee-saved context in a kernel
// stack frame.
const contextOffset = hostarch.PageSize - int(unsafe.Sizeof(arch.Context{}))

// trapFrameAt returns the trap frame stored in the frame at pa.
func (k *Kernel) trapFrameAt(pa hostarch.PhysAddr) *arch.TrapFrame {
	b := k.mf.FrameBytes(pa)
	return (*arch.TrapFrame)(unsafe.Pointer(&b[0]))
}

// contextAt returns the context stored at the top of the kernel stack
// frame at pa.
func (k *Kernel) contextAt(pa hostarch.PhysAddr) *arch.Context {
	b := k.mf.FrameBytes(pa)
	return (*arch.Context)(unsafe.Pointer(&b[contextOffset]))
}
