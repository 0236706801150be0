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

package usage

import (
	"sync/atomic"
)

// IO contains statistics about bytes copied between kernel and user
// memory on behalf of one task.
type IO struct {
	// BytesCopiedIn is the number of bytes read from user memory.
	BytesCopiedIn uint64

	// BytesCopiedOut is the number of bytes written to user memory.
	BytesCopiedOut uint64

	// Faults is the number of copies that stopped at an unmapped or
	// kernel-only page.
	Faults uint64
}

// AccountCopyIn does the accounting for a copy from user memory.
func (i *IO) AccountCopyIn(bytes int, err error) {
	atomic.AddUint64(&i.BytesCopiedIn, uint64(bytes))
	if err != nil {
		atomic.AddUint64(&i.Faults, 1)
	}
}

// AccountCopyOut does the accounting for a copy to user memory.
func (i *IO) AccountCopyOut(bytes int, err error) {
	atomic.AddUint64(&i.BytesCopiedOut, uint64(bytes))
	if err != nil {
		atomic.AddUint64(&i.Faults, 1)
	}
}

// Snapshot returns a consistent-per-field copy of i.
func (i *IO) Snapshot() IO {
	return IO{
		BytesCopiedIn:  atomic.LoadUint64(&i.BytesCopiedIn),
		BytesCopiedOut: atomic.LoadUint64(&i.BytesCopiedOut),
		Faults:         atomic.LoadUint64(&i.Faults),
	}
}
