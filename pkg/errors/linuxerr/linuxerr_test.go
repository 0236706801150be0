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

package linuxerr

import (
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
	"gvisor.dev/armkern/pkg/errors"
)

func TestToError(t *testing.T) {
	for _, want := range []*errors.Error{EPERM, ESRCH, ECHILD, EAGAIN, ENOMEM, EFAULT, EINVAL} {
		got := ToError(want.Errno())
		if got != want {
			t.Errorf("ToError(%v) = %v, want %v", want.Errno(), got, want)
		}
	}
	if err := ToError(0); err != nil {
		t.Errorf("ToError(0) = %v, want nil", err)
	}
	if err := ToError(unix.ENOSPC); !Equals(errors.New(unix.ENOSPC, ""), err) {
		t.Errorf("ToError(ENOSPC) = %v, want an ENOSPC error", err)
	}
}

func TestEqualsWrapped(t *testing.T) {
	err := fmt.Errorf("fork: %w", ENOMEM)
	if !Equals(ENOMEM, err) {
		t.Errorf("Equals(ENOMEM, %v) = false, want true", err)
	}
	if Equals(EAGAIN, err) {
		t.Errorf("Equals(EAGAIN, %v) = true, want false", err)
	}
	if Equals(ENOMEM, fmt.Errorf("plain")) {
		t.Errorf("Equals matched an error without an errno")
	}
}

func TestReturn(t *testing.T) {
	if got, want := EFAULT.Return(), -int64(unix.EFAULT); got != want {
		t.Errorf("EFAULT.Return() = %d, want %d", got, want)
	}
}
