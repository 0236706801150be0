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

package hostarch

import "testing"

func TestRounding(t *testing.T) {
	for _, tc := range []struct {
		addr Addr
		down Addr
		up   Addr
	}{
		{0, 0, 0},
		{1, 0, PageSize},
		{PageSize - 1, 0, PageSize},
		{PageSize, PageSize, PageSize},
		{PageSize + 1, PageSize, 2 * PageSize},
	} {
		if got := tc.addr.RoundDown(); got != tc.down {
			t.Errorf("%v.RoundDown() = %v, want %v", tc.addr, got, tc.down)
		}
		if got, ok := tc.addr.RoundUp(); !ok || got != tc.up {
			t.Errorf("%v.RoundUp() = %v, %v, want %v, true", tc.addr, got, ok, tc.up)
		}
	}
	if _, ok := Addr(^uintptr(0)).RoundUp(); ok {
		t.Errorf("RoundUp of the last address should wrap")
	}
}

func TestIsCanonical(t *testing.T) {
	for _, tc := range []struct {
		addr Addr
		want bool
	}{
		{0, true},
		{0x0000ffffffffffff, true},
		{0xffff000000000000, true},
		{0xffffffffffffffff, true},
		{0x0001000000000000, false},
		{0x8000000000000000, false},
		{0xfffe000000000000, false},
	} {
		if got := tc.addr.IsCanonical(); got != tc.want {
			t.Errorf("%v.IsCanonical() = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

func TestAccessTypeString(t *testing.T) {
	for _, tc := range []struct {
		at   AccessType
		want string
	}{
		{NoAccess, "---"},
		{Read, "r--"},
		{ReadWrite, "rw-"},
		{AnyAccess, "rwx"},
		{Read.Union(Execute), "r-x"},
		{AnyAccess.Intersect(Write), "-w-"},
	} {
		if got := tc.at.String(); got != tc.want {
			t.Errorf("AccessType(%+v).String() = %q, want %q", tc.at, got, tc.want)
		}
	}
}
