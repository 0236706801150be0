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

package refs

import "testing"

type testObject struct {
	AtomicRefCount
	name      string
	destroyed bool
}

func (o *testObject) RefType() string { return "testObject" }

func (o *testObject) LeakMessage() string { return o.name }

func (o *testObject) DecRef() {
	o.DecRefWithDestructor(func() {
		o.destroyed = true
		Unregister(o)
	})
}

func TestRefCount(t *testing.T) {
	o := &testObject{name: "a"}
	o.IncRef()
	if got := o.ReadRefs(); got != 2 {
		t.Errorf("ReadRefs() = %d, want 2", got)
	}
	o.DecRef()
	if o.destroyed {
		t.Errorf("destroyed with a reference left")
	}
	o.DecRef()
	if !o.destroyed {
		t.Errorf("not destroyed after the last DecRef")
	}
	if o.TryIncRef() {
		t.Errorf("TryIncRef succeeded on a destroyed object")
	}
	defer func() {
		if recover() == nil {
			t.Errorf("DecRef of a destroyed object did not panic")
		}
	}()
	o.DecRef()
}

func TestLeakCheck(t *testing.T) {
	SetLeakMode(LeaksLogWarning)
	defer SetLeakMode(NoLeakChecking)

	a, b := &testObject{name: "a"}, &testObject{name: "b"}
	Register(a)
	Register(b)
	a.DecRef()
	if got := DoLeakCheck(); got != 1 {
		t.Errorf("DoLeakCheck() = %d, want 1", got)
	}
	b.DecRef()
	if got := DoLeakCheck(); got != 0 {
		t.Errorf("DoLeakCheck() after release = %d, want 0", got)
	}
}

func TestLeakModeFlag(t *testing.T) {
	var m LeakMode
	for _, name := range []string{"disabled", "log-names", "panic"} {
		if err := m.Set(name); err != nil {
			t.Errorf("Set(%q): %v", name, err)
		}
		if m.String() != name {
			t.Errorf("String() = %q, want %q", m.String(), name)
		}
	}
	if err := m.Set("bogus"); err == nil {
		t.Errorf("Set(bogus) succeeded")
	}
	if err := m.UnmarshalText([]byte("log-names")); err != nil || m.Get() != LeaksLogWarning {
		t.Errorf("UnmarshalText(log-names) = %v, mode %v", err, m.Get())
	}
}
