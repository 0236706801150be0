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

package boot

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/armkern/ksim/config"
	"gvisor.dev/armkern/pkg/refs"
	"gvisor.dev/armkern/pkg/sentry/kernel"
	"gvisor.dev/armkern/pkg/sync"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(cpus, frames int) *config.Config {
	return &config.Config{
		CPUs:          cpus,
		Frames:        frames,
		MaxTasks:      kernel.DefaultMaxTasks,
		TimerInterval: time.Millisecond,
		DisableMemfd:  true,
		LogFormat:     "text",
	}
}

func runWorkload(t *testing.T, conf *config.Config, w Workload) (*Machine, *Result, string) {
	t.Helper()
	var console syncBuffer
	m, err := New(conf, &console)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(m.Destroy)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := m.Run(ctx, w)
	if err != nil {
		t.Fatalf("Run(%+v): %v", w, err)
	}
	return m, res, console.String()
}

func TestWorkloads(t *testing.T) {
	for _, tc := range []struct {
		name string
		cpus int
		w    Workload
	}{
		{name: "no workers", cpus: 1, w: Workload{}},
		{name: "uniprocessor", cpus: 1, w: Workload{Workers: 3, Rounds: 5, HeapPages: 2}},
		{name: "smp", cpus: 4, w: Workload{Workers: 8, Rounds: 20, HeapPages: 1}},
		{name: "no heap", cpus: 2, w: Workload{Workers: 4, Rounds: 3}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, res, out := runWorkload(t, testConfig(tc.cpus, 1024), tc.w)
			if err := m.Check(tc.w, res); err != nil {
				t.Errorf("Check: %v", err)
			}
			if got, want := len(res.Switches), tc.cpus; got != want {
				t.Errorf("got switch counts for %d CPUs, want %d", got, want)
			}
			if !strings.HasPrefix(out, fmt.Sprintf("init: starting %d workers\n", tc.w.Workers)) {
				t.Errorf("console output %q lacks init banner", out)
			}
			if got, want := strings.Count(out, ": done\n"), tc.w.Workers; got != want {
				t.Errorf("%d workers reported done, want %d; output:\n%s", got, want, out)
			}
			if !strings.HasSuffix(out, fmt.Sprintf("init: reaped %d workers\n", tc.w.Workers)) {
				t.Errorf("console output %q lacks reap message", out)
			}
		})
	}
}

func TestWorkloadTasks(t *testing.T) {
	w := Workload{Workers: 2, Rounds: 1, HeapPages: 1}
	m, res, _ := runWorkload(t, testConfig(2, 512), w)
	if err := m.Check(w, res); err != nil {
		t.Fatalf("Check: %v", err)
	}
	tasks := m.Kernel().Tasks()
	want := []kernel.TaskInfo{{
		TID:   kernel.InitTID,
		State: kernel.Sleeping,
		Name:  "initproc",
		Size:  4096,
	}}
	opt := cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".IO"
	}, cmp.Ignore())
	if diff := cmp.Diff(want, tasks, opt); diff != "" {
		t.Errorf("Tasks() mismatch (-want +got):\n%s", diff)
	}
	if tasks[0].IO.BytesCopiedOut == 0 {
		t.Errorf("init wrote no bytes: %+v", tasks[0].IO)
	}
}

func TestWorkloadOutOfMemory(t *testing.T) {
	// Enough frames for init and a few workers, but not for their heaps.
	w := Workload{Workers: 2, Rounds: 1, HeapPages: 64}
	m, res, out := runWorkload(t, testConfig(2, 64), w)
	for tid, status := range res.Statuses {
		if status != statusNoMemory && status != expectedStatus(tid) {
			t.Errorf("worker %d exited with %d", tid, status)
		}
	}
	if !strings.Contains(out, "sbrk: out of memory") {
		t.Errorf("no worker ran out of memory; output:\n%s", out)
	}
	if err := m.Check(w, res); err == nil {
		t.Errorf("Check succeeded after a failed workload")
	}
	if res.FreeFrames != res.BootFreeFrames {
		t.Errorf("%d free frames after the run, want %d", res.FreeFrames, res.BootFreeFrames)
	}
}

func TestWorkloadTimeout(t *testing.T) {
	m, err := New(testConfig(1, 256), &syncBuffer{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Destroy()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Run(ctx, Workload{Workers: 1, Rounds: 1}); err == nil {
		t.Errorf("Run with a canceled context succeeded")
	}
}

func TestWorkloadInvalid(t *testing.T) {
	m, err := New(testConfig(1, 256), &syncBuffer{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Destroy()
	if _, err := m.Run(context.Background(), Workload{Workers: -1}); err == nil {
		t.Errorf("Run with a negative worker count succeeded")
	}
}

func TestLeakCheck(t *testing.T) {
	refs.SetLeakMode(refs.LeaksLogWarning)
	t.Cleanup(func() { refs.SetLeakMode(refs.NoLeakChecking) })

	w := Workload{Workers: 3, Rounds: 2, HeapPages: 1}
	m, res, _ := runWorkload(t, testConfig(2, 512), w)
	if err := m.Check(w, res); err != nil {
		t.Errorf("Check: %v", err)
	}
}

func TestNewInvalidConfig(t *testing.T) {
	conf := testConfig(2, 256)
	conf.CPUs = kernel.MaxCPUs + 1
	if _, err := New(conf, &syncBuffer{}); err == nil {
		t.Errorf("New with %d CPUs succeeded", conf.CPUs)
	}
}
