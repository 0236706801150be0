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

// Package boot builds a simulated machine from a configuration and runs
// workloads on it.
package boot

import (
	"context"
	"fmt"
	"io"

	"gvisor.dev/armkern/ksim/config"
	"gvisor.dev/armkern/pkg/cleanup"
	"gvisor.dev/armkern/pkg/log"
	"gvisor.dev/armkern/pkg/refs"
	"gvisor.dev/armkern/pkg/sentry/kernel"
	"gvisor.dev/armkern/pkg/sentry/pgalloc"
)

// initcode is the first user program: a branch-to-self.
var initcode = []byte{0x00, 0x00, 0x00, 0x14}

// Machine is a booted simulated machine.
type Machine struct {
	conf    *config.Config
	mf      *pgalloc.MemoryFile
	k       *kernel.Kernel
	console *kernel.File
}

// New creates a machine as described by conf. Console output of its tasks
// goes to console.
func New(conf *config.Config, console io.Writer) (*Machine, error) {
	mf, err := pgalloc.NewMemoryFile(pgalloc.MemoryFileOpts{
		Frames:       conf.Frames,
		Name:         "ksim-memory",
		DisableMemfd: conf.DisableMemfd,
	})
	if err != nil {
		return nil, fmt.Errorf("creating physical memory: %w", err)
	}
	cu := cleanup.Make(mf.Destroy)
	defer cu.Clean()

	k := &kernel.Kernel{}
	if err := k.Init(kernel.InitKernelArgs{
		MemoryFile:    mf,
		CPUs:          conf.CPUs,
		MaxTasks:      conf.MaxTasks,
		TimerInterval: conf.TimerInterval,
	}); err != nil {
		return nil, fmt.Errorf("initializing kernel: %w", err)
	}
	cu.Release()
	return &Machine{
		conf:    conf,
		mf:      mf,
		k:       k,
		console: kernel.NewFile("console", console),
	}, nil
}

// Kernel returns the machine's kernel.
func (m *Machine) Kernel() *kernel.Kernel {
	return m.k
}

// Destroy releases the machine's memory. The machine must not be running.
func (m *Machine) Destroy() {
	m.console.DecRef()
	m.mf.Destroy()
}

// Run boots init with w as its program and runs the machine until the
// workload completes or ctx is done.
func (m *Machine) Run(ctx context.Context, w Workload) (*Result, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	res := newResult()
	done := make(chan struct{})
	m.k.UserInit(initcode, w.initMain(res, done), m.console)
	res.BootFreeFrames = m.mf.FreeFrames()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		errc <- m.k.Run(ctx)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("workload did not finish: %w", ctx.Err())
	}
	cancel()
	if runErr := <-errc; runErr != nil && err == nil {
		err = runErr
	}
	for _, c := range m.k.CPUs() {
		res.Switches = append(res.Switches, c.Switches())
	}
	res.FreeFrames = m.mf.FreeFrames()
	log.Infof("Workload finished: %d tasks reaped, %d free frames", len(res.Statuses), res.FreeFrames)
	return res, err
}

// Check verifies the machine's state after a completed run of w: every
// worker was reaped with its expected status, the frame pool is
// consistent and holds every frame not owned by init, and no
// reference-counted object leaked besides init's.
func (m *Machine) Check(w Workload, res *Result) error {
	var errs []error
	if got := len(res.Statuses); got != w.Workers {
		errs = append(errs, fmt.Errorf("%d workers reaped, want %d", got, w.Workers))
	}
	for tid, status := range res.Statuses {
		if want := expectedStatus(tid); status != want {
			errs = append(errs, fmt.Errorf("worker %d exited with %d, want %d", tid, status, want))
		}
	}
	if want := w.Workers * w.Rounds; res.Counter != want {
		errs = append(errs, fmt.Errorf("shared counter is %d, want %d", res.Counter, want))
	}
	if res.FreeFrames != res.BootFreeFrames {
		errs = append(errs, fmt.Errorf("%d free frames after the run, want %d", res.FreeFrames, res.BootFreeFrames))
	}
	if err := m.mf.CheckFreeList(); err != nil {
		errs = append(errs, err)
	}
	if tasks := m.k.Tasks(); len(tasks) != 1 || tasks[0].TID != kernel.InitTID {
		errs = append(errs, fmt.Errorf("tasks left after the run: %+v", tasks))
	}
	// The console is held by init's descriptors and by the machine.
	if refs.LeakCheckEnabled() {
		if n := refs.DoLeakCheck(); n != 1 {
			errs = append(errs, fmt.Errorf("%d live reference-counted objects, want 1", n))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("check failed: %v", errs)
}
