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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/armkern/ksim/boot"
	"gvisor.dev/armkern/ksim/config"
	"gvisor.dev/armkern/pkg/log"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	workloadFlags
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot the machine and run a workload, printing the console"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] - boots the simulated machine. init forks the workers,
each of which execs the worker image, and reaps them. Console output is
written to stdout.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	b.setFlags(f)
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	m, err := boot.New(conf, &Writer{})
	if err != nil {
		Fatalf("creating machine: %v", err)
	}
	defer m.Destroy()

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	res, err := m.Run(ctx, b.workload)
	if err != nil {
		Fatalf("running workload: %v", err)
	}
	for tid, status := range res.Statuses {
		log.Debugf("Task %d exited with status %d", tid, status)
	}
	fmt.Fprintf(os.Stdout, "%d workers reaped, counter %d, switches per CPU %v\n", len(res.Statuses), res.Counter, res.Switches)
	if err := m.Check(b.workload, res); err != nil {
		writeError("%v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
