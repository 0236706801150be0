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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/armkern/ksim/boot"
	"gvisor.dev/armkern/ksim/config"
	"gvisor.dev/armkern/pkg/log"
)

// Check implements subcommands.Command for the "check" command.
type Check struct {
	workloadFlags
	iterations int
}

// Name implements subcommands.Command.Name.
func (*Check) Name() string {
	return "check"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Check) Synopsis() string {
	return "repeatedly boot the machine and verify the kernel's invariants"
}

// Usage implements subcommands.Command.Usage.
func (*Check) Usage() string {
	return `check [flags] - runs the workload on a fresh machine several times,
discarding console output, and verifies after each run that every worker
was reaped with its expected status and that no memory leaked.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Check) SetFlags(f *flag.FlagSet) {
	c.setFlags(f)
	f.IntVar(&c.iterations, "iterations", 10, "number of machines to boot.")
}

// Execute implements subcommands.Command.Execute.
func (c *Check) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || c.iterations < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	failed := 0
	for i := 0; i < c.iterations; i++ {
		if err := c.runOnce(ctx, conf); err != nil {
			writeError("iteration %d: %v", i, err)
			failed++
			continue
		}
		log.Infof("Iteration %d passed", i)
	}
	fmt.Fprintf(os.Stdout, "%d of %d iterations passed\n", c.iterations-failed, c.iterations)
	if failed > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *Check) runOnce(ctx context.Context, conf *config.Config) error {
	m, err := boot.New(conf, io.Discard)
	if err != nil {
		return err
	}
	defer m.Destroy()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := m.Run(ctx, c.workload)
	if err != nil {
		return err
	}
	return m.Check(c.workload, res)
}
