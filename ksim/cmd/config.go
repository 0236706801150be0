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
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/subcommands"
	"gvisor.dev/armkern/ksim/config"
)

// Config implements subcommands.Command for the "config" command.
type Config struct {
	asFlags bool
}

// Name implements subcommands.Command.Name.
func (*Config) Name() string {
	return "config"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Config) Synopsis() string {
	return "print the effective configuration"
}

// Usage implements subcommands.Command.Usage.
func (*Config) Usage() string {
	return `config [flags] - prints the configuration resulting from the
configuration file and command line flags, as a TOML file accepted by
--config.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Config) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.asFlags, "flags", false, "print the settings that differ from their defaults as command line flags instead.")
}

// Execute implements subcommands.Command.Execute.
func (c *Config) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	if c.asFlags {
		fmt.Fprintln(os.Stdout, strings.Join(conf.ToFlags(), " "))
		return subcommands.ExitSuccess
	}
	if err := toml.NewEncoder(os.Stdout).Encode(conf); err != nil {
		Fatalf("encoding configuration: %v", err)
	}
	return subcommands.ExitSuccess
}
