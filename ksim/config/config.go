// Copyright 2020 The gVisor Authors.
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

// Package config provides basic infrastructure to set configuration settings
// for ksim. Each setting is a flag; settings may also come from a TOML file,
// and flags given on the command line take precedence over the file.
package config

import (
	"flag"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"gvisor.dev/armkern/pkg/log"
	"gvisor.dev/armkern/pkg/refs"
	"gvisor.dev/armkern/pkg/sentry/kernel"
)

// Config holds configuration that is not part of a workload.
type Config struct {
	// ConfigFile is the path of a TOML file holding settings. Flags set on
	// the command line override it.
	ConfigFile string `flag:"config" toml:"-"`

	// CPUs is the number of simulated CPUs.
	CPUs int `flag:"cpus" toml:"cpus"`

	// Frames is the number of 4KiB physical frames in the machine.
	Frames int `flag:"frames" toml:"frames"`

	// MaxTasks is the capacity of the task table.
	MaxTasks int `flag:"max-tasks" toml:"max_tasks"`

	// TimerInterval is the period of each CPU's timer.
	TimerInterval time.Duration `flag:"timer-interval" toml:"timer_interval"`

	// DisableMemfd backs physical memory with anonymous memory instead of
	// a memfd.
	DisableMemfd bool `flag:"disable-memfd" toml:"disable_memfd"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format" toml:"log_format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// DebugLog is the path to log debug information to, if not empty. It
	// may contain %TIMESTAMP% and %COMMAND%.
	DebugLog string `flag:"debug-log" toml:"debug_log"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr" toml:"alsologtostderr"`

	// ReferenceLeak sets reference leak check mode.
	ReferenceLeak refs.LeakMode `flag:"ref-leak-mode" toml:"ref_leak_mode"`
}

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("config", "", "TOML file with settings. Flags set on the command line take precedence.")

	// Machine flags.
	flagSet.Int("cpus", 2, "number of simulated CPUs.")
	flagSet.Int("frames", 4096, "number of 4KiB physical frames.")
	flagSet.Int("max-tasks", kernel.DefaultMaxTasks, "capacity of the task table.")
	flagSet.Duration("timer-interval", kernel.DefaultTimerInterval, "period of each CPU's timer interrupt.")
	flagSet.Bool("disable-memfd", false, "back physical memory with anonymous memory instead of a memfd.")

	// Debugging flags.
	flagSet.String("log", "", "file path where internal debug information is written, default is stdout.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("debug-log", "", "additional location for logs. If it ends with '/', log files are created inside the directory with default names. The following variables are available: %TIMESTAMP%, %COMMAND%.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr.")
	leak := refs.NoLeakChecking
	flagSet.Var(&leak, "ref-leak-mode", "sets reference leak check mode: disabled (default), log-names, panic.")
}

// NewFromFlags creates a new Config with values coming from command line
// flags and, if --config is set, the named file.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		x := reflect.ValueOf(fl.Value.(flag.Getter).Get())
		obj.Field(i).Set(x)
	}

	if conf.ConfigFile != "" {
		if err := conf.applyFile(flagSet, conf.ConfigFile); err != nil {
			return nil, err
		}
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// applyFile copies every setting defined in the TOML file at path into c,
// except those whose flag was set explicitly.
func (c *Config) applyFile(flagSet *flag.FlagSet, path string) error {
	var fileConf Config
	md, err := toml.DecodeFile(path, &fileConf)
	if err != nil {
		return fmt.Errorf("error parsing config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown settings in config file %q: %v", path, undecoded)
	}

	explicit := make(map[string]bool)
	flagSet.Visit(func(f *flag.Flag) {
		explicit[f.Name] = true
	})

	obj := reflect.ValueOf(c).Elem()
	fileObj := reflect.ValueOf(&fileConf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		key, ok := f.Tag.Lookup("toml")
		if !ok || key == "-" || !md.IsDefined(key) {
			continue
		}
		if explicit[f.Tag.Get("flag")] {
			continue
		}
		obj.Field(i).Set(fileObj.Field(i))
	}
	return nil
}

func (c *Config) validate() error {
	if c.CPUs < 1 || c.CPUs > kernel.MaxCPUs {
		return fmt.Errorf("cpus must be in [1, %d], got %d", kernel.MaxCPUs, c.CPUs)
	}
	if c.Frames < 16 {
		return fmt.Errorf("frames must be at least 16, got %d", c.Frames)
	}
	if c.MaxTasks < 2 {
		return fmt.Errorf("max-tasks must be at least 2, got %d", c.MaxTasks)
	}
	if c.TimerInterval <= 0 {
		return fmt.Errorf("timer-interval must be positive, got %v", c.TimerInterval)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	return nil
}

// ToFlags returns a slice of flags that correspond to the given Config.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		val := getVal(obj.Field(i))

		flag := flagSet.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if val == flag.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", flag.Name, val))
	}
	return rv
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		log.Infof("\t%s: %s", name, getVal(obj.Field(i)))
	}
}

func getVal(field reflect.Value) string {
	if str, ok := field.Addr().Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}
