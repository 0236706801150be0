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

package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/go-cmp/cmp"
	"gvisor.dev/armkern/pkg/refs"
)

func newTestFlags(t *testing.T) *flag.FlagSet {
	t.Helper()
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	return testFlags
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ksim.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newTestFlags(t))
	if err != nil {
		t.Fatal(err)
	}
	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
	if c.CPUs != 2 || c.TimerInterval != 10*time.Millisecond || c.ReferenceLeak != refs.NoLeakChecking {
		t.Errorf("unexpected defaults: %+v", c)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := newTestFlags(t)
	for name, value := range map[string]string{
		"cpus":           "4",
		"debug":          "true",
		"timer-interval": "1ms",
		"ref-leak-mode":  "log-names",
	} {
		if err := testFlags.Set(name, value); err != nil {
			t.Errorf("Flag set %s: %v", name, err)
		}
	}

	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if want := 4; c.CPUs != want {
		t.Errorf("CPUs=%v, want: %v", c.CPUs, want)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := time.Millisecond; c.TimerInterval != want {
		t.Errorf("TimerInterval=%v, want: %v", c.TimerInterval, want)
	}
	if want := refs.LeaksLogWarning; c.ReferenceLeak != want {
		t.Errorf("ReferenceLeak=%v, want: %v", c.ReferenceLeak, want)
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	testFlags := newTestFlags(t)
	testFlags.Set("cpus", "4")
	testFlags.Set("debug", "true")
	testFlags.Set("disable-memfd", "false") // Matches default value.
	testFlags.Set("log-format", "json")
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}

	got := c.ToFlags()
	want := []string{"--cpus=4", "--log-format=json", "--debug=true"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToFlags() mismatch (-want +got):\n%s", diff)
	}
}

func TestFileOverriddenByFlags(t *testing.T) {
	path := writeConfigFile(t, strings.Join([]string{
		`cpus = 3`,
		`frames = 1024`,
		`timer_interval = "2ms"`,
		`ref_leak_mode = "panic"`,
		`debug = true`,
	}, "\n"))
	testFlags := newTestFlags(t)
	testFlags.Set("config", path)
	testFlags.Set("cpus", "5")

	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	got := struct {
		CPUs, Frames, MaxTasks int
		TimerInterval          time.Duration
		ReferenceLeak          refs.LeakMode
		Debug                  bool
	}{c.CPUs, c.Frames, c.MaxTasks, c.TimerInterval, c.ReferenceLeak, c.Debug}
	want := got
	want.CPUs = 5
	want.Frames = 1024
	want.MaxTasks = 64
	want.TimerInterval = 2 * time.Millisecond
	want.ReferenceLeak = refs.LeaksPanic
	want.Debug = true
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestFileErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
	}{
		{name: "syntax", contents: `cpus = `},
		{name: "unknown key", contents: `gpus = 2`},
		{name: "invalid value", contents: `cpus = 0`},
		{name: "bad leak mode", contents: `ref_leak_mode = "sometimes"`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := newTestFlags(t)
			testFlags.Set("config", writeConfigFile(t, tc.contents))
			if _, err := NewFromFlags(testFlags); err == nil {
				t.Errorf("NewFromFlags succeeded with config %q", tc.contents)
			}
		})
	}
	testFlags := newTestFlags(t)
	testFlags.Set("config", filepath.Join(t.TempDir(), "missing.toml"))
	if _, err := NewFromFlags(testFlags); err == nil {
		t.Errorf("NewFromFlags succeeded with a missing config file")
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		flag, value string
	}{
		{"cpus", "0"},
		{"cpus", "9"},
		{"frames", "8"},
		{"max-tasks", "1"},
		{"timer-interval", "0s"},
		{"log-format", "xml"},
	} {
		testFlags := newTestFlags(t)
		if err := testFlags.Set(tc.flag, tc.value); err != nil {
			t.Fatalf("Flag set %s: %v", tc.flag, err)
		}
		if _, err := NewFromFlags(testFlags); err == nil {
			t.Errorf("NewFromFlags with --%s=%s succeeded", tc.flag, tc.value)
		}
	}
}

func TestTOMLRoundTrip(t *testing.T) {
	testFlags := newTestFlags(t)
	for name, value := range map[string]string{
		"cpus":           "3",
		"frames":         "512",
		"timer-interval": "2ms",
		"ref-leak-mode":  "log-names",
		"log-format":     "json",
	} {
		if err := testFlags.Set(name, value); err != nil {
			t.Fatalf("Flag set %s: %v", name, err)
		}
	}
	want, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}

	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(want); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	path := writeConfigFile(t, b.String())

	fileFlags := newTestFlags(t)
	if err := fileFlags.Set("config", path); err != nil {
		t.Fatal(err)
	}
	got, err := NewFromFlags(fileFlags)
	if err != nil {
		t.Fatalf("NewFromFlags from encoded file:\n%s\nerror: %v", b.String(), err)
	}
	got.ConfigFile = ""
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config mismatch after round trip (-want +got):\n%s", diff)
	}
}
