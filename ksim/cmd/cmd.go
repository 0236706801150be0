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

// Package cmd holds implementations of the ksim commands.
package cmd

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"gvisor.dev/armkern/ksim/boot"
	"gvisor.dev/armkern/pkg/log"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by tools that expect errors to be written to a file.
var ErrorLogger io.Writer

// Writer writes to log and stdout.
type Writer struct{}

// Write implements io.Writer.
func (i *Writer) Write(data []byte) (n int, err error) {
	log.Infof("%s", data)
	return os.Stdout.Write(data)
}

// Fatalf logs to stderr and exits with a failure status code.
func Fatalf(format string, args ...any) {
	log.Warningf("FATAL ERROR: "+format, args...)
	writeError(format, args...)
	os.Exit(128)
}

func writeError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, msg)
	if ErrorLogger != nil {
		_ = json.NewEncoder(ErrorLogger).Encode(struct {
			Msg   string    `json:"msg"`
			Level string    `json:"level"`
			Time  time.Time `json:"time"`
		}{
			Msg:   msg,
			Level: "error",
			Time:  time.Now(),
		})
	}
}

// workloadFlags are the flags describing a workload, shared by the
// commands that run one.
type workloadFlags struct {
	workload boot.Workload
	timeout  time.Duration
}

func (w *workloadFlags) setFlags(f *flag.FlagSet) {
	f.IntVar(&w.workload.Workers, "workers", 4, "number of worker tasks init forks.")
	f.IntVar(&w.workload.Rounds, "rounds", 100, "number of times each worker increments the shared counter.")
	f.IntVar(&w.workload.HeapPages, "heap-pages", 4, "number of pages each worker adds to its heap.")
	f.DurationVar(&w.timeout, "timeout", time.Minute, "time allowed for the workload to complete.")
}
