// Copyright 2021 The gVisor Authors.
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

// Package linuxerr contains syscall error codes exported as error interface
// pointers. This allows for fast comparison and return operations comperable
// to unix.Errno constants.
package linuxerr

import (
	goerrors "errors"

	"golang.org/x/sys/unix"
	"gvisor.dev/armkern/pkg/errors"
)

// The subset of errnos the process and memory core can produce.
var (
	EPERM   = errors.New(unix.EPERM, "operation not permitted")
	ESRCH   = errors.New(unix.ESRCH, "no such process")
	EINTR   = errors.New(unix.EINTR, "interrupted system call")
	E2BIG   = errors.New(unix.E2BIG, "argument list too long")
	ENOEXEC = errors.New(unix.ENOEXEC, "exec format error")
	EBADF   = errors.New(unix.EBADF, "bad file number")
	ECHILD  = errors.New(unix.ECHILD, "no child processes")
	EAGAIN  = errors.New(unix.EAGAIN, "try again")
	ENOMEM  = errors.New(unix.ENOMEM, "out of memory")
	EFAULT  = errors.New(unix.EFAULT, "bad address")
	EINVAL  = errors.New(unix.EINVAL, "invalid argument")
	EMFILE  = errors.New(unix.EMFILE, "too many open files")
)

// ToError converts an errno to an error. A zero errno yields nil.
func ToError(e unix.Errno) error {
	switch e {
	case 0:
		return nil
	case unix.EPERM:
		return EPERM
	case unix.ESRCH:
		return ESRCH
	case unix.EINTR:
		return EINTR
	case unix.E2BIG:
		return E2BIG
	case unix.ENOEXEC:
		return ENOEXEC
	case unix.EBADF:
		return EBADF
	case unix.ECHILD:
		return ECHILD
	case unix.EAGAIN:
		return EAGAIN
	case unix.ENOMEM:
		return ENOMEM
	case unix.EFAULT:
		return EFAULT
	case unix.EINVAL:
		return EINVAL
	case unix.EMFILE:
		return EMFILE
	}
	return errors.New(e, e.Error())
}

// ToErrno returns the errno carried by err, if any.
func ToErrno(err error) (unix.Errno, bool) {
	var e *errors.Error
	if goerrors.As(err, &e) {
		return e.Errno(), true
	}
	return 0, false
}

// Equals compares a *errors.Error to a standard error. It is used to
// compare errors that may be wrapped.
func Equals(e *errors.Error, err error) bool {
	got, ok := ToErrno(err)
	return ok && got == e.Errno()
}
