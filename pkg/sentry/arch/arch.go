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

// Package arch describes the AArch64 register state the kernel saves for
// each task: the trap frame for kernel to user transitions and the
// callee-saved context for kernel to kernel switches.
package arch

import "fmt"

// SPSR_EL1 values.
const (
	// PsrModeEL0t returns to EL0 using SP_EL0 with interrupts unmasked.
	PsrModeEL0t = 0
)

// TrapFrame is the user register state saved on exception entry and
// restored on exception return.
//
// General purpose registers usage on Arm64:
// R0...R7: parameter/result registers.
// R8: syscall number.
// R19...R28: callee-saved registers.
// R29: the frame pointer.
// R30: the link register.
type TrapFrame struct {
	// TPIDR_EL0 is the user thread pointer.
	TPIDR_EL0 uint64

	// Q0 is the first SIMD register, which the C library clobbers in
	// memcpy and friends.
	Q0 [2]uint64

	// SP_EL0 is the user stack pointer.
	SP_EL0 uint64

	// SPSR_EL1 is the saved program status.
	SPSR_EL1 uint64

	// ELR_EL1 is the user program counter to return to.
	ELR_EL1 uint64

	// Regs are X0 to X30.
	Regs [31]uint64
}

// Return returns the current syscall return value.
func (t *TrapFrame) Return() uint64 {
	return t.Regs[0]
}

// SetReturn sets the syscall return value.
func (t *TrapFrame) SetReturn(value uint64) {
	t.Regs[0] = value
}

// IP returns the current instruction pointer.
func (t *TrapFrame) IP() uint64 {
	return t.ELR_EL1
}

// SetIP sets the current instruction pointer.
func (t *TrapFrame) SetIP(value uint64) {
	t.ELR_EL1 = value
}

// Stack returns the current stack pointer.
func (t *TrapFrame) Stack() uint64 {
	return t.SP_EL0
}

// SetStack sets the current stack pointer.
func (t *TrapFrame) SetStack(value uint64) {
	t.SP_EL0 = value
}

// TLS returns the current TLS pointer.
func (t *TrapFrame) TLS() uint64 {
	return t.TPIDR_EL0
}

// SyscallNo returns the syscall number, passed in X8.
func (t *TrapFrame) SyscallNo() uint64 {
	return t.Regs[8]
}

// SyscallArgs returns the six syscall arguments, passed in X0 to X5.
func (t *TrapFrame) SyscallArgs() SyscallArguments {
	var a SyscallArguments
	for i := range a {
		a[i].Value = t.Regs[i]
	}
	return a
}

// String implements fmt.Stringer.String.
func (t *TrapFrame) String() string {
	return fmt.Sprintf("pc=%#x sp=%#x spsr=%#x x0=%#x x1=%#x x30=%#x", t.ELR_EL1, t.SP_EL0, t.SPSR_EL1, t.Regs[0], t.Regs[1], t.Regs[30])
}

// Context is the register state saved by a kernel to kernel switch: the
// callee-saved registers, the frame pointer and the link register, which
// holds the address execution continues at when the context is resumed.
type Context struct {
	// Regs are X19 to X28.
	Regs [10]uint64

	// FP is X29.
	FP uint64

	// LR is X30.
	LR uint64
}

// Reset zeroes c and points it at entry.
func (c *Context) Reset(entry uint64) {
	*c = Context{LR: entry}
}

// SyscallArgument is an argument supplied to a syscall implementation.
type SyscallArgument struct {
	// Value is the raw register value.
	Value uint64
}

// SyscallArguments represents the set of arguments passed to a syscall.
type SyscallArguments [6]SyscallArgument

// Int returns the int32 representation of a 32-bit signed integer argument.
func (a SyscallArgument) Int() int32 {
	return int32(a.Value)
}

// Int64 returns the int64 representation of a 64-bit signed integer argument.
func (a SyscallArgument) Int64() int64 {
	return int64(a.Value)
}

// Uint64 returns the uint64 representation of a 64-bit unsigned integer argument.
func (a SyscallArgument) Uint64() uint64 {
	return a.Value
}
