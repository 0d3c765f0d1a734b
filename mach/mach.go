// Package mach wraps the Mach kernel primitives needed to manipulate
// another task's address space and threads.
//
// The Kernel interface is the boundary between the injection engine and
// the operating system. Host returns the real implementation on darwin.
// The machtest package provides a recording test double.
package mach

import (
	"fmt"

	"github.com/pkg/errors"
)

// Task is a send right to a task port, as returned by task_for_pid.
type Task uint32

// VMAddress is an address in a task's virtual address space
// (mach_vm_address_t).
type VMAddress uint64

func (o VMAddress) String() string {
	return fmt.Sprintf("0x%x", uint64(o))
}

// Prot is a set of virtual memory protection flags (vm_prot_t).
type Prot int32

const (
	ProtNone    Prot = 0x0
	ProtRead    Prot = 0x1
	ProtWrite   Prot = 0x2
	ProtExecute Prot = 0x4

	// ProtDefault is the protection of freshly allocated memory.
	ProtDefault = ProtRead | ProtWrite
)

func (o Prot) Has(flags Prot) bool {
	return o&flags == flags
}

func (o Prot) String() string {
	str := []byte("---")
	if o.Has(ProtRead) {
		str[0] = 'r'
	}
	if o.Has(ProtWrite) {
		str[1] = 'w'
	}
	if o.Has(ProtExecute) {
		str[2] = 'x'
	}
	return string(str)
}

// Kernel abstracts the Mach calls used to inject code into a task.
//
// Failed calls return an error that wraps the kern_return_t reported
// by the kernel. Use StatusOf to retrieve it.
type Kernel interface {
	// TaskForPID returns the task port for the process identified
	// by pid (task_for_pid).
	TaskForPID(pid int) (Task, error)

	// ReleaseTask releases the caller's reference to the task port
	// (mach_port_deallocate).
	ReleaseTask(task Task) error

	// Allocate reserves size bytes anywhere in the task's address
	// space (mach_vm_allocate).
	Allocate(task Task, size uint64) (VMAddress, error)

	// Deallocate releases memory previously reserved by Allocate
	// (mach_vm_deallocate).
	Deallocate(task Task, address VMAddress, size uint64) error

	// Write copies data into the task at address (mach_vm_write).
	Write(task Task, address VMAddress, data []byte) error

	// Protect sets the current protection of a memory range
	// (mach_vm_protect).
	Protect(task Task, address VMAddress, size uint64, prot Prot) error

	// CreateRunningThread creates a new thread in the task with the
	// specified register state and starts it (thread_create_running).
	CreateRunningThread(task Task, state ThreadState) error
}

// StatusOf returns the kern_return_t wrapped by err, if any.
func StatusOf(err error) (KernReturn, bool) {
	var kr KernReturn
	if errors.As(err, &kr) {
		return kr, true
	}

	return KernSuccess, false
}

// StatusError returns nil if kr is KernSuccess. Otherwise it returns
// kr wrapped with the name of the failed call.
func StatusError(kr KernReturn, call string) error {
	if kr == KernSuccess {
		return nil
	}

	return errors.Wrapf(kr, "%s failed", call)
}
