//go:build darwin && cgo

package mach

/*
#include <mach/mach.h>
#include <mach/mach_vm.h>

static kern_return_t machinject_task_for_pid(int pid, mach_port_t *task) {
	return task_for_pid(mach_task_self(), pid, task);
}

static kern_return_t machinject_release_task(mach_port_t task) {
	return mach_port_deallocate(mach_task_self(), task);
}

static kern_return_t machinject_vm_write(mach_port_t task, mach_vm_address_t address,
		const void *data, mach_msg_type_number_t size) {
	return mach_vm_write(task, address, (vm_offset_t)data, size);
}

static kern_return_t machinject_create_running_thread(mach_port_t task, int flavor,
		natural_t *state, mach_msg_type_number_t count) {
	thread_act_t thread;
	return thread_create_running(task, (thread_state_flavor_t)flavor,
		(thread_state_t)state, count, &thread);
}
*/
import "C"

import (
	"unsafe"

	"github.com/pkg/errors"
)

// Host returns the Kernel of the machine the program is running on.
func Host() (Kernel, error) {
	return hostKernel{}, nil
}

type hostKernel struct{}

func (hostKernel) TaskForPID(pid int) (Task, error) {
	var task C.mach_port_t

	kr := KernReturn(C.machinject_task_for_pid(C.int(pid), &task))
	if kr != KernSuccess {
		return 0, StatusError(kr, "task_for_pid")
	}

	return Task(task), nil
}

func (hostKernel) ReleaseTask(task Task) error {
	kr := KernReturn(C.machinject_release_task(C.mach_port_t(task)))

	return StatusError(kr, "mach_port_deallocate")
}

func (hostKernel) Allocate(task Task, size uint64) (VMAddress, error) {
	var address C.mach_vm_address_t

	kr := KernReturn(C.mach_vm_allocate(
		C.vm_map_t(task),
		&address,
		C.mach_vm_size_t(size),
		C.VM_FLAGS_ANYWHERE))
	if kr != KernSuccess {
		return 0, StatusError(kr, "mach_vm_allocate")
	}

	return VMAddress(address), nil
}

func (hostKernel) Deallocate(task Task, address VMAddress, size uint64) error {
	kr := KernReturn(C.mach_vm_deallocate(
		C.vm_map_t(task),
		C.mach_vm_address_t(address),
		C.mach_vm_size_t(size)))

	return StatusError(kr, "mach_vm_deallocate")
}

func (hostKernel) Write(task Task, address VMAddress, data []byte) error {
	if len(data) == 0 {
		return errors.New("cannot write zero bytes")
	}

	kr := KernReturn(C.machinject_vm_write(
		C.mach_port_t(task),
		C.mach_vm_address_t(address),
		unsafe.Pointer(&data[0]),
		C.mach_msg_type_number_t(len(data))))

	return StatusError(kr, "mach_vm_write")
}

func (hostKernel) Protect(task Task, address VMAddress, size uint64, prot Prot) error {
	kr := KernReturn(C.mach_vm_protect(
		C.vm_map_t(task),
		C.mach_vm_address_t(address),
		C.mach_vm_size_t(size),
		C.boolean_t(0),
		C.vm_prot_t(prot)))

	return StatusError(kr, "mach_vm_protect")
}

func (hostKernel) CreateRunningThread(task Task, state ThreadState) error {
	words, err := state.Words()
	if err != nil {
		return err
	}

	if len(words) == 0 {
		return errors.New("thread state is empty")
	}

	kr := KernReturn(C.machinject_create_running_thread(
		C.mach_port_t(task),
		C.int(state.Flavor()),
		(*C.natural_t)(unsafe.Pointer(&words[0])),
		C.mach_msg_type_number_t(len(words))))

	return StatusError(kr, "thread_create_running")
}
