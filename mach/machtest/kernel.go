// Package machtest provides a recording mach.Kernel for tests.
//
// The Kernel keeps a model of each allocated region (size, protection
// and content) and enforces the same rules the real kernel does for
// the calls the injector makes: writes must land inside a writable
// region, protection changes must target allocated memory, and threads
// can only be created in a task that has not been released.
package machtest

import (
	"sync"

	"github.com/pkg/errors"
	"gitlab.com/stephen-fox/machinject/mach"
)

const (
	// FirstAddress is the address of the first allocation.
	FirstAddress mach.VMAddress = 0x100000000

	// PageSize is the allocation granularity.
	PageSize = 0x1000
)

// Op names a Kernel method.
type Op string

const (
	OpTaskForPID          Op = "task_for_pid"
	OpReleaseTask         Op = "mach_port_deallocate"
	OpAllocate            Op = "mach_vm_allocate"
	OpDeallocate          Op = "mach_vm_deallocate"
	OpWrite               Op = "mach_vm_write"
	OpProtect             Op = "mach_vm_protect"
	OpCreateRunningThread Op = "thread_create_running"
)

// Call records a single Kernel method invocation.
type Call struct {
	Op      Op
	PID     int
	Task    mach.Task
	Address mach.VMAddress
	Size    uint64
	Data    []byte
	Prot    mach.Prot
	State   mach.ThreadState
}

// Region is the fake kernel's view of an allocation.
type Region struct {
	Address mach.VMAddress
	Size    uint64
	Prot    mach.Prot
	Data    []byte
}

// FailFunc decides whether a call fails. Returning mach.KernSuccess
// lets the call proceed.
type FailFunc func(call Call, nth int) mach.KernReturn

// FailOn returns a FailFunc that fails the nth (1-based) call
// to op with kr.
func FailOn(op Op, nth int, kr mach.KernReturn) FailFunc {
	return func(call Call, callNum int) mach.KernReturn {
		if call.Op == op && callNum == nth {
			return kr
		}

		return mach.KernSuccess
	}
}

// NewKernel returns a Kernel with no tasks or allocations.
func NewKernel() *Kernel {
	return NewKernelAt(FirstAddress)
}

// NewKernelAt returns a Kernel whose first allocation is at base.
// base is rounded up to a page boundary. A base below 4 GiB makes
// room for 32-bit code caves.
func NewKernelAt(base mach.VMAddress) *Kernel {
	return &Kernel{
		nextAddr: mach.VMAddress(roundToPage(uint64(base))),
		regions:  make(map[mach.VMAddress]*Region),
		released: make(map[mach.Task]bool),
		opCounts: make(map[Op]int),
	}
}

// Kernel is a mach.Kernel test double.
type Kernel struct {
	// FailFn optionally makes calls fail.
	FailFn FailFunc

	mu       sync.Mutex
	calls    []Call
	nextAddr mach.VMAddress
	regions  map[mach.VMAddress]*Region
	released map[mach.Task]bool
	opCounts map[Op]int
	threads  []mach.ThreadState
}

var _ mach.Kernel = (*Kernel)(nil)

func (o *Kernel) record(call Call) mach.KernReturn {
	o.calls = append(o.calls, call)
	o.opCounts[call.Op]++

	if o.FailFn == nil {
		return mach.KernSuccess
	}

	return o.FailFn(call, o.opCounts[call.Op])
}

func (o *Kernel) TaskForPID(pid int) (mach.Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if kr := o.record(Call{Op: OpTaskForPID, PID: pid}); kr != mach.KernSuccess {
		return 0, mach.StatusError(kr, string(OpTaskForPID))
	}

	if pid <= 0 {
		return 0, mach.StatusError(mach.KernFailure, string(OpTaskForPID))
	}

	return mach.Task(0x1000 + pid), nil
}

func (o *Kernel) ReleaseTask(task mach.Task) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if kr := o.record(Call{Op: OpReleaseTask, Task: task}); kr != mach.KernSuccess {
		return mach.StatusError(kr, string(OpReleaseTask))
	}

	if o.released[task] {
		return mach.StatusError(mach.KernInvalidName, string(OpReleaseTask))
	}

	o.released[task] = true

	return nil
}

func (o *Kernel) Allocate(task mach.Task, size uint64) (mach.VMAddress, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if kr := o.record(Call{Op: OpAllocate, Task: task, Size: size}); kr != mach.KernSuccess {
		return 0, mach.StatusError(kr, string(OpAllocate))
	}

	if err := o.checkTask(task, OpAllocate); err != nil {
		return 0, err
	}

	if size == 0 {
		return 0, mach.StatusError(mach.KernInvalidArgument, string(OpAllocate))
	}

	addr := o.nextAddr
	o.regions[addr] = &Region{
		Address: addr,
		Size:    size,
		Prot:    mach.ProtDefault,
		Data:    make([]byte, size),
	}

	// Leave an unmapped guard page between allocations.
	o.nextAddr += mach.VMAddress(roundToPage(size) + PageSize)

	return addr, nil
}

func (o *Kernel) Deallocate(task mach.Task, address mach.VMAddress, size uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if kr := o.record(Call{Op: OpDeallocate, Task: task, Address: address, Size: size}); kr != mach.KernSuccess {
		return mach.StatusError(kr, string(OpDeallocate))
	}

	if err := o.checkTask(task, OpDeallocate); err != nil {
		return err
	}

	region, ok := o.regions[address]
	if !ok || region.Size != size {
		return mach.StatusError(mach.KernInvalidAddress, string(OpDeallocate))
	}

	delete(o.regions, address)

	return nil
}

func (o *Kernel) Write(task mach.Task, address mach.VMAddress, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)

	if kr := o.record(Call{Op: OpWrite, Task: task, Address: address, Size: uint64(len(data)), Data: cp}); kr != mach.KernSuccess {
		return mach.StatusError(kr, string(OpWrite))
	}

	if err := o.checkTask(task, OpWrite); err != nil {
		return err
	}

	region, err := o.regionContaining(address, uint64(len(data)))
	if err != nil {
		return mach.StatusError(mach.KernInvalidAddress, string(OpWrite))
	}

	if !region.Prot.Has(mach.ProtWrite) {
		return mach.StatusError(mach.KernProtectionFailure, string(OpWrite))
	}

	copy(region.Data[address-region.Address:], data)

	return nil
}

func (o *Kernel) Protect(task mach.Task, address mach.VMAddress, size uint64, prot mach.Prot) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if kr := o.record(Call{Op: OpProtect, Task: task, Address: address, Size: size, Prot: prot}); kr != mach.KernSuccess {
		return mach.StatusError(kr, string(OpProtect))
	}

	if err := o.checkTask(task, OpProtect); err != nil {
		return err
	}

	region, err := o.regionContaining(address, size)
	if err != nil {
		return mach.StatusError(mach.KernInvalidAddress, string(OpProtect))
	}

	region.Prot = prot

	return nil
}

func (o *Kernel) CreateRunningThread(task mach.Task, state mach.ThreadState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if kr := o.record(Call{Op: OpCreateRunningThread, Task: task, State: state}); kr != mach.KernSuccess {
		return mach.StatusError(kr, string(OpCreateRunningThread))
	}

	if err := o.checkTask(task, OpCreateRunningThread); err != nil {
		return err
	}

	if _, err := state.Words(); err != nil {
		return errors.Wrap(err, "invalid thread state")
	}

	o.threads = append(o.threads, state)

	return nil
}

func (o *Kernel) checkTask(task mach.Task, op Op) error {
	if task == 0 || o.released[task] {
		return mach.StatusError(mach.KernInvalidTask, string(op))
	}

	return nil
}

func (o *Kernel) regionContaining(address mach.VMAddress, size uint64) (*Region, error) {
	for _, region := range o.regions {
		end := region.Address + mach.VMAddress(region.Size)
		if address >= region.Address && address+mach.VMAddress(size) <= end {
			return region, nil
		}
	}

	return nil, errors.Errorf("no region contains %s (%d bytes)", address, size)
}

// Calls returns every recorded call in order.
func (o *Kernel) Calls() []Call {
	o.mu.Lock()
	defer o.mu.Unlock()

	cp := make([]Call, len(o.calls))
	copy(cp, o.calls)

	return cp
}

// CallsTo returns the recorded calls to op in order.
func (o *Kernel) CallsTo(op Op) []Call {
	var calls []Call
	for _, call := range o.Calls() {
		if call.Op == op {
			calls = append(calls, call)
		}
	}

	return calls
}

// Region returns a copy of the allocation at address.
func (o *Kernel) Region(address mach.VMAddress) (Region, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	region, ok := o.regions[address]
	if !ok {
		return Region{}, false
	}

	cp := *region
	cp.Data = make([]byte, len(region.Data))
	copy(cp.Data, region.Data)

	return cp, true
}

// NumRegions returns the number of live allocations.
func (o *Kernel) NumRegions() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.regions)
}

// Threads returns the states of the threads that were started.
func (o *Kernel) Threads() []mach.ThreadState {
	o.mu.Lock()
	defer o.mu.Unlock()

	cp := make([]mach.ThreadState, len(o.threads))
	copy(cp, o.threads)

	return cp
}

// Released returns true if the task port was released.
func (o *Kernel) Released(task mach.Task) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.released[task]
}

func roundToPage(size uint64) uint64 {
	return (size + PageSize - 1) &^ (PageSize - 1)
}
