// Package inject loads a dynamic library into a running Mach task.
//
// An injection attempt is a fixed sequence of steps:
//
//  1. Get the task port for the target pid.
//  2. Allocate and write the library path (including the NUL byte).
//  3. Allocate the thread stack and make it read/write.
//  4. Assemble the code cave for the build architecture.
//  5. Allocate and write the code cave, then make it read/execute.
//  6. Start a thread in the target at the code cave.
//
// The first failing step ends the attempt. Memory allocated by earlier
// steps is deallocated and the task port is released before returning,
// unless Config.KeepOnFailure is set. The started thread runs
// independently of the injector; its result is never observed.
package inject

import (
	"io"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gitlab.com/stephen-fox/machinject/mach"
	"gitlab.com/stephen-fox/machinject/payload"
)

// StackSize is the default size of the injected thread's stack.
// The code cave makes a handful of calls and never recurses.
const StackSize = 0x1000

var (
	// DefaultExitFn is invoked by functions and methods ending in
	// the "OrExit" suffix when an error occurs.
	DefaultExitFn = func(err error) {
		log.Fatalln(err)
	}
)

// Config configures an Injector.
type Config struct {
	// Kernel performs the Mach calls. Use mach.Host for the
	// real kernel.
	Kernel mach.Kernel

	// Resolver locates the runtime functions called by the code
	// cave. Use payload.DlsymResolver on the machine running the
	// target.
	Resolver payload.Resolver

	// OptArch overrides the code cave architecture. It defaults to
	// the architecture the program was built for.
	OptArch payload.Arch

	// OptStackSize overrides StackSize.
	OptStackSize uint64

	// OptLogger receives debug and warning messages. Logging is
	// disabled if nil.
	OptLogger logrus.FieldLogger

	// KeepOnFailure skips deallocating remote memory when an attempt
	// fails. The task port is released regardless.
	KeepOnFailure bool
}

func (o Config) validate() error {
	if o.Kernel == nil {
		return errors.New("kernel cannot be nil")
	}

	if o.Resolver == nil {
		return errors.New("resolver cannot be nil")
	}

	return nil
}

func NewOrExit(config Config) *Injector {
	i, err := New(config)
	if err != nil {
		DefaultExitFn(errors.Wrap(err, "failed to create injector"))
	}
	return i
}

// New creates an *Injector.
func New(config Config) (*Injector, error) {
	err := config.validate()
	if err != nil {
		return nil, err
	}

	var template payload.Template
	if config.OptArch == "" {
		template, err = payload.Native()
	} else {
		template, err = payload.TemplateFor(config.OptArch)
	}
	if err != nil {
		return nil, err
	}

	stackSize := uint64(StackSize)
	if config.OptStackSize > 0 {
		stackSize = config.OptStackSize
	}

	logger := config.OptLogger
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}

	return &Injector{
		kernel:        config.Kernel,
		resolver:      config.Resolver,
		template:      template,
		stackSize:     stackSize,
		logger:        logger,
		keepOnFailure: config.KeepOnFailure,
	}, nil
}

// Injector loads libraries into other tasks. It holds no per-attempt
// state and may be reused.
type Injector struct {
	kernel        mach.Kernel
	resolver      payload.Resolver
	template      payload.Template
	stackSize     uint64
	logger        logrus.FieldLogger
	keepOnFailure bool
}

// Arch returns the architecture of the code cave.
func (o *Injector) Arch() payload.Arch {
	return o.template.Arch
}

func (o *Injector) InjectOrExit(pid int, libraryPath string) Result {
	result, err := o.Inject(pid, libraryPath)
	if err != nil {
		DefaultExitFn(errors.Wrapf(err, "failed to inject %q into %d", libraryPath, pid))
	}
	return result
}

// Inject loads the library at libraryPath into the process identified
// by pid. libraryPath must be absolute or resolvable by the target's
// dynamic loader.
//
// On failure, the returned error is an *Error and the Result is empty.
func (o *Injector) Inject(pid int, libraryPath string) (Result, error) {
	if pid <= 0 {
		return Result{}, &Error{
			Outcome: InvalidParameters,
			Stage:   "validate parameters",
			Err:     errors.Errorf("pid must be greater than zero - got %d", pid),
		}
	}

	if libraryPath == "" || strings.IndexByte(libraryPath, 0) >= 0 {
		return Result{}, &Error{
			Outcome: InvalidParameters,
			Stage:   "validate parameters",
			Err:     errors.Errorf("library path must be non-empty and contain no NUL bytes - got %q", libraryPath),
		}
	}

	logger := o.logger.WithFields(logrus.Fields{
		"attempt": uuid.NewString(),
		"pid":     pid,
		"arch":    o.template.Arch,
	})

	stages := &stageCtl{logger: logger}

	stages.next(stageResolveTask)
	task, err := o.kernel.TaskForPID(pid)
	if err != nil {
		return Result{}, newError(InvalidTarget, stages.current(), err)
	}

	a := &attempt{
		kernel: o.kernel,
		task:   task,
		logger: logger,
	}
	defer a.releaseTask()

	result, err := o.inject(a, stages, libraryPath)
	if err != nil {
		if o.keepOnFailure {
			logger.Warnf("leaving %d region(s) allocated in the target", len(a.regions))
		} else {
			a.rollback()
		}

		return Result{}, err
	}

	stages.done()

	logger.WithFields(logrus.Fields{
		"library_path": result.LibraryPath.Address,
		"stack":        result.Stack.Address,
		"payload":      result.Payload.Address,
	}).Debug("remote thread started")

	return result, nil
}

func (o *Injector) inject(a *attempt, stages *stageCtl, libraryPath string) (Result, error) {
	pathBytes := append([]byte(libraryPath), 0)

	stages.next(stageAllocateLibraryPath)
	pathRegion, err := a.allocate(LibraryPathRegion, uint64(len(pathBytes)))
	if err != nil {
		return Result{}, newError(LibraryPathAllocateFailed, stages.current(), err)
	}

	stages.next(stageWriteLibraryPath)
	err = a.write(pathRegion, pathBytes)
	if err != nil {
		return Result{}, newError(LibraryPathWriteFailed, stages.current(), err)
	}

	stages.next(stageAllocateStack)
	stack, err := a.allocate(StackRegion, o.stackSize)
	if err != nil {
		return Result{}, newError(StackAllocateFailed, stages.current(), err)
	}

	stages.next(stageProtectStack)
	err = a.protect(stack, mach.ProtRead|mach.ProtWrite)
	if err != nil {
		return Result{}, newError(StackProtectFailed, stages.current(), err)
	}

	stages.next(stageAssemblePayload)
	code, patches, err := payload.Assemble(o.template, o.resolver, uint64(pathRegion.Address))
	if err != nil {
		return Result{}, newError(PayloadAssembleFailed, stages.current(), err)
	}

	a.logger.WithFields(logrus.Fields{
		payload.PthreadSetSelfSymbol: mach.VMAddress(patches.PthreadSetSelf),
		payload.DlopenSymbol:         mach.VMAddress(patches.Dlopen),
		payload.MachThreadSelfSymbol: mach.VMAddress(patches.MachThreadSelf),
		payload.ThreadSuspendSymbol:  mach.VMAddress(patches.ThreadSuspend),
	}).Debug("patched code cave")

	stages.next(stageAllocatePayload)
	codeRegion, err := a.allocate(PayloadRegion, uint64(len(code)))
	if err != nil {
		return Result{}, newError(PayloadAllocateFailed, stages.current(), err)
	}

	// Execute-only pages cannot be written, so the code must be
	// written before the protection changes.
	stages.next(stageWritePayload)
	err = a.write(codeRegion, code)
	if err != nil {
		return Result{}, newError(PayloadWriteFailed, stages.current(), err)
	}

	stages.next(stageProtectPayload)
	err = a.protect(codeRegion, mach.ProtRead|mach.ProtExecute)
	if err != nil {
		return Result{}, newError(PayloadProtectFailed, stages.current(), err)
	}

	stages.next(stageLaunchThread)
	state, err := threadStateFor(o.template.Arch, codeRegion.Address, stack.Address)
	if err != nil {
		return Result{}, newError(ThreadCreateFailed, stages.current(), err)
	}

	err = o.kernel.CreateRunningThread(a.task, state)
	if err != nil {
		return Result{}, newError(ThreadCreateFailed, stages.current(), err)
	}

	return Result{
		LibraryPath: pathRegion,
		Stack:       stack,
		Payload:     codeRegion,
		Patches:     patches,
	}, nil
}

// attempt tracks the resources acquired during one call to Inject.
type attempt struct {
	kernel  mach.Kernel
	task    mach.Task
	logger  logrus.FieldLogger
	regions []Region
}

func (o *attempt) allocate(purpose Purpose, size uint64) (Region, error) {
	addr, err := o.kernel.Allocate(o.task, size)
	if err != nil {
		return Region{}, err
	}

	region := Region{
		Address: addr,
		Size:    size,
		Purpose: purpose,
	}

	o.regions = append(o.regions, region)

	return region, nil
}

func (o *attempt) write(region Region, data []byte) error {
	return o.kernel.Write(o.task, region.Address, data)
}

func (o *attempt) protect(region Region, prot mach.Prot) error {
	return o.kernel.Protect(o.task, region.Address, region.Size, prot)
}

// rollback deallocates every tracked region, newest first.
// Failures are logged and do not stop the rollback.
func (o *attempt) rollback() {
	for i := len(o.regions) - 1; i >= 0; i-- {
		region := o.regions[i]

		err := o.kernel.Deallocate(o.task, region.Address, region.Size)
		if err != nil {
			o.logger.WithError(err).Warnf("failed to deallocate %s", region)
			continue
		}

		o.logger.Debugf("deallocated %s", region)
	}

	o.regions = nil
}

func (o *attempt) releaseTask() {
	err := o.kernel.ReleaseTask(o.task)
	if err != nil {
		o.logger.WithError(err).Warn("failed to release task port")
	}
}
