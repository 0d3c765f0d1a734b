package inject

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"gitlab.com/stephen-fox/machinject/mach"
	"gitlab.com/stephen-fox/machinject/mach/machtest"
	"gitlab.com/stephen-fox/machinject/payload"
)

const testLibraryPath = "/tmp/test.dylib"

func testResolver() *payload.SymbolTable {
	return payload.NewSymbolTable().
		Set(payload.PthreadSetSelfSymbol, 0x7ff81a2b3c40).
		Set(payload.DlopenSymbol, 0x7ff81a0c1e10).
		Set(payload.MachThreadSelfSymbol, 0x7ff81a3c2d50).
		Set(payload.ThreadSuspendSymbol, 0x7ff81a3c4a60)
}

func newTestInjector(t *testing.T, kernel mach.Kernel, optFn func(*Config)) *Injector {
	t.Helper()

	config := Config{
		Kernel:   kernel,
		Resolver: testResolver(),
		OptArch:  payload.X86_64,
	}

	if optFn != nil {
		optFn(&config)
	}

	injector, err := New(config)
	if err != nil {
		t.Fatal(err)
	}

	return injector
}

func expectOutcome(t *testing.T, err error, exp Outcome) *Error {
	t.Helper()

	if err == nil {
		t.Fatalf("expected %s - got nil error", exp)
	}

	injectErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected an *Error - got %T: %v", err, err)
	}

	if injectErr.Outcome != exp {
		t.Fatalf("expected %s - got %s (%v)", exp, injectErr.Outcome, err)
	}

	return injectErr
}

func TestInject_EndToEnd(t *testing.T) {
	kernel := machtest.NewKernel()
	injector := newTestInjector(t, kernel, nil)

	result, err := injector.Inject(4242, testLibraryPath)
	if err != nil {
		t.Fatal(err)
	}

	outcome, _ := OutcomeOf(err)
	if outcome != Success {
		t.Fatalf("expected Success - got %s", outcome)
	}

	seen := make(map[mach.VMAddress]bool)
	for _, region := range result.Regions() {
		if region.Address == 0 {
			t.Fatalf("%s region has a zero address", region.Purpose)
		}

		if seen[region.Address] {
			t.Fatalf("%s region address %s is not distinct", region.Purpose, region.Address)
		}

		seen[region.Address] = true
	}

	pathSize := uint64(len(testLibraryPath)) + 1

	allocs := kernel.CallsTo(machtest.OpAllocate)
	if len(allocs) != 3 {
		t.Fatalf("expected 3 allocations - got %d", len(allocs))
	}

	expSizes := []uint64{pathSize, StackSize, payload.Size}
	for i, call := range allocs {
		if call.Size != expSizes[i] {
			t.Fatalf("expected allocation %d to be %d bytes - got %d", i, expSizes[i], call.Size)
		}
	}

	writes := kernel.CallsTo(machtest.OpWrite)
	if len(writes) != 2 {
		t.Fatalf("expected 2 writes - got %d", len(writes))
	}

	if writes[0].Address != result.LibraryPath.Address || writes[0].Size != pathSize {
		t.Fatalf("unexpected library path write: %+v", writes[0])
	}

	if writes[1].Address != result.Payload.Address || writes[1].Size != payload.Size {
		t.Fatalf("unexpected payload write: %+v", writes[1])
	}

	threads := kernel.CallsTo(machtest.OpCreateRunningThread)
	if len(threads) != 1 {
		t.Fatalf("expected 1 thread - got %d", len(threads))
	}

	state, ok := threads[0].State.(mach.X86ThreadState64)
	if !ok {
		t.Fatalf("expected an x86_64 thread state - got %T", threads[0].State)
	}

	if mach.VMAddress(state.RIP) != result.Payload.Address {
		t.Fatalf("expected rip %s - got 0x%x", result.Payload.Address, state.RIP)
	}

	stack := uint64(result.Stack.Address)
	if state.RSP != stack || state.RBP != stack || state.RDI != stack {
		t.Fatalf("expected rsp, rbp, rdi to be 0x%x - got 0x%x, 0x%x, 0x%x",
			stack, state.RSP, state.RBP, state.RDI)
	}

	if len(kernel.CallsTo(machtest.OpReleaseTask)) != 1 {
		t.Fatal("expected the task to be released once")
	}

	if len(kernel.CallsTo(machtest.OpDeallocate)) != 0 {
		t.Fatal("expected no deallocations after a successful injection")
	}
}

func TestInject_LibraryPathContent(t *testing.T) {
	kernel := machtest.NewKernel()
	injector := newTestInjector(t, kernel, nil)

	result, err := injector.Inject(4242, testLibraryPath)
	if err != nil {
		t.Fatal(err)
	}

	if result.LibraryPath.Size != uint64(len(testLibraryPath)+1) {
		t.Fatalf("expected library path region of %d bytes - got %d",
			len(testLibraryPath)+1, result.LibraryPath.Size)
	}

	region, ok := kernel.Region(result.LibraryPath.Address)
	if !ok {
		t.Fatal("library path region does not exist")
	}

	exp := append([]byte(testLibraryPath), 0)
	if !bytes.Equal(region.Data, exp) {
		t.Fatalf("expected '%q' - got '%q'", exp, region.Data)
	}
}

func TestInject_Protections(t *testing.T) {
	kernel := machtest.NewKernel()
	injector := newTestInjector(t, kernel, nil)

	result, err := injector.Inject(4242, testLibraryPath)
	if err != nil {
		t.Fatal(err)
	}

	stack, _ := kernel.Region(result.Stack.Address)
	if stack.Prot != mach.ProtRead|mach.ProtWrite {
		t.Fatalf("expected stack to be rw- - got %s", stack.Prot)
	}

	code, _ := kernel.Region(result.Payload.Address)
	if code.Prot != mach.ProtRead|mach.ProtExecute {
		t.Fatalf("expected payload to be r-x - got %s", code.Prot)
	}

	// The payload write must come before its protection change,
	// and nothing may write to it afterwards.
	var protectedAt int
	var lastWriteAt int
	for i, call := range kernel.Calls() {
		if call.Address != result.Payload.Address {
			continue
		}

		switch call.Op {
		case machtest.OpWrite:
			lastWriteAt = i
		case machtest.OpProtect:
			protectedAt = i

			if call.Prot.Has(mach.ProtWrite) {
				t.Fatalf("payload was protected with write access: %s", call.Prot)
			}
		}
	}

	if protectedAt == 0 || lastWriteAt == 0 || lastWriteAt > protectedAt {
		t.Fatalf("expected payload write (call %d) before protect (call %d)",
			lastWriteAt, protectedAt)
	}

	for _, call := range kernel.CallsTo(machtest.OpProtect) {
		if call.Address == result.Stack.Address && call.Prot.Has(mach.ProtExecute) {
			t.Fatalf("stack was made executable: %s", call.Prot)
		}
	}

	patches, err := payload.Extract(mustTemplate(t, payload.X86_64), code.Data)
	if err != nil {
		t.Fatal(err)
	}

	if patches != result.Patches {
		t.Fatalf("expected remote code cave to hold %+v - got %+v", result.Patches, patches)
	}

	if patches.LibraryPath != uint64(result.LibraryPath.Address) {
		t.Fatalf("expected library path placeholder 0x%x - got 0x%x",
			result.LibraryPath.Address, patches.LibraryPath)
	}
}

func TestInject_InvalidPIDMakesNoKernelCalls(t *testing.T) {
	for _, pid := range []int{0, -1, -4242} {
		kernel := machtest.NewKernel()
		injector := newTestInjector(t, kernel, nil)

		result, err := injector.Inject(pid, testLibraryPath)
		injectErr := expectOutcome(t, err, InvalidParameters)

		if injectErr.HasStatus {
			t.Fatalf("expected no kernel status for pid %d", pid)
		}

		if result != (Result{}) {
			t.Fatalf("expected an empty result for pid %d - got %+v", pid, result)
		}

		if n := len(kernel.Calls()); n != 0 {
			t.Fatalf("expected no kernel calls for pid %d - got %d", pid, n)
		}
	}
}

func TestInject_EmptyLibraryPath(t *testing.T) {
	kernel := machtest.NewKernel()
	injector := newTestInjector(t, kernel, nil)

	_, err := injector.Inject(4242, "")
	expectOutcome(t, err, InvalidParameters)

	_, err = injector.Inject(4242, "/tmp/a\x00b.dylib")
	expectOutcome(t, err, InvalidParameters)

	if n := len(kernel.Calls()); n != 0 {
		t.Fatalf("expected no kernel calls - got %d", n)
	}
}

func TestInject_InvalidTargetShortCircuits(t *testing.T) {
	kernel := machtest.NewKernel()
	kernel.FailFn = machtest.FailOn(machtest.OpTaskForPID, 1, mach.KernFailure)
	injector := newTestInjector(t, kernel, nil)

	result, err := injector.Inject(4242, testLibraryPath)
	injectErr := expectOutcome(t, err, InvalidTarget)

	if !injectErr.HasStatus || injectErr.Status != mach.KernFailure {
		t.Fatalf("expected status %s - got %v", mach.KernFailure.Name(), injectErr.Status)
	}

	if result != (Result{}) {
		t.Fatalf("expected an empty result - got %+v", result)
	}

	calls := kernel.Calls()
	if len(calls) != 1 || calls[0].Op != machtest.OpTaskForPID {
		t.Fatalf("expected only task_for_pid to be called - got %+v", calls)
	}
}

func TestInject_FailuresRollBack(t *testing.T) {
	tests := []struct {
		name        string
		failFn      machtest.FailFunc
		exp         Outcome
		numAllocs   int
		numThreads  int
		numRollback int
	}{
		{
			name:      "library path allocate",
			failFn:    machtest.FailOn(machtest.OpAllocate, 1, mach.KernNoSpace),
			exp:       LibraryPathAllocateFailed,
			numAllocs: 1,
		},
		{
			name:        "library path write",
			failFn:      machtest.FailOn(machtest.OpWrite, 1, mach.KernInvalidAddress),
			exp:         LibraryPathWriteFailed,
			numAllocs:   1,
			numRollback: 1,
		},
		{
			name:        "stack allocate",
			failFn:      machtest.FailOn(machtest.OpAllocate, 2, mach.KernResourceShortage),
			exp:         StackAllocateFailed,
			numAllocs:   2,
			numRollback: 1,
		},
		{
			name:        "stack protect",
			failFn:      machtest.FailOn(machtest.OpProtect, 1, mach.KernProtectionFailure),
			exp:         StackProtectFailed,
			numAllocs:   2,
			numRollback: 2,
		},
		{
			name:        "payload allocate",
			failFn:      machtest.FailOn(machtest.OpAllocate, 3, mach.KernNoSpace),
			exp:         PayloadAllocateFailed,
			numAllocs:   3,
			numRollback: 2,
		},
		{
			name:        "payload write",
			failFn:      machtest.FailOn(machtest.OpWrite, 2, mach.KernInvalidAddress),
			exp:         PayloadWriteFailed,
			numAllocs:   3,
			numRollback: 3,
		},
		{
			name:        "payload protect",
			failFn:      machtest.FailOn(machtest.OpProtect, 2, mach.KernProtectionFailure),
			exp:         PayloadProtectFailed,
			numAllocs:   3,
			numRollback: 3,
		},
		{
			name:        "thread create",
			failFn:      machtest.FailOn(machtest.OpCreateRunningThread, 1, mach.KernInvalidArgument),
			exp:         ThreadCreateFailed,
			numAllocs:   3,
			numThreads:  1,
			numRollback: 3,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			kernel := machtest.NewKernel()
			kernel.FailFn = test.failFn
			injector := newTestInjector(t, kernel, nil)

			result, err := injector.Inject(4242, testLibraryPath)
			injectErr := expectOutcome(t, err, test.exp)

			if !injectErr.HasStatus {
				t.Fatal("expected a kernel status")
			}

			if result != (Result{}) {
				t.Fatalf("expected an empty result - got %+v", result)
			}

			if n := len(kernel.CallsTo(machtest.OpAllocate)); n != test.numAllocs {
				t.Fatalf("expected %d allocations - got %d", test.numAllocs, n)
			}

			if n := len(kernel.CallsTo(machtest.OpCreateRunningThread)); n != test.numThreads {
				t.Fatalf("expected %d thread creations - got %d", test.numThreads, n)
			}

			deallocs := kernel.CallsTo(machtest.OpDeallocate)
			if len(deallocs) != test.numRollback {
				t.Fatalf("expected %d deallocations - got %d", test.numRollback, len(deallocs))
			}

			for i := 1; i < len(deallocs); i++ {
				if deallocs[i].Address > deallocs[i-1].Address {
					t.Fatal("expected regions to be deallocated newest first")
				}
			}

			if kernel.NumRegions() != 0 {
				t.Fatalf("expected no regions left in the target - got %d", kernel.NumRegions())
			}

			if len(kernel.CallsTo(machtest.OpReleaseTask)) != 1 {
				t.Fatal("expected the task to be released once")
			}
		})
	}
}

func TestInject_KeepOnFailure(t *testing.T) {
	kernel := machtest.NewKernel()
	kernel.FailFn = machtest.FailOn(machtest.OpCreateRunningThread, 1, mach.KernFailure)
	injector := newTestInjector(t, kernel, func(config *Config) {
		config.KeepOnFailure = true
	})

	_, err := injector.Inject(4242, testLibraryPath)
	expectOutcome(t, err, ThreadCreateFailed)

	if kernel.NumRegions() != 3 {
		t.Fatalf("expected 3 regions to be left allocated - got %d", kernel.NumRegions())
	}

	if len(kernel.CallsTo(machtest.OpReleaseTask)) != 1 {
		t.Fatal("expected the task to be released")
	}
}

func TestInject_RollbackFailureIsLogged(t *testing.T) {
	logger, hook := logtest.NewNullLogger()

	kernel := machtest.NewKernel()
	kernel.FailFn = func(call machtest.Call, nth int) mach.KernReturn {
		switch call.Op {
		case machtest.OpAllocate:
			if nth == 2 {
				return mach.KernNoSpace
			}
		case machtest.OpDeallocate:
			return mach.KernInvalidAddress
		}

		return mach.KernSuccess
	}

	injector := newTestInjector(t, kernel, func(config *Config) {
		config.OptLogger = logger
	})

	_, err := injector.Inject(4242, testLibraryPath)
	injectErr := expectOutcome(t, err, StackAllocateFailed)

	if injectErr.Status != mach.KernNoSpace {
		t.Fatalf("expected the stack allocation status to be reported - got %s",
			injectErr.Status.Name())
	}

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warned = true
		}
	}

	if !warned {
		t.Fatal("expected a warning about the failed deallocation")
	}
}

func TestInject_AssembleFailure(t *testing.T) {
	kernel := machtest.NewKernel()
	injector := newTestInjector(t, kernel, func(config *Config) {
		config.Resolver = testResolver().Delete(payload.DlopenSymbol)
	})

	_, err := injector.Inject(4242, testLibraryPath)
	injectErr := expectOutcome(t, err, PayloadAssembleFailed)

	if injectErr.HasStatus {
		t.Fatal("expected no kernel status for a resolver failure")
	}

	if len(kernel.CallsTo(machtest.OpAllocate)) != 2 {
		t.Fatal("expected the payload to never be allocated")
	}

	if kernel.NumRegions() != 0 {
		t.Fatalf("expected no regions left in the target - got %d", kernel.NumRegions())
	}
}

func TestInject_X86_32AddressesTooLarge(t *testing.T) {
	kernel := machtest.NewKernel()
	injector := newTestInjector(t, kernel, func(config *Config) {
		config.OptArch = payload.X86_32
	})

	// The default fake kernel hands out addresses above 4 GiB, which
	// cannot be encoded in a 32-bit code cave.
	_, err := injector.Inject(4242, testLibraryPath)
	expectOutcome(t, err, PayloadAssembleFailed)
}

func TestInject_X86_32EndToEnd(t *testing.T) {
	kernel := machtest.NewKernelAt(0x100000)
	injector := newTestInjector(t, kernel, func(config *Config) {
		config.OptArch = payload.X86_32
		config.Resolver = payload.NewSymbolTable().
			Set(payload.PthreadSetSelfSymbol, 0x9001b3c0).
			Set(payload.DlopenSymbol, 0x8fe0a2b0).
			Set(payload.MachThreadSelfSymbol, 0x90012d50).
			Set(payload.ThreadSuspendSymbol, 0x90014a60)
	})

	result, err := injector.Inject(4242, testLibraryPath)
	if err != nil {
		t.Fatal(err)
	}

	threads := kernel.CallsTo(machtest.OpCreateRunningThread)
	if len(threads) != 1 {
		t.Fatalf("expected 1 thread - got %d", len(threads))
	}

	state, ok := threads[0].State.(mach.I386ThreadState)
	if !ok {
		t.Fatalf("expected an i386 thread state - got %T", threads[0].State)
	}

	if state.Flavor() != mach.X86ThreadState32Flavor {
		t.Fatalf("expected flavor %d - got %d", mach.X86ThreadState32Flavor, state.Flavor())
	}

	if mach.VMAddress(state.EIP) != result.Payload.Address {
		t.Fatalf("expected eip %s - got 0x%x", result.Payload.Address, state.EIP)
	}

	stack := uint32(result.Stack.Address)
	if state.ESP != stack || state.EBP != stack || state.EDI != stack {
		t.Fatalf("expected esp, ebp, edi to be 0x%x - got 0x%x, 0x%x, 0x%x",
			stack, state.ESP, state.EBP, state.EDI)
	}

	code, ok := kernel.Region(result.Payload.Address)
	if !ok {
		t.Fatal("payload region does not exist")
	}

	if code.Prot != mach.ProtRead|mach.ProtExecute {
		t.Fatalf("expected payload to be r-x - got %s", code.Prot)
	}

	patches, err := payload.Extract(mustTemplate(t, payload.X86_32), code.Data)
	if err != nil {
		t.Fatal(err)
	}

	if patches != result.Patches {
		t.Fatalf("expected remote code cave to hold %+v - got %+v", result.Patches, patches)
	}

	if patches.LibraryPath != uint64(result.LibraryPath.Address) {
		t.Fatalf("expected library path placeholder 0x%x - got 0x%x",
			result.LibraryPath.Address, patches.LibraryPath)
	}

	if patches.Dlopen != 0x8fe0a2b0 {
		t.Fatalf("expected dlopen placeholder 0x8fe0a2b0 - got 0x%x", patches.Dlopen)
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Resolver: testResolver()})
	if err == nil {
		t.Fatal("expected an error for a nil kernel")
	}

	_, err = New(Config{Kernel: machtest.NewKernel()})
	if err == nil {
		t.Fatal("expected an error for a nil resolver")
	}

	_, err = New(Config{
		Kernel:   machtest.NewKernel(),
		Resolver: testResolver(),
		OptArch:  "arm64",
	})
	if err == nil {
		t.Fatal("expected an error for an unsupported architecture")
	}
}

func TestInjector_Reusable(t *testing.T) {
	kernel := machtest.NewKernel()
	injector := newTestInjector(t, kernel, nil)

	first, err := injector.Inject(100, testLibraryPath)
	if err != nil {
		t.Fatal(err)
	}

	second, err := injector.Inject(200, testLibraryPath)
	if err != nil {
		t.Fatal(err)
	}

	if first.Payload.Address == second.Payload.Address {
		t.Fatal("expected each attempt to allocate its own regions")
	}

	if len(kernel.CallsTo(machtest.OpReleaseTask)) != 2 {
		t.Fatal("expected both tasks to be released")
	}
}

func mustTemplate(t *testing.T, arch payload.Arch) payload.Template {
	t.Helper()

	template, err := payload.TemplateFor(arch)
	if err != nil {
		t.Fatal(err)
	}

	return template
}
