package inject

import (
	"github.com/pkg/errors"
	"gitlab.com/stephen-fox/machinject/mach"
	"gitlab.com/stephen-fox/machinject/payload"
)

// threadStateFor builds the register state of the injected thread.
// The instruction pointer is the code cave. The stack pointer, frame
// pointer and first argument register are the stack region, since
// _pthread_set_self takes the thread's stack as its argument.
func threadStateFor(arch payload.Arch, code mach.VMAddress, stack mach.VMAddress) (mach.ThreadState, error) {
	switch arch {
	case payload.X86_64:
		return mach.X86ThreadState64{
			RIP: uint64(code),
			RDI: uint64(stack),
			RSP: uint64(stack),
			RBP: uint64(stack),
		}, nil
	case payload.X86_32:
		if code>>32 != 0 || stack>>32 != 0 {
			return nil, errors.Errorf("addresses %s and %s do not fit in 32-bit registers",
				code, stack)
		}

		return mach.I386ThreadState{
			EIP: uint32(code),
			EDI: uint32(stack),
			ESP: uint32(stack),
			EBP: uint32(stack),
		}, nil
	default:
		return nil, errors.Wrapf(payload.ErrUnsupportedArch, "%q", arch)
	}
}
