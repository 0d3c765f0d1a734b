package mach

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"gitlab.com/stephen-fox/machinject/bstruct"
)

// ThreadStateFlavor identifies the layout of a thread state record
// (thread_state_flavor_t).
type ThreadStateFlavor int32

const (
	// X86ThreadState32Flavor is x86_THREAD_STATE32 (i386_THREAD_STATE).
	X86ThreadState32Flavor ThreadStateFlavor = 1

	// X86ThreadState64Flavor is x86_THREAD_STATE64.
	X86ThreadState64Flavor ThreadStateFlavor = 4
)

// ThreadState is a register state record that can be passed to
// thread_create_running.
type ThreadState interface {
	// Flavor returns the state's flavor.
	Flavor() ThreadStateFlavor

	// Words returns the state as natural_t words, which is the
	// representation the kernel expects.
	Words() ([]uint32, error)

	// InstructionPointer returns the address the thread starts at.
	InstructionPointer() VMAddress

	// StackPointer returns the thread's initial stack pointer.
	StackPointer() VMAddress
}

// I386ThreadState mirrors i386_thread_state_t.
type I386ThreadState struct {
	EAX    uint32
	EBX    uint32
	ECX    uint32
	EDX    uint32
	EDI    uint32
	ESI    uint32
	EBP    uint32
	ESP    uint32
	SS     uint32
	EFLAGS uint32
	EIP    uint32
	CS     uint32
	DS     uint32
	ES     uint32
	FS     uint32
	GS     uint32
}

func (o I386ThreadState) Flavor() ThreadStateFlavor {
	return X86ThreadState32Flavor
}

func (o I386ThreadState) Words() ([]uint32, error) {
	return stateWords(o)
}

func (o I386ThreadState) InstructionPointer() VMAddress {
	return VMAddress(o.EIP)
}

func (o I386ThreadState) StackPointer() VMAddress {
	return VMAddress(o.ESP)
}

// X86ThreadState64 mirrors x86_thread_state64_t.
type X86ThreadState64 struct {
	RAX    uint64
	RBX    uint64
	RCX    uint64
	RDX    uint64
	RDI    uint64
	RSI    uint64
	RBP    uint64
	RSP    uint64
	R8     uint64
	R9     uint64
	R10    uint64
	R11    uint64
	R12    uint64
	R13    uint64
	R14    uint64
	R15    uint64
	RIP    uint64
	RFLAGS uint64
	CS     uint64
	FS     uint64
	GS     uint64
}

func (o X86ThreadState64) Flavor() ThreadStateFlavor {
	return X86ThreadState64Flavor
}

func (o X86ThreadState64) Words() ([]uint32, error) {
	return stateWords(o)
}

func (o X86ThreadState64) InstructionPointer() VMAddress {
	return VMAddress(o.RIP)
}

func (o X86ThreadState64) StackPointer() VMAddress {
	return VMAddress(o.RSP)
}

// Thread state records are defined in host byte order, which is
// little endian on every x86 flavor.
func stateWords(state interface{}) ([]uint32, error) {
	raw, err := bstruct.StructToBytes(state, binary.LittleEndian, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode thread state")
	}

	if len(raw)%4 != 0 {
		return nil, errors.Errorf("thread state is %d bytes, which is not a multiple of 4", len(raw))
	}

	words := make([]uint32, len(raw)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}

	return words, nil
}
