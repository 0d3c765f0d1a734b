// Package payload builds the code cave executed by the injected thread.
//
// The code cave is a short x86 program stored as a byte template. Its
// placeholders are the immediates of "mov reg, imm" instructions, located
// at fixed offsets that depend on the architecture. Once patched, the
// program does the following:
//
//	_pthread_set_self(stack);       // dlopen relies on thread-local state
//	dlopen(library_path, RTLD_GLOBAL);
//	thread_suspend(mach_thread_self());
//
// Suspending the thread keeps it from running past the end of the code
// into whatever follows it in memory.
package payload

import (
	"github.com/pkg/errors"
	"gitlab.com/stephen-fox/machinject/memory"
)

// Arch is an instruction set a code cave is available for.
type Arch string

const (
	X86_32 Arch = "x86_32"
	X86_64 Arch = "x86_64"
)

// ErrUnsupportedArch is returned when no template exists for
// an architecture.
var ErrUnsupportedArch = errors.New("unsupported architecture")

// Arches returns every architecture with a template.
func Arches() []Arch {
	return []Arch{X86_32, X86_64}
}

// Size is the number of bytes allocated for a code cave. Everything
// after the template's code is zero.
const Size = 100

// Offsets locates each placeholder in a template.
type Offsets struct {
	PthreadSetSelf int
	LibraryPath    int
	Dlopen         int
	MachThreadSelf int
	ThreadSuspend  int
}

// Template is a code cave for one architecture.
type Template struct {
	Arch        Arch
	Bits        int
	PointerSize int
	Code        []byte
	Size        int
	Offsets     Offsets
}

// Bytes returns a copy of the unpatched code cave, padded to Size.
func (o Template) Bytes() []byte {
	b := make([]byte, o.Size)
	copy(b, o.Code)
	return b
}

// PointerMaker returns a PointerMaker for the template's architecture.
func (o Template) PointerMaker() memory.PointerMaker {
	if o.PointerSize == 4 {
		return memory.PointerMakerForX86_32()
	}

	return memory.PointerMakerForX86_64()
}

// Placeholders returns the template's placeholders in the order they
// appear in the code.
func (o Template) Placeholders() []Placeholder {
	return []Placeholder{
		{Name: PthreadSetSelfSymbol, Offset: o.Offsets.PthreadSetSelf},
		{Name: LibraryPathName, Offset: o.Offsets.LibraryPath},
		{Name: DlopenSymbol, Offset: o.Offsets.Dlopen},
		{Name: MachThreadSelfSymbol, Offset: o.Offsets.MachThreadSelf},
		{Name: ThreadSuspendSymbol, Offset: o.Offsets.ThreadSuspend},
	}
}

// Placeholder is a pointer-sized slot in a template.
type Placeholder struct {
	Name   string
	Offset int
}

// TemplateFor returns the template for arch.
func TemplateFor(arch Arch) (Template, error) {
	switch arch {
	case X86_32:
		return x86_32Template, nil
	case X86_64:
		return x86_64Template, nil
	default:
		return Template{}, errors.Wrapf(ErrUnsupportedArch, "%q", arch)
	}
}

// Native returns the template for the architecture the program was
// built for. The injector and the target must share an architecture.
// A mismatch is not detected and corrupts the remote code.
func Native() (Template, error) {
	if nativeArch == "" {
		return Template{}, errors.Wrap(ErrUnsupportedArch, "no code cave for this build")
	}

	return TemplateFor(nativeArch)
}

// _pthread_set_self clobbers the frame, so it is bracketed with
// push/pop of the base pointer. The first argument of dlopen goes
// on the stack in the 32-bit version.
var x86_32Template = Template{
	Arch:        X86_32,
	Bits:        32,
	PointerSize: 4,
	Size:        Size,
	Offsets: Offsets{
		PthreadSetSelf: 4,
		LibraryPath:    12,
		Dlopen:         28,
		MachThreadSelf: 35,
		ThreadSuspend:  45,
	},
	Code: []byte{
		0x55,       // push ebp
		0x89, 0xe5, // mov ebp, esp
		0xb8, 0x00, 0x00, 0x00, 0x00, // mov eax, _pthread_set_self
		0xff, 0xd0, // call eax
		0x5d,                         // pop ebp
		0xbf, 0x00, 0x00, 0x00, 0x00, // mov edi, library_path
		0x89, 0x3c, 0x24, // mov dword ptr [esp], edi
		0xc7, 0x44, 0x24, 0x04, 0x02, 0x00, 0x00, 0x00, // mov dword ptr [esp+4], RTLD_GLOBAL
		0xb8, 0x00, 0x00, 0x00, 0x00, // mov eax, dlopen
		0xff, 0xd0, // call eax
		0xb8, 0x00, 0x00, 0x00, 0x00, // mov eax, mach_thread_self
		0xff, 0xd0, // call eax
		0x89, 0x04, 0x24, // mov dword ptr [esp], eax
		0xb8, 0x00, 0x00, 0x00, 0x00, // mov eax, thread_suspend
		0xff, 0xd0, // call eax
	},
}

var x86_64Template = Template{
	Arch:        X86_64,
	Bits:        64,
	PointerSize: 8,
	Size:        Size,
	Offsets: Offsets{
		PthreadSetSelf: 6,
		LibraryPath:    19,
		Dlopen:         39,
		MachThreadSelf: 51,
		ThreadSuspend:  66,
	},
	Code: []byte{
		0x55,             // push rbp
		0x48, 0x89, 0xe5, // mov rbp, rsp
		0x48, 0xb8, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // mov rax, _pthread_set_self
		0xff, 0xd0, // call rax
		0x5d,                                                       // pop rbp
		0x48, 0xbf, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // mov rdi, library_path
		0x48, 0xbe, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // mov rsi, RTLD_GLOBAL
		0x48, 0xb8, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // mov rax, dlopen
		0xff, 0xd0, // call rax
		0x48, 0xb8, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // mov rax, mach_thread_self
		0xff, 0xd0, // call rax
		0x48, 0x89, 0xc7, // mov rdi, rax
		0x48, 0xb8, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // mov rax, thread_suspend
		0xff, 0xd0, // call rax
	},
}
