//go:build darwin && cgo

package payload

/*
#include <stdlib.h>
#include <stdint.h>
#include <dlfcn.h>

static uint64_t machinject_dlsym(const char *name) {
	return (uint64_t)(uintptr_t)dlsym(RTLD_DEFAULT, name);
}
*/
import "C"

import (
	"unsafe"

	"github.com/pkg/errors"
)

// DlsymResolver returns a Resolver that looks symbols up in the
// current process with dlsym.
//
// The addresses are only valid in the target because the system
// libraries live in the dyld shared cache, which every process of a
// boot session maps at the same slide. This is assumed, not verified.
func DlsymResolver() (Resolver, error) {
	return dlsymResolver{}, nil
}

type dlsymResolver struct{}

func (dlsymResolver) Resolve(symbol string) (uint64, error) {
	name := C.CString(symbol)
	defer C.free(unsafe.Pointer(name))

	addr := uint64(C.machinject_dlsym(name))
	if addr == 0 {
		return 0, errors.Wrapf(ErrSymbolNotFound, "dlsym could not find %q", symbol)
	}

	return addr, nil
}
