package mach

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusOf(t *testing.T) {
	err := fmt.Errorf("failed to do the thing - %w", StatusError(KernInvalidArgument, "mach_vm_write"))

	kr, ok := StatusOf(err)
	if !ok {
		t.Fatal("expected a kern_return in the error chain")
	}

	if kr != KernInvalidArgument {
		t.Fatalf("expected %s - got %s", KernInvalidArgument.Name(), kr.Name())
	}

	_, ok = StatusOf(errors.New("not a kernel error"))
	if ok {
		t.Fatal("expected no kern_return")
	}
}

func TestStatusError_Success(t *testing.T) {
	if err := StatusError(KernSuccess, "mach_vm_allocate"); err != nil {
		t.Fatalf("expected nil - got %v", err)
	}
}

func TestKernReturn_Error(t *testing.T) {
	tests := map[KernReturn]string{
		KernSuccess:           "(os/kern) successful",
		KernInvalidArgument:   "(os/kern) invalid argument",
		KernProtectionFailure: "(os/kern) protection failure",
		KernFailure:           "(os/kern) failure",
		KernNoSpace:           "(os/kern) no space available",
		KernCodesignError:     "(os/kern) code signing error",
		KernReturn(0x1337):    "(os/kern) unknown error code 0x1337",
	}

	for kr, exp := range tests {
		if kr.Error() != exp {
			t.Fatalf("expected '%s' - got '%s'", exp, kr.Error())
		}
	}
}

func TestKernReturn_Name(t *testing.T) {
	if KernTerminated.Name() != "KERN_TERMINATED" {
		t.Fatalf("expected KERN_TERMINATED - got %s", KernTerminated.Name())
	}
}

func TestProt_String(t *testing.T) {
	if s := (ProtRead | ProtExecute).String(); s != "r-x" {
		t.Fatalf("expected 'r-x' - got '%s'", s)
	}

	if s := ProtDefault.String(); s != "rw-" {
		t.Fatalf("expected 'rw-' - got '%s'", s)
	}
}
