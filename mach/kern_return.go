package mach

import "fmt"

// KernReturn is a Mach kern_return_t status code.
type KernReturn int32

const (
	KernSuccess           KernReturn = 0
	KernInvalidAddress    KernReturn = 1
	KernProtectionFailure KernReturn = 2
	KernNoSpace           KernReturn = 3
	KernInvalidArgument   KernReturn = 4
	KernFailure           KernReturn = 5
	KernResourceShortage  KernReturn = 6
	KernNotReceiver       KernReturn = 7
	KernNoAccess          KernReturn = 8
	KernInvalidName       KernReturn = 15
	KernInvalidTask       KernReturn = 16
	KernInvalidRight      KernReturn = 17
	KernInvalidValue      KernReturn = 18
	KernTerminated        KernReturn = 37
	KernNotSupported      KernReturn = 46
	KernCodesignError     KernReturn = 50
)

type kernReturnInfo struct {
	name string
	desc string
}

// Descriptions match what mach_error_string reports for the
// (os/kern) subsystem.
var kernReturns = []kernReturnInfo{
	{"KERN_SUCCESS", "successful"},
	{"KERN_INVALID_ADDRESS", "invalid address"},
	{"KERN_PROTECTION_FAILURE", "protection failure"},
	{"KERN_NO_SPACE", "no space available"},
	{"KERN_INVALID_ARGUMENT", "invalid argument"},
	{"KERN_FAILURE", "failure"},
	{"KERN_RESOURCE_SHORTAGE", "resource shortage"},
	{"KERN_NOT_RECEIVER", "not receiver"},
	{"KERN_NO_ACCESS", "no access"},
	{"KERN_MEMORY_FAILURE", "memory failure"},
	{"KERN_MEMORY_ERROR", "memory error"},
	{"KERN_ALREADY_IN_SET", "already in set"},
	{"KERN_NOT_IN_SET", "not in set"},
	{"KERN_NAME_EXISTS", "name exists"},
	{"KERN_ABORTED", "aborted"},
	{"KERN_INVALID_NAME", "invalid name"},
	{"KERN_INVALID_TASK", "invalid task"},
	{"KERN_INVALID_RIGHT", "invalid right"},
	{"KERN_INVALID_VALUE", "invalid value"},
	{"KERN_UREFS_OVERFLOW", "urefs overflow"},
	{"KERN_INVALID_CAPABILITY", "invalid capability"},
	{"KERN_RIGHT_EXISTS", "right exists"},
	{"KERN_INVALID_HOST", "invalid host"},
	{"KERN_MEMORY_PRESENT", "memory present"},
	{"KERN_MEMORY_DATA_MOVED", "memory data moved"},
	{"KERN_MEMORY_RESTART_COPY", "memory restart copy"},
	{"KERN_INVALID_PROCESSOR_SET", "invalid processor set"},
	{"KERN_POLICY_LIMIT", "policy limit"},
	{"KERN_INVALID_POLICY", "invalid policy"},
	{"KERN_INVALID_OBJECT", "invalid object"},
	{"KERN_ALREADY_WAITING", "already waiting"},
	{"KERN_DEFAULT_SET", "default set"},
	{"KERN_EXCEPTION_PROTECTED", "exception protected"},
	{"KERN_INVALID_LEDGER", "invalid ledger"},
	{"KERN_INVALID_MEMORY_CONTROL", "invalid memory control"},
	{"KERN_INVALID_SECURITY", "invalid security"},
	{"KERN_NOT_DEPRESSED", "thread depressed"},
	{"KERN_TERMINATED", "object terminated"},
	{"KERN_LOCK_SET_DESTROYED", "lock set destroyed"},
	{"KERN_LOCK_UNSTABLE", "lock unstable"},
	{"KERN_LOCK_OWNED", "lock owned by another"},
	{"KERN_LOCK_OWNED_SELF", "lock owned by self"},
	{"KERN_SEMAPHORE_DESTROYED", "semaphore destroyed"},
	{"KERN_RPC_SERVER_TERMINATED", "RPC terminated"},
	{"KERN_RPC_TERMINATE_ORPHAN", "terminate orphan"},
	{"KERN_RPC_CONTINUE_ORPHAN", "continue orphan"},
	{"KERN_NOT_SUPPORTED", "not supported"},
	{"KERN_NODE_DOWN", "remote node down"},
	{"KERN_NOT_WAITING", "not waiting"},
	{"KERN_OPERATION_TIMED_OUT", "operation timed out"},
	{"KERN_CODESIGN_ERROR", "code signing error"},
	{"KERN_POLICY_STATIC", "policy is static"},
}

func (o KernReturn) info() (kernReturnInfo, bool) {
	if o < 0 || int(o) >= len(kernReturns) {
		return kernReturnInfo{}, false
	}

	return kernReturns[o], true
}

// Name returns the KERN_* constant name of the status code.
func (o KernReturn) Name() string {
	info, ok := o.info()
	if !ok {
		return fmt.Sprintf("KERN_UNKNOWN(0x%x)", int32(o))
	}

	return info.name
}

// Error returns the same text as mach_error_string.
func (o KernReturn) Error() string {
	info, ok := o.info()
	if !ok {
		return fmt.Sprintf("(os/kern) unknown error code 0x%x", int32(o))
	}

	return "(os/kern) " + info.desc
}
