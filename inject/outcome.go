package inject

import (
	"fmt"

	"github.com/pkg/errors"
	"gitlab.com/stephen-fox/machinject/mach"
)

// Outcome identifies how an injection attempt ended. Every failure
// outcome is terminal; nothing is retried.
type Outcome int

const (
	Success                   Outcome = 0
	InvalidParameters         Outcome = -1
	InvalidTarget             Outcome = -2
	LibraryPathAllocateFailed Outcome = -3
	LibraryPathWriteFailed    Outcome = -4
	StackAllocateFailed       Outcome = -5
	PayloadAllocateFailed     Outcome = -6
	PayloadWriteFailed        Outcome = -7
	ThreadCreateFailed        Outcome = -8
	StackProtectFailed        Outcome = -9
	PayloadProtectFailed      Outcome = -10
	PayloadAssembleFailed     Outcome = -11
)

var outcomeNames = map[Outcome]string{
	Success:                   "Success",
	InvalidParameters:         "InvalidParameters",
	InvalidTarget:             "InvalidTarget",
	LibraryPathAllocateFailed: "LibraryPathAllocateFailed",
	LibraryPathWriteFailed:    "LibraryPathWriteFailed",
	StackAllocateFailed:       "StackAllocateFailed",
	PayloadAllocateFailed:     "PayloadAllocateFailed",
	PayloadWriteFailed:        "PayloadWriteFailed",
	ThreadCreateFailed:        "ThreadCreateFailed",
	StackProtectFailed:        "StackProtectFailed",
	PayloadProtectFailed:      "PayloadProtectFailed",
	PayloadAssembleFailed:     "PayloadAssembleFailed",
}

func (o Outcome) String() string {
	name, ok := outcomeNames[o]
	if !ok {
		return fmt.Sprintf("Outcome(%d)", int(o))
	}

	return name
}

// Error is returned by Injector.Inject when an attempt fails.
type Error struct {
	// Outcome is the failure kind.
	Outcome Outcome

	// Stage is the name of the step that failed.
	Stage string

	// Status is the kern_return_t reported by the kernel.
	// It is only meaningful if HasStatus is true.
	Status    mach.KernReturn
	HasStatus bool

	// Err is the underlying error.
	Err error
}

func newError(outcome Outcome, stage string, err error) *Error {
	kr, hasStatus := mach.StatusOf(err)

	return &Error{
		Outcome:   outcome,
		Stage:     stage,
		Status:    kr,
		HasStatus: hasStatus,
		Err:       err,
	}
}

func (o *Error) Error() string {
	return fmt.Sprintf("%s failed (%s) - %v", o.Stage, o.Outcome, o.Err)
}

func (o *Error) Unwrap() error {
	return o.Err
}

// OutcomeOf returns the Outcome carried by err. A nil error is
// Success. The second return value is false if err is not nil and
// does not wrap an *Error.
func OutcomeOf(err error) (Outcome, bool) {
	if err == nil {
		return Success, true
	}

	var injectErr *Error
	if errors.As(err, &injectErr) {
		return injectErr.Outcome, true
	}

	return 0, false
}
