// Package process describes processes on the local machine.
//
// It is used for diagnostics only. A target that cannot be described
// may still be injectable, and vice versa.
package process

import (
	"fmt"
	"log"

	"github.com/pkg/errors"
)

var (
	// DefaultExitFn is invoked by functions ending in the "OrExit"
	// suffix when an error occurs.
	DefaultExitFn = func(err error) {
		log.Fatalln(err)
	}
)

// ErrNotFound is returned when no process has the requested pid.
var ErrNotFound = errors.New("process not found")

// Info describes a process.
type Info struct {
	PID  int
	PPID int
	Name string
}

func (o Info) String() string {
	return fmt.Sprintf("%s (pid: %d, ppid: %d)", o.Name, o.PID, o.PPID)
}

func LookupOrExit(pid int) Info {
	info, err := Lookup(pid)
	if err != nil {
		DefaultExitFn(errors.Wrapf(err, "failed to lookup process %d", pid))
	}
	return info
}

// Lookup returns information about the process identified by pid.
func Lookup(pid int) (Info, error) {
	if pid <= 0 {
		return Info{}, errors.Errorf("pid must be greater than zero - got %d", pid)
	}

	return lookup(pid)
}
