package process

import (
	"bytes"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func lookup(pid int) (Info, error) {
	kinfo, err := unix.SysctlKinfoProc("kern.proc.pid", pid)
	if err != nil {
		// The kernel returns an empty buffer for unknown pids,
		// which x/sys reports as EIO.
		if errors.Is(err, unix.EIO) || errors.Is(err, unix.ESRCH) {
			return Info{}, errors.Wrapf(ErrNotFound, "pid %d", pid)
		}

		return Info{}, errors.Wrap(err, "failed to sysctl kern.proc.pid")
	}

	if int(kinfo.Proc.P_pid) != pid {
		return Info{}, errors.Wrapf(ErrNotFound, "pid %d", pid)
	}

	comm := kinfo.Proc.P_comm[:]
	if i := bytes.IndexByte(comm, 0); i >= 0 {
		comm = comm[:i]
	}

	return Info{
		PID:  pid,
		PPID: int(kinfo.Eproc.Ppid),
		Name: string(comm),
	}, nil
}
