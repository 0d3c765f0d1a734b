package process

import (
	"bufio"
	"bytes"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func lookup(pid int) (Info, error) {
	err := unix.Kill(pid, 0)
	if errors.Is(err, unix.ESRCH) {
		return Info{}, errors.Wrapf(ErrNotFound, "pid %d", pid)
	}

	procDir := "/proc/" + strconv.Itoa(pid)

	comm, err := os.ReadFile(procDir + "/comm")
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, errors.Wrapf(ErrNotFound, "pid %d", pid)
		}

		return Info{}, errors.Wrap(err, "failed to read process name")
	}

	info := Info{
		PID:  pid,
		Name: string(bytes.TrimSpace(comm)),
	}

	status, err := os.Open(procDir + "/status")
	if err != nil {
		return Info{}, errors.Wrap(err, "failed to open process status")
	}
	defer status.Close()

	scanner := bufio.NewScanner(status)
	for scanner.Scan() {
		value, isPPID := strings.CutPrefix(scanner.Text(), "PPid:")
		if !isPPID {
			continue
		}

		info.PPID, err = strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return Info{}, errors.Wrap(err, "failed to parse parent pid")
		}

		break
	}
	if err := scanner.Err(); err != nil {
		return Info{}, errors.Wrap(err, "failed to read process status")
	}

	return info, nil
}
