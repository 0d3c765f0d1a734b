//go:build unix

package process

import "golang.org/x/sys/unix"

// IsPrivileged returns true if the current process runs with an
// effective user ID of root. task_for_pid generally requires it.
func IsPrivileged() bool {
	return unix.Geteuid() == 0
}
