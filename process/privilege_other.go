//go:build !unix

package process

// IsPrivileged returns true if the current process runs with an
// effective user ID of root. task_for_pid generally requires it.
func IsPrivileged() bool {
	return false
}
