//go:build !darwin && !linux

package process

import "github.com/pkg/errors"

func lookup(pid int) (Info, error) {
	return Info{}, errors.New("process lookup is not supported on this platform")
}
