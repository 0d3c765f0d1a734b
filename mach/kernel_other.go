//go:build !darwin || !cgo

package mach

import "github.com/pkg/errors"

// ErrUnsupportedOS is returned by Host on platforms without
// Mach task ports.
var ErrUnsupportedOS = errors.New("mach task ports are only available on darwin with cgo enabled")

// Host returns the Kernel of the machine the program is running on.
func Host() (Kernel, error) {
	return nil, ErrUnsupportedOS
}
