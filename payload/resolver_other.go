//go:build !darwin || !cgo

package payload

import "github.com/pkg/errors"

// DlsymResolver returns a Resolver that looks symbols up in the
// current process with dlsym. It is only available on darwin.
func DlsymResolver() (Resolver, error) {
	return nil, errors.New("dlsym resolution is only available on darwin with cgo enabled")
}
