package inject

import (
	"fmt"

	"gitlab.com/stephen-fox/machinject/mach"
	"gitlab.com/stephen-fox/machinject/payload"
)

// Purpose describes what a Region holds.
type Purpose string

const (
	LibraryPathRegion Purpose = "library_path"
	StackRegion       Purpose = "stack"
	PayloadRegion     Purpose = "payload"
)

// Region is memory allocated inside the target.
type Region struct {
	Address mach.VMAddress
	Size    uint64
	Purpose Purpose
}

func (o Region) String() string {
	return fmt.Sprintf("%s@%s+0x%x", o.Purpose, o.Address, o.Size)
}

// Result describes a successful injection. The regions stay allocated
// for the lifetime of the target.
type Result struct {
	LibraryPath Region
	Stack       Region
	Payload     Region

	// Patches holds the addresses written into the code cave.
	Patches payload.PatchSet
}

// Regions returns the regions in allocation order.
func (o Result) Regions() []Region {
	return []Region{o.LibraryPath, o.Stack, o.Payload}
}
