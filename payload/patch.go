package payload

import (
	"bytes"

	"github.com/pkg/errors"
)

// PatchSet holds the addresses written into a template's placeholders.
type PatchSet struct {
	PthreadSetSelf uint64
	LibraryPath    uint64
	Dlopen         uint64
	MachThreadSelf uint64
	ThreadSuspend  uint64
}

func (o *PatchSet) fields() map[string]*uint64 {
	return map[string]*uint64{
		PthreadSetSelfSymbol: &o.PthreadSetSelf,
		LibraryPathName:      &o.LibraryPath,
		DlopenSymbol:         &o.Dlopen,
		MachThreadSelfSymbol: &o.MachThreadSelf,
		ThreadSuspendSymbol:  &o.ThreadSuspend,
	}
}

// Get returns the address for the named placeholder.
func (o PatchSet) Get(name string) (uint64, bool) {
	ptr, ok := o.fields()[name]
	if !ok {
		return 0, false
	}

	return *ptr, true
}

// Patch returns a copy of the template's code cave with each
// placeholder replaced by the corresponding address in patches.
func Patch(template Template, patches PatchSet) ([]byte, error) {
	if len(template.Code) > template.Size {
		return nil, errors.Errorf("%s code is %d bytes, which exceeds the %d byte code cave",
			template.Arch, len(template.Code), template.Size)
	}

	pm := template.PointerMaker()
	code := template.Bytes()

	for _, placeholder := range template.Placeholders() {
		slot, err := slotOf(template, code, placeholder)
		if err != nil {
			return nil, err
		}

		if !bytes.Equal(slot, make([]byte, len(slot))) {
			return nil, errors.Errorf("%s placeholder for %s at offset %d is not zero-filled",
				template.Arch, placeholder.Name, placeholder.Offset)
		}

		address, _ := patches.Get(placeholder.Name)
		if !pm.Fits(address) {
			return nil, errors.Errorf("address 0x%x for %s does not fit in a %d-bit pointer",
				address, placeholder.Name, template.Bits)
		}

		copy(slot, pm.FromUint(address).Bytes())
	}

	return code, nil
}

// Extract reads the placeholder addresses back out of a patched
// code cave.
func Extract(template Template, code []byte) (PatchSet, error) {
	if len(code) != template.Size {
		return PatchSet{}, errors.Errorf("%s code cave must be %d bytes - it is %d bytes",
			template.Arch, template.Size, len(code))
	}

	pm := template.PointerMaker()

	var patches PatchSet
	fields := patches.fields()

	for _, placeholder := range template.Placeholders() {
		slot, err := slotOf(template, code, placeholder)
		if err != nil {
			return PatchSet{}, err
		}

		pointer, err := pm.FromRaw(slot)
		if err != nil {
			return PatchSet{}, errors.Wrapf(err, "failed to decode %s", placeholder.Name)
		}

		*fields[placeholder.Name] = pointer.Uint()
	}

	return patches, nil
}

func slotOf(template Template, code []byte, placeholder Placeholder) ([]byte, error) {
	end := placeholder.Offset + template.PointerSize
	if placeholder.Offset < 0 || end > len(template.Code) || end > len(code) {
		return nil, errors.Errorf("%s placeholder for %s at offset %d is outside of the code",
			template.Arch, placeholder.Name, placeholder.Offset)
	}

	return code[placeholder.Offset:end], nil
}

// ResolvePatchSet looks up the runtime functions called by the code
// cave and combines them with the remote library path address.
func ResolvePatchSet(resolver Resolver, libraryPath uint64) (PatchSet, error) {
	if resolver == nil {
		return PatchSet{}, errors.New("resolver is nil")
	}

	patches := PatchSet{
		LibraryPath: libraryPath,
	}

	fields := patches.fields()

	for _, symbol := range RuntimeSymbols() {
		address, err := resolver.Resolve(symbol)
		if err != nil {
			return PatchSet{}, errors.Wrapf(err, "failed to resolve %s", symbol)
		}

		if address == 0 {
			return PatchSet{}, errors.Errorf("resolved %s to a null address", symbol)
		}

		*fields[symbol] = address
	}

	return patches, nil
}

// Assemble resolves the runtime functions, then patches them and the
// library path address into the template. It returns the code cave
// and the addresses written to it.
func Assemble(template Template, resolver Resolver, libraryPath uint64) ([]byte, PatchSet, error) {
	patches, err := ResolvePatchSet(resolver, libraryPath)
	if err != nil {
		return nil, PatchSet{}, err
	}

	code, err := Patch(template, patches)
	if err != nil {
		return nil, PatchSet{}, err
	}

	return code, patches, nil
}
