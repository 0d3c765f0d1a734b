package memory

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// PointerMakerForX86_32 returns a PointerMaker for 32-bit x86 targets.
func PointerMakerForX86_32() PointerMaker {
	return PointerMaker{
		byteOrder: binary.LittleEndian,
		bits:      32,
		ptrSize:   4,
	}
}

// PointerMakerForX86_64 returns a PointerMaker for 64-bit x86 targets.
func PointerMakerForX86_64() PointerMaker {
	return PointerMaker{
		byteOrder: binary.LittleEndian,
		bits:      64,
		ptrSize:   8,
	}
}

func PointerMakerForOrExit(endianness binary.ByteOrder, bits int, pointerSize int) PointerMaker {
	pm, err := PointerMakerFor(endianness, bits, pointerSize)
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to create pointer maker - %w", err))
	}
	return pm
}

// PointerMakerFor creates a PointerMaker for an arbitrary platform.
// bits must be 16, 32, or 64.
func PointerMakerFor(endianness binary.ByteOrder, bits int, pointerSize int) (PointerMaker, error) {
	if endianness == nil {
		return PointerMaker{}, fmt.Errorf("endianness cannot be nil")
	}

	switch bits {
	case 16, 32, 64:
	default:
		return PointerMaker{}, fmt.Errorf("unsupported number of bits: %d", bits)
	}

	if pointerSize*8 != bits {
		return PointerMaker{}, fmt.Errorf("pointer size of %d bytes does not match %d bits",
			pointerSize, bits)
	}

	return PointerMaker{
		byteOrder: endianness,
		bits:      bits,
		ptrSize:   pointerSize,
	}, nil
}

// PointerMaker encodes and decodes addresses using a platform's
// endianness and native pointer width.
type PointerMaker struct {
	byteOrder binary.ByteOrder
	bits      int
	ptrSize   int
}

// Size returns the size of a pointer in bytes.
func (o PointerMaker) Size() int {
	return o.ptrSize
}

// Fits returns true if address can be represented by a pointer.
func (o PointerMaker) Fits(address uint64) bool {
	if o.bits >= 64 {
		return true
	}

	return address>>uint(o.bits) == 0
}

// FromUint encodes address as a Pointer. Bits above the pointer
// width are discarded; use Fits to check beforehand.
func (o PointerMaker) FromUint(address uint64) Pointer {
	out := make([]byte, o.ptrSize)
	switch o.bits {
	case 16:
		o.byteOrder.PutUint16(out, uint16(address))
	case 32:
		o.byteOrder.PutUint32(out, uint32(address))
	case 64:
		o.byteOrder.PutUint64(out, address)
	default:
		panic(fmt.Sprintf("unsupported bits: %d", o.bits))
	}

	return Pointer{
		bo:  o.byteOrder,
		raw: out,
	}
}

// FromRaw decodes a pointer-sized []byte.
func (o PointerMaker) FromRaw(raw []byte) (Pointer, error) {
	if len(raw) != o.ptrSize {
		return Pointer{}, fmt.Errorf("raw pointer must be %d bytes - it is %d bytes",
			o.ptrSize, len(raw))
	}

	cp := make([]byte, o.ptrSize)
	copy(cp, raw)

	return Pointer{
		bo:  o.byteOrder,
		raw: cp,
	}, nil
}

func (o PointerMaker) FromHexString(hexStr string, sourceEndianness binary.ByteOrder) (Pointer, error) {
	return o.FromHexBytes([]byte(hexStr), sourceEndianness)
}

// FromHexBytes decodes a hex-encoded address, optionally prefixed
// with "0x". Short strings are zero-extended according to
// sourceEndianness.
func (o PointerMaker) FromHexBytes(hexBytes []byte, sourceEndianness binary.ByteOrder) (Pointer, error) {
	hexBytesNoPrefix := bytes.TrimPrefix(hexBytes, []byte("0x"))

	hexStrLen := len(hexBytesNoPrefix)
	if hexStrLen == 0 {
		return Pointer{}, fmt.Errorf("hex string cannot be zero-length")
	}

	maxLen := o.ptrSize * 2
	if hexStrLen > maxLen {
		return Pointer{}, fmt.Errorf("hex string cannot be longer than %d chars - it is %d chars long",
			maxLen, hexStrLen)
	}

	numZeros := maxLen - hexStrLen
	if numZeros > 0 {
		zeros := bytes.Repeat([]byte("0"), numZeros)
		if sourceEndianness.String() == binary.LittleEndian.String() {
			hexBytesNoPrefix = append(hexBytesNoPrefix, zeros...)
		} else {
			hexBytesNoPrefix = append(zeros, hexBytesNoPrefix...)
		}
	}

	decoded := make([]byte, o.ptrSize)
	_, err := hex.Decode(decoded, hexBytesNoPrefix)
	if err != nil {
		return Pointer{}, fmt.Errorf("failed to hex decode data - %w", err)
	}

	if sourceEndianness.String() == o.byteOrder.String() {
		return Pointer{bo: o.byteOrder, raw: decoded}, nil
	}

	wrongEndian := make([]byte, o.ptrSize)
	for i := 0; i < o.ptrSize; i++ {
		wrongEndian[o.ptrSize-1-i] = decoded[i]
	}

	return Pointer{bo: o.byteOrder, raw: wrongEndian}, nil
}

// Pointer is an address encoded for a specific platform.
type Pointer struct {
	bo  binary.ByteOrder
	raw []byte
}

// Bytes returns the encoded address.
func (o Pointer) Bytes() []byte {
	return o.raw
}

// Uint returns the address as an integer.
func (o Pointer) Uint() uint64 {
	switch len(o.raw) {
	case 2:
		return uint64(o.bo.Uint16(o.raw))
	case 4:
		return uint64(o.bo.Uint32(o.raw))
	case 8:
		return o.bo.Uint64(o.raw)
	default:
		return 0
	}
}

func (o Pointer) HexString() string {
	return fmt.Sprintf("0x%x", o.Uint())
}
