// Package bstruct encodes Go structs as raw binary data.
//
// Fields are written in declaration order with no padding, which
// matches the layout of C structs whose members are all naturally
// aligned (such as Mach thread state records).
package bstruct

import (
	"encoding/binary"
	"fmt"
	"log"
	"reflect"

	"github.com/pkg/errors"
)

var (
	// DefaultExitFn is invoked by functions ending in the "OrExit"
	// suffix when an error occurs.
	DefaultExitFn = func(err error) {
		log.Fatalln(err)
	}
)

// Byter is implemented by field types that know how to encode
// themselves.
type Byter interface {
	ToBytes(binary.ByteOrder) []byte
}

// FieldInfo describes a single encoded field. It is passed to the
// optional callback of StructToBytes after the field is encoded.
type FieldInfo struct {
	Index int
	Name  string
	Type  string
	Value []byte
}

func StructToBytesOrExit(s interface{}, bo binary.ByteOrder, optFn func(FieldInfo) error) []byte {
	b, err := StructToBytes(s, bo, optFn)
	if err != nil {
		DefaultExitFn(err)
	}

	return b
}

// StructToBytes encodes s, which must be a struct or a pointer to
// a struct, using the specified byte order. Supported field types
// are uint8, uint16, uint32, uint64, and types implementing Byter.
func StructToBytes(s interface{}, bo binary.ByteOrder, optFn func(FieldInfo) error) ([]byte, error) {
	if s == nil {
		return nil, errors.New("struct is nil")
	}

	if bo == nil {
		return nil, errors.New("byte order is nil")
	}

	structValue := reflect.ValueOf(s)
	if structValue.Kind() == reflect.Ptr {
		if structValue.IsNil() {
			return nil, errors.New("struct pointer is nil")
		}

		structValue = structValue.Elem()
	}

	if structValue.Kind() != reflect.Struct {
		return nil, errors.Errorf("expected a struct - got %s", structValue.Kind())
	}

	structType := structValue.Type()
	numFields := structValue.NumField()

	var b []byte

	for i := 0; i < numFields; i++ {
		field := structType.Field(i)
		if field.PkgPath != "" {
			return nil, errors.Errorf("field %q (index %d) is not exported", field.Name, i)
		}

		fieldValue := structValue.Field(i)

		at := len(b)

		switch t := fieldValue.Interface().(type) {
		case Byter:
			b = append(b, t.ToBytes(bo)...)
		case uint8:
			b = append(b, t)
		case uint16:
			b = append(b, make([]byte, 2)...)
			bo.PutUint16(b[len(b)-2:], t)
		case uint32:
			b = append(b, make([]byte, 4)...)
			bo.PutUint32(b[len(b)-4:], t)
		case uint64:
			b = append(b, make([]byte, 8)...)
			bo.PutUint64(b[len(b)-8:], t)
		default:
			return nil, fmt.Errorf("unsupported data type %T for field %q (index %d)",
				t, field.Name, i)
		}

		if optFn != nil {
			err := optFn(FieldInfo{
				Index: i,
				Name:  field.Name,
				Type:  field.Type.String(),
				Value: b[at:],
			})
			if err != nil {
				return nil, errors.Wrapf(err, "field callback failed for %q", field.Name)
			}
		}
	}

	return b, nil
}
