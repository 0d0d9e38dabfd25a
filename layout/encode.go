package layout

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"unsafe"
)

// Encode serializes value using the layout rules of the given address space.
func Encode(space AddressSpace, value any) ([]byte, error) {
	if value == nil {
		return nil, fmt.Errorf("%w: nil", ErrUnsupportedType)
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("%w: nil pointer", ErrUnsupportedType)
		}

		rv = rv.Elem()
	}

	l, err := layoutOf(space, rv.Type())
	if err != nil {
		return nil, err
	}

	size := sizeOfValue(l, rv)
	if space == Uniform {
		size = roundUp(16, size)
	}

	buf := make([]byte, size)
	encodeValue(l, rv, buf)

	return buf, nil
}

// SizeOfValue returns the number of bytes Encode would produce for value.
func SizeOfValue(space AddressSpace, value any) (uint64, error) {
	rv := reflect.Indirect(reflect.ValueOf(value))
	if !rv.IsValid() {
		return 0, fmt.Errorf("%w: nil", ErrUnsupportedType)
	}

	l, err := layoutOf(space, rv.Type())
	if err != nil {
		return 0, err
	}

	size := sizeOfValue(l, rv)
	if space == Uniform {
		size = roundUp(16, size)
	}

	return size, nil
}

func sizeOfValue(l *typeLayout, rv reflect.Value) uint64 {
	switch l.kind {
	case kindRuntimeArray:
		return l.stride * uint64(rv.Len())

	case kindStruct:
		if !l.runtimeSized() {
			return l.size
		}

		last := l.fields[len(l.fields)-1]
		size := last.offset + sizeOfValue(last.layout, rv.Field(last.index))
		return roundUp(l.align, size)

	default:
		return l.size
	}
}

func encodeValue(l *typeLayout, rv reflect.Value, buf []byte) {
	switch l.kind {
	case kindScalar:
		binary.LittleEndian.PutUint32(buf, scalarBits(rv))

	case kindVector, kindArray, kindRuntimeArray:
		for idx := range rv.Len() {
			offset := uint64(idx) * l.stride
			encodeValue(l.elem, rv.Index(idx), buf[offset:])
		}

	case kindStruct:
		for _, field := range l.fields {
			encodeValue(field.layout, rv.Field(field.index), buf[field.offset:])
		}
	}
}

func scalarBits(rv reflect.Value) uint32 {
	switch rv.Kind() {
	case reflect.Float32:
		return math.Float32bits(float32(rv.Float()))
	case reflect.Int32:
		return uint32(int32(rv.Int()))
	default:
		return uint32(rv.Uint())
	}
}

// Decode deserializes data into the value pointed to by ptr. Slices, including
// a slice as the last member of a struct, are sized to consume the remaining bytes.
func Decode(space AddressSpace, data []byte, ptr any) error {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: decode target must be a non nil pointer, got %T", ErrUnsupportedType, ptr)
	}

	rv = rv.Elem()

	l, err := layoutOf(space, rv.Type())
	if err != nil {
		return err
	}

	if uint64(len(data)) < l.size {
		return fmt.Errorf("%w: need %d bytes for %s, got %d", ErrShortBuffer, l.size, rv.Type(), len(data))
	}

	decodeValue(l, data, rv)
	return nil
}

func decodeValue(l *typeLayout, buf []byte, rv reflect.Value) {
	switch l.kind {
	case kindScalar:
		bits := binary.LittleEndian.Uint32(buf)

		switch rv.Kind() {
		case reflect.Float32:
			rv.SetFloat(float64(math.Float32frombits(bits)))
		case reflect.Int32:
			rv.SetInt(int64(int32(bits)))
		default:
			rv.SetUint(uint64(bits))
		}

	case kindVector, kindArray:
		for idx := range l.len {
			decodeValue(l.elem, buf[uint64(idx)*l.stride:], rv.Index(idx))
		}

	case kindRuntimeArray:
		// an element is only decoded if all of its bytes are present
		var count int
		if n := uint64(len(buf)); n >= l.elem.size {
			count = int((n-l.elem.size)/l.stride) + 1
		}

		slice := reflect.MakeSlice(rv.Type(), count, count)
		for idx := range count {
			decodeValue(l.elem, buf[uint64(idx)*l.stride:], slice.Index(idx))
		}

		rv.Set(slice)

	case kindStruct:
		for _, field := range l.fields {
			decodeValue(field.layout, buf[field.offset:], rv.Field(field.index))
		}
	}
}

// AsByteSlice returns the in-memory representation of value without copying.
// This is only meaningful if the Go memory layout already matches the shader layout.
func AsByteSlice[T any](value *T) []byte {
	var zeroT T

	n := unsafe.Sizeof(zeroT)
	ptr := (*byte)(unsafe.Pointer(value))

	return unsafe.Slice(ptr, n)
}

// SliceAsBytes is the slice variant of AsByteSlice.
func SliceAsBytes[T any](values []T) []byte {
	if len(values) == 0 {
		return nil
	}

	var zeroT T

	n := int(unsafe.Sizeof(zeroT)) * len(values)
	ptr := (*byte)(unsafe.Pointer(unsafe.SliceData(values)))

	return unsafe.Slice(ptr, n)
}
