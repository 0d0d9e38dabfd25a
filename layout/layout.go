// Package layout serializes Go values into the memory layout WGSL expects for
// host shareable types, and back.
//
// Mapping of Go types:
//
//	float32, int32, uint32          f32, i32, u32
//	named [N]T with N in 2..4       vecN<T>, e.g. glm.Vec3f
//	unnamed [N]T                    array<T, N>
//	[]T                             array<T> (runtime sized, storage only)
//	struct                          struct, blank fields are skipped
//
// Uniform buffers use the stricter alignment rules: arrays and structs are
// aligned to 16 bytes and array strides are rounded up to 16 bytes.
package layout

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	ErrUnsupportedType = errors.New("layout: unsupported type")
	ErrShortBuffer     = errors.New("layout: buffer too short")
)

type AddressSpace int

const (
	Storage AddressSpace = iota
	Uniform
)

func (s AddressSpace) String() string {
	switch s {
	case Storage:
		return "storage"
	case Uniform:
		return "uniform"
	default:
		return fmt.Sprintf("AddressSpace(%d)", int(s))
	}
}

type kind int

const (
	kindScalar kind = iota
	kindVector
	kindArray
	kindRuntimeArray
	kindStruct
)

type fieldLayout struct {
	index  int
	name   string
	offset uint64
	layout *typeLayout
}

type typeLayout struct {
	kind  kind
	typ   reflect.Type
	align uint64

	// size of the type. For runtime sized arrays this is zero, and for structs
	// ending in a runtime sized array it is the offset of that array.
	size uint64

	// stride between elements of arrays and vectors
	stride uint64
	elem   *typeLayout
	len    int

	fields []fieldLayout
}

func (l *typeLayout) runtimeSized() bool {
	switch l.kind {
	case kindRuntimeArray:
		return true
	case kindStruct:
		return len(l.fields) > 0 && l.fields[len(l.fields)-1].layout.runtimeSized()
	default:
		return false
	}
}

type cacheKey struct {
	space AddressSpace
	typ   reflect.Type
}

var layoutCache sync.Map

func layoutOf(space AddressSpace, t reflect.Type) (*typeLayout, error) {
	key := cacheKey{space: space, typ: t}
	if cached, ok := layoutCache.Load(key); ok {
		return cached.(*typeLayout), nil
	}

	l, err := compute(space, t, true)
	if err != nil {
		return nil, err
	}

	layoutCache.Store(key, l)
	return l, nil
}

func compute(space AddressSpace, t reflect.Type, allowRuntimeArray bool) (*typeLayout, error) {
	switch t.Kind() {
	case reflect.Float32, reflect.Int32, reflect.Uint32:
		return &typeLayout{kind: kindScalar, typ: t, align: 4, size: 4}, nil

	case reflect.Array:
		elem, err := compute(space, t.Elem(), false)
		if err != nil {
			return nil, err
		}

		if t.Name() != "" && elem.kind == kindScalar && t.Len() >= 2 && t.Len() <= 4 {
			align := uint64(16)
			if t.Len() == 2 {
				align = 8
			}

			return &typeLayout{
				kind:   kindVector,
				typ:    t,
				align:  align,
				size:   uint64(t.Len()) * 4,
				stride: 4,
				elem:   elem,
				len:    t.Len(),
			}, nil
		}

		align, stride := arrayAlignment(space, elem)

		return &typeLayout{
			kind:   kindArray,
			typ:    t,
			align:  align,
			size:   stride * uint64(t.Len()),
			stride: stride,
			elem:   elem,
			len:    t.Len(),
		}, nil

	case reflect.Slice:
		if space == Uniform {
			return nil, fmt.Errorf("%w: runtime sized array %s in uniform address space", ErrUnsupportedType, t)
		}

		if !allowRuntimeArray {
			return nil, fmt.Errorf("%w: runtime sized array %s must be the last member", ErrUnsupportedType, t)
		}

		elem, err := compute(space, t.Elem(), false)
		if err != nil {
			return nil, err
		}

		align, stride := arrayAlignment(space, elem)

		return &typeLayout{
			kind:   kindRuntimeArray,
			typ:    t,
			align:  align,
			stride: stride,
			elem:   elem,
		}, nil

	case reflect.Struct:
		return computeStruct(space, t, allowRuntimeArray)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
}

func computeStruct(space AddressSpace, t reflect.Type, allowRuntimeArray bool) (*typeLayout, error) {
	l := &typeLayout{kind: kindStruct, typ: t, align: 4}

	var members []int
	for idx := range t.NumField() {
		if t.Field(idx).Name != "_" {
			members = append(members, idx)
		}
	}

	if len(members) == 0 {
		return nil, fmt.Errorf("%w: struct %s has no members", ErrUnsupportedType, t)
	}

	var offset uint64
	for pos, idx := range members {
		field := t.Field(idx)
		if !field.IsExported() {
			return nil, fmt.Errorf("%w: unexported field %s.%s", ErrUnsupportedType, t, field.Name)
		}

		last := pos == len(members)-1

		member, err := compute(space, field.Type, allowRuntimeArray && last)
		if err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", t, field.Name, err)
		}

		offset = roundUp(member.align, offset)

		l.fields = append(l.fields, fieldLayout{
			index:  idx,
			name:   field.Name,
			offset: offset,
			layout: member,
		})

		l.align = max(l.align, member.align)

		if !member.runtimeSized() {
			offset += member.size
		}
	}

	if space == Uniform {
		l.align = roundUp(16, l.align)
	}

	if l.runtimeSized() {
		l.size = offset
	} else {
		l.size = roundUp(l.align, offset)
	}

	return l, nil
}

func arrayAlignment(space AddressSpace, elem *typeLayout) (align, stride uint64) {
	align = elem.align
	stride = roundUp(elem.align, elem.size)

	if space == Uniform {
		align = roundUp(16, align)
		stride = roundUp(16, stride)
	}

	return align, stride
}

func roundUp(k, n uint64) uint64 {
	return (n + k - 1) / k * k
}

// SizeOf returns the size of a value of type t. It fails for runtime sized types.
func SizeOf(space AddressSpace, t reflect.Type) (uint64, error) {
	l, err := layoutOf(space, t)
	if err != nil {
		return 0, err
	}

	if l.runtimeSized() {
		return 0, fmt.Errorf("%w: %s is runtime sized", ErrUnsupportedType, t)
	}

	return l.size, nil
}

// AlignOf returns the required alignment of type t.
func AlignOf(space AddressSpace, t reflect.Type) (uint64, error) {
	l, err := layoutOf(space, t)
	if err != nil {
		return 0, err
	}

	return l.align, nil
}

// Stride returns the distance between two elements of type t in an array.
func Stride(space AddressSpace, t reflect.Type) (uint64, error) {
	l, err := layoutOf(space, t)
	if err != nil {
		return 0, err
	}

	if l.runtimeSized() {
		return 0, fmt.Errorf("%w: %s is runtime sized", ErrUnsupportedType, t)
	}

	_, stride := arrayAlignment(space, l)
	return stride, nil
}
