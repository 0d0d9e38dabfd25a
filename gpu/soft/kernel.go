package soft

import (
	"unsafe"

	"golang.org/x/exp/constraints"
)

// Kernel is the software stand-in for a compiled compute shader entry point.
type Kernel struct {
	WorkgroupSize [3]uint32
	Run           func(inv *Invocation)
}

// Invocation describes a single shader invocation, mirroring the compute
// builtins of WGSL.
type Invocation struct {
	GlobalID      [3]uint32
	LocalID       [3]uint32
	WorkgroupID   [3]uint32
	NumWorkgroups [3]uint32

	// Bindings holds the contents of the buffers of bind group zero,
	// indexed by binding.
	Bindings [][]byte
}

// Index returns the linear global invocation index along x.
func (inv *Invocation) Index() uint32 {
	return inv.GlobalID[0]
}

func (inv *Invocation) Floats(binding int) []float32 {
	return View[float32](inv.Bindings[binding])
}

func (inv *Invocation) Uint32s(binding int) []uint32 {
	return View[uint32](inv.Bindings[binding])
}

type Scalar interface {
	constraints.Integer | constraints.Float
}

// View reinterprets the bytes as a slice of T without copying.
// Trailing bytes that do not fill a full element are ignored.
func View[T Scalar](buf []byte) []T {
	var zero T
	n := len(buf) / int(unsafe.Sizeof(zero))
	if n == 0 {
		return nil
	}

	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(buf))), n)
}

func (k Kernel) workgroupSize() [3]uint32 {
	size := k.WorkgroupSize
	for idx := range size {
		size[idx] = max(size[idx], 1)
	}

	return size
}
