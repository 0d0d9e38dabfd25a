package compute

import (
	"fmt"

	"github.com/oliverbestmann/appcompute/gpu"
	"github.com/oliverbestmann/appcompute/layout"
)

type BufferKind int

const (
	Uniform BufferKind = iota
	Storage
	RWStorage
)

func (k BufferKind) String() string {
	switch k {
	case Uniform:
		return "uniform"
	case Storage:
		return "storage"
	case RWStorage:
		return "rw_storage"
	default:
		return fmt.Sprintf("BufferKind(%d)", int(k))
	}
}

func (k BufferKind) usage() gpu.BufferUsage {
	switch k {
	case Uniform:
		return gpu.BufferUsageUniform | gpu.BufferUsageCopyDst
	case Storage:
		return gpu.BufferUsageStorage | gpu.BufferUsageCopyDst
	default:
		return gpu.BufferUsageStorage | gpu.BufferUsageCopyDst | gpu.BufferUsageCopySrc
	}
}

func (k BufferKind) addressSpace() layout.AddressSpace {
	if k == Uniform {
		return layout.Uniform
	}

	return layout.Storage
}

// slot is a named entry of the buffer registry. A swap exchanges the
// buffers of two slots.
type slot struct {
	kind   BufferKind
	buffer gpu.Buffer
}

// stagingPair holds the host visible mirrors of a buffer.
type stagingPair struct {
	name string

	// read receives a copy of the device buffer after each run.
	read       gpu.Buffer
	readMapped bool

	// write is created on the first write. Bytes written into it while
	// mapped are copied to the device buffer at the start of the next run.
	write         gpu.Buffer
	writeMapped   bool
	writePending  bool
	writeLen      uint64
	writeInFlight bool

	// staged mirrors the pending bytes of the write buffer.
	staged []byte
}

// writeUnmapped reports whether the write buffer exists but is neither
// mapped nor being mapped.
func (p *stagingPair) writeUnmapped() bool {
	return p.write != nil && !p.writeMapped && !p.writeInFlight
}

func (p *stagingPair) clearStaged() {
	p.writePending = false
	p.writeLen = 0
	p.staged = p.staged[:0]
}

func (p *stagingPair) release() {
	p.read.Release()

	if p.write != nil {
		p.write.Release()
	}
}

func padTo4(data []byte) []byte {
	if len(data)%4 == 0 {
		return data
	}

	padded := make([]byte, (len(data)+3)&^3)
	copy(padded, data)
	return padded
}
