package soft

import (
	"fmt"

	"github.com/oliverbestmann/appcompute/gpu"
)

// Buffer is a device buffer backed by host memory. All mutable state is
// guarded by the owning device's mutex.
type Buffer struct {
	dev   *Device
	label string
	usage gpu.BufferUsage
	data  []byte

	state     gpu.MapState
	mode      gpu.MapMode
	mapOffset uint64
	mapSize   uint64
	request   *mapRequest
	released  bool
}

type mapRequest struct {
	buffer   *Buffer
	mode     gpu.MapMode
	offset   uint64
	size     uint64
	after    gpu.SubmissionIndex
	callback func(gpu.MapStatus)
}

var _ gpu.Buffer = (*Buffer)(nil)

func (b *Buffer) Label() string {
	return b.label
}

func (b *Buffer) Size() uint64 {
	return uint64(len(b.data))
}

func (b *Buffer) Usage() gpu.BufferUsage {
	return b.usage
}

func (b *Buffer) MapState() gpu.MapState {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()

	return b.state
}

func (b *Buffer) MapAsync(mode gpu.MapMode, offset, size uint64, callback func(gpu.MapStatus)) error {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()

	if b.released {
		return fmt.Errorf("map %q: %w", b.label, gpu.ErrBufferReleased)
	}

	if b.state != gpu.MapStateUnmapped {
		return fmt.Errorf("map %q: %w", b.label, gpu.ErrBufferAlreadyMapped)
	}

	if mode == gpu.MapModeRead && !b.usage.Contains(gpu.BufferUsageMapRead) {
		return fmt.Errorf("map %q for reading: %w", b.label, gpu.ErrMissingUsage)
	}

	if mode == gpu.MapModeWrite && !b.usage.Contains(gpu.BufferUsageMapWrite) {
		return fmt.Errorf("map %q for writing: %w", b.label, gpu.ErrMissingUsage)
	}

	if err := gpu.CheckMapRange(b.Size(), offset, size); err != nil {
		return fmt.Errorf("map %q: %w", b.label, err)
	}

	b.state = gpu.MapStatePending
	b.request = &mapRequest{
		buffer:   b,
		mode:     mode,
		offset:   offset,
		size:     size,
		after:    b.dev.submitted,
		callback: callback,
	}

	b.dev.mapRequests = append(b.dev.mapRequests, b.request)

	return nil
}

func (b *Buffer) MappedRange(offset, size uint64) ([]byte, error) {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()

	if b.state != gpu.MapStateMapped {
		return nil, fmt.Errorf("mapped range of %q: %w", b.label, gpu.ErrBufferNotMapped)
	}

	if offset < b.mapOffset || offset+size > b.mapOffset+b.mapSize {
		return nil, fmt.Errorf("mapped range of %q: %w: %d..%d outside of %d..%d",
			b.label, gpu.ErrInvalidMapRange, offset, offset+size, b.mapOffset, b.mapOffset+b.mapSize)
	}

	end := offset + size
	return b.data[offset:end:end], nil
}

func (b *Buffer) Unmap() error {
	b.dev.mu.Lock()

	switch b.state {
	case gpu.MapStateUnmapped:
		b.dev.mu.Unlock()
		return fmt.Errorf("unmap %q: %w", b.label, gpu.ErrBufferNotMapped)

	case gpu.MapStatePending:
		request := b.cancelRequest()
		b.dev.mu.Unlock()

		if request.callback != nil {
			request.callback(gpu.MapStatusUnmappedBeforeCallback)
		}

		return nil

	default:
		b.state = gpu.MapStateUnmapped
		b.mapOffset, b.mapSize = 0, 0
		b.dev.mu.Unlock()
		return nil
	}
}

func (b *Buffer) Release() {
	b.dev.mu.Lock()

	if b.released {
		b.dev.mu.Unlock()
		return
	}

	b.released = true

	var request *mapRequest
	if b.state == gpu.MapStatePending {
		request = b.cancelRequest()
	}

	b.state = gpu.MapStateUnmapped
	b.dev.mu.Unlock()

	if request != nil && request.callback != nil {
		request.callback(gpu.MapStatusDestroyedBeforeCallback)
	}
}

// Bytes returns a copy of the current buffer contents, regardless of its map state.
func (b *Buffer) Bytes() []byte {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()

	return append([]byte(nil), b.data...)
}

// cancelRequest must be called with the device lock held.
func (b *Buffer) cancelRequest() *mapRequest {
	request := b.request
	b.request = nil
	b.state = gpu.MapStateUnmapped

	requests := b.dev.mapRequests[:0]
	for _, r := range b.dev.mapRequests {
		if r != request {
			requests = append(requests, r)
		}
	}

	b.dev.mapRequests = requests

	return request
}

// usable must be called with the device lock held.
func (b *Buffer) usable() error {
	if b.released {
		return fmt.Errorf("use %q: %w", b.label, gpu.ErrBufferReleased)
	}

	if b.state != gpu.MapStateUnmapped {
		return fmt.Errorf("use %q in state %s: %w", b.label, b.state, gpu.ErrBufferAlreadyMapped)
	}

	return nil
}
