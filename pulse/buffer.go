package pulse

import (
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/oliverbestmann/appcompute/gpu"
	"github.com/oliverbestmann/appcompute/orion"
)

// Buffer wraps a wgpu buffer and tracks its map state, which wgpu-native
// does not expose.
type Buffer struct {
	buffer *wgpu.Buffer

	label string
	size  uint64
	usage gpu.BufferUsage

	mu    sync.Mutex
	state gpu.MapState
}

var _ gpu.Buffer = (*Buffer)(nil)

func newBuffer(buffer *wgpu.Buffer, label string, size uint64, usage gpu.BufferUsage, state gpu.MapState) *Buffer {
	return orion.RegisterWithGC(&Buffer{
		buffer: buffer,
		label:  label,
		size:   size,
		usage:  usage,
		state:  state,
	})
}

func (b *Buffer) Label() string {
	return b.label
}

func (b *Buffer) Size() uint64 {
	return b.size
}

func (b *Buffer) Usage() gpu.BufferUsage {
	return b.usage
}

func (b *Buffer) MapState() gpu.MapState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

func (b *Buffer) MapAsync(mode gpu.MapMode, offset, size uint64, callback func(gpu.MapStatus)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.buffer == nil {
		return gpu.ErrBufferReleased
	}

	if b.state != gpu.MapStateUnmapped {
		return fmt.Errorf("map %q: %w", b.label, gpu.ErrBufferAlreadyMapped)
	}

	required := gpu.BufferUsageMapRead
	if mode == gpu.MapModeWrite {
		required = gpu.BufferUsageMapWrite
	}

	if !b.usage.Contains(required) {
		return fmt.Errorf("map %q: %w", b.label, gpu.ErrMissingUsage)
	}

	if err := gpu.CheckMapRange(b.size, offset, size); err != nil {
		return fmt.Errorf("map %q: %w", b.label, err)
	}

	err := b.buffer.MapAsync(mapMode(mode), offset, size, func(status wgpu.BufferMapAsyncStatus) {
		converted := mapStatus(status)

		b.mu.Lock()
		if converted == gpu.MapStatusSuccess {
			b.state = gpu.MapStateMapped
		} else {
			b.state = gpu.MapStateUnmapped
		}
		b.mu.Unlock()

		callback(converted)
	})

	if err != nil {
		return fmt.Errorf("map %q: %w", b.label, err)
	}

	b.state = gpu.MapStatePending

	return nil
}

func (b *Buffer) MappedRange(offset, size uint64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.buffer == nil {
		return nil, gpu.ErrBufferReleased
	}

	if b.state != gpu.MapStateMapped {
		return nil, fmt.Errorf("mapped range of %q: %w", b.label, gpu.ErrBufferNotMapped)
	}

	if offset+size > b.size {
		return nil, fmt.Errorf("mapped range of %q: %w", b.label, gpu.ErrInvalidMapRange)
	}

	return b.buffer.GetMappedRange(uint(offset), uint(size)), nil
}

func (b *Buffer) Unmap() error {
	b.mu.Lock()

	if b.buffer == nil {
		b.mu.Unlock()
		return gpu.ErrBufferReleased
	}

	if b.state == gpu.MapStateUnmapped {
		b.mu.Unlock()
		return fmt.Errorf("unmap %q: %w", b.label, gpu.ErrBufferNotMapped)
	}

	b.state = gpu.MapStateUnmapped
	b.mu.Unlock()

	// a pending map is cancelled and its callback invoked, which takes the lock
	if err := b.buffer.Unmap(); err != nil {
		return fmt.Errorf("unmap %q: %w", b.label, err)
	}

	return nil
}

func (b *Buffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.buffer == nil {
		return
	}

	orion.UnregisterFromGC(b)

	b.buffer.Release()
	b.buffer = nil
	b.state = gpu.MapStateUnmapped
}

func mapMode(mode gpu.MapMode) wgpu.MapMode {
	switch mode {
	case gpu.MapModeWrite:
		return wgpu.MapModeWrite
	default:
		return wgpu.MapModeRead
	}
}

func mapStatus(status wgpu.BufferMapAsyncStatus) gpu.MapStatus {
	switch status {
	case wgpu.BufferMapAsyncStatusSuccess:
		return gpu.MapStatusSuccess
	case wgpu.BufferMapAsyncStatusValidationError:
		return gpu.MapStatusValidationError
	case wgpu.BufferMapAsyncStatusDestroyedBeforeCallback:
		return gpu.MapStatusDestroyedBeforeCallback
	case wgpu.BufferMapAsyncStatusUnmappedBeforeCallback:
		return gpu.MapStatusUnmappedBeforeCallback
	default:
		return gpu.MapStatusUnknown
	}
}

func unwrapBuffer(buffer gpu.Buffer) (*wgpu.Buffer, error) {
	b, ok := buffer.(*Buffer)
	if !ok {
		return nil, fmt.Errorf("buffer %q was not created by a pulse device", buffer.Label())
	}

	if b.buffer == nil {
		return nil, fmt.Errorf("buffer %q: %w", b.label, gpu.ErrBufferReleased)
	}

	return b.buffer, nil
}
