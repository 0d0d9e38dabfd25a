package gpu

import (
	"errors"
	"fmt"
)

var (
	ErrBufferAlreadyMapped = errors.New("gpu: buffer already mapped or map pending")
	ErrBufferNotMapped     = errors.New("gpu: buffer not mapped")
	ErrInvalidMapRange     = errors.New("gpu: invalid map range")
	ErrMissingUsage        = errors.New("gpu: buffer is missing the required usage")
	ErrInvalidUsage        = errors.New("gpu: invalid buffer usage combination")
	ErrBufferReleased      = errors.New("gpu: buffer was released")
	ErrCopyAlignment       = errors.New("gpu: copy offset and size must be a multiple of 4")
	ErrDeviceLost          = errors.New("gpu: device lost")
)

// MapState is the host visible mapping state of a buffer.
type MapState int

const (
	MapStateUnmapped MapState = iota
	MapStatePending
	MapStateMapped
)

func (s MapState) String() string {
	switch s {
	case MapStateUnmapped:
		return "Unmapped"
	case MapStatePending:
		return "Pending"
	case MapStateMapped:
		return "Mapped"
	default:
		return fmt.Sprintf("MapState(%d)", int(s))
	}
}

// MapStatus is passed to the MapAsync callback.
type MapStatus int

const (
	MapStatusSuccess MapStatus = iota
	MapStatusValidationError
	MapStatusDestroyedBeforeCallback
	MapStatusUnmappedBeforeCallback
	MapStatusUnknown
)

func (s MapStatus) String() string {
	switch s {
	case MapStatusSuccess:
		return "Success"
	case MapStatusValidationError:
		return "ValidationError"
	case MapStatusDestroyedBeforeCallback:
		return "DestroyedBeforeCallback"
	case MapStatusUnmappedBeforeCallback:
		return "UnmappedBeforeCallback"
	default:
		return "Unknown"
	}
}

// Err converts a non successful status into an error.
func (s MapStatus) Err() error {
	if s == MapStatusSuccess {
		return nil
	}

	return fmt.Errorf("gpu: buffer map failed: %s", s)
}

// CheckMapRange validates offset and size of a map request against the buffer size.
func CheckMapRange(bufferSize, offset, size uint64) error {
	if offset%8 != 0 || size%4 != 0 {
		return fmt.Errorf("%w: offset=%d size=%d", ErrInvalidMapRange, offset, size)
	}

	if offset+size > bufferSize {
		return fmt.Errorf("%w: range %d..%d exceeds size %d", ErrInvalidMapRange, offset, offset+size, bufferSize)
	}

	return nil
}
