package compute

import (
	"errors"
)

var (
	// ErrBufferNotFound is returned if a pass, swap, read or write references a
	// buffer name that was never added to the worker.
	ErrBufferNotFound = errors.New("buffer not found")

	// ErrStagingBufferNotFound is returned when reading or writing a buffer
	// that was not added as a staging buffer.
	ErrStagingBufferNotFound = errors.New("staging buffer not found")

	// ErrPipelinesEmpty is returned if a pass references a shader that has no
	// pipeline entry at all.
	ErrPipelinesEmpty = errors.New("no pipeline for shader")

	// ErrPipelineNotReady signals that the pipeline of a pass is not compiled yet.
	// The run is aborted and tried again on the next tick.
	ErrPipelineNotReady = errors.New("pipeline not ready")

	ErrEncoderIsNone = errors.New("no command encoder available")
	ErrInvalidStep   = errors.New("invalid step")

	// ErrNotReady is returned when reading results while the worker has not
	// finished working.
	ErrNotReady = errors.New("worker not ready")

	ErrSizeMismatch = errors.New("size mismatch")

	// ErrMapFailed is returned if the device fails to map a staging buffer.
	// This is not recoverable.
	ErrMapFailed = errors.New("failed to map staging buffer")

	ErrStagingBufferMapped = errors.New("staging buffer still mapped")
)

// IsRecoverable reports whether the worker can continue after the error.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrPipelineNotReady)
}
