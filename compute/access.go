package compute

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/oliverbestmann/appcompute/gpu"
	"github.com/oliverbestmann/appcompute/layout"
)

func (w *Worker) stagingOf(name string) (*stagingPair, error) {
	pair, ok := w.staging[name]
	if ok {
		return pair, nil
	}

	if _, ok := w.buffers[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrStagingBufferNotFound, name)
	}

	return nil, fmt.Errorf("%w: %q", ErrBufferNotFound, name)
}

func (w *Worker) mappedBytes(name string) ([]byte, error) {
	pair, err := w.stagingOf(name)
	if err != nil {
		return nil, err
	}

	if !w.Ready() || !pair.readMapped {
		return nil, fmt.Errorf("%w: read %q in state %s", ErrNotReady, name, w.state)
	}

	view, err := pair.read.MappedRange(0, pair.read.Size())
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", name, err)
	}

	return view, nil
}

// ReadRaw returns a copy of the bytes of the staging buffer name.
func (w *Worker) ReadRaw(name string) ([]byte, error) {
	view, err := w.mappedBytes(name)
	if err != nil {
		return nil, err
	}

	return append([]byte(nil), view...), nil
}

// Read decodes the start of the staging buffer into a value of type T.
func Read[T any](w *Worker, name string) (T, error) {
	var value T

	view, err := w.mappedBytes(name)
	if err != nil {
		return value, err
	}

	if err := layout.Decode(layout.Storage, view, &value); err != nil {
		return value, decodeError(name, err)
	}

	return value, nil
}

// ReadVec decodes the staging buffer into as many values of type T as fit.
func ReadVec[T any](w *Worker, name string) ([]T, error) {
	view, err := w.mappedBytes(name)
	if err != nil {
		return nil, err
	}

	var values []T
	if err := layout.Decode(layout.Storage, view, &values); err != nil {
		return nil, decodeError(name, err)
	}

	return values, nil
}

func MustRead[T any](w *Worker, name string) T {
	value, err := Read[T](w, name)
	if err != nil {
		panic(err)
	}

	return value
}

func MustReadVec[T any](w *Worker, name string) []T {
	values, err := ReadVec[T](w, name)
	if err != nil {
		panic(err)
	}

	return values
}

func decodeError(name string, err error) error {
	if errors.Is(err, layout.ErrShortBuffer) {
		return fmt.Errorf("read %q: %w: %w", name, ErrSizeMismatch, err)
	}

	return fmt.Errorf("read %q: %w", name, err)
}

// Write encodes value using the layout rules of the buffer's kind and
// writes it to the start of the buffer.
func Write[T any](w *Worker, name string, value T) error {
	target, ok := w.buffers[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrBufferNotFound, name)
	}

	data, err := layout.Encode(target.kind.addressSpace(), value)
	if err != nil {
		return fmt.Errorf("write %q: %w", name, err)
	}

	return w.WriteRaw(name, data)
}

// WriteSlice encodes values as an array and writes them to the start of the
// buffer. Uniform buffers receive a fixed size array using the uniform
// array stride, all other buffers a runtime sized array.
func WriteSlice[T any](w *Worker, name string, values []T) error {
	target, ok := w.buffers[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrBufferNotFound, name)
	}

	space := target.kind.addressSpace()

	var value any = values
	if space == layout.Uniform {
		array := reflect.New(reflect.ArrayOf(len(values), reflect.TypeFor[T]())).Elem()
		reflect.Copy(array, reflect.ValueOf(values))
		value = array.Interface()
	}

	data, err := layout.Encode(space, value)
	if err != nil {
		return fmt.Errorf("write %q: %w", name, err)
	}

	return w.WriteRaw(name, data)
}

func MustWrite[T any](w *Worker, name string, value T) {
	if err := Write(w, name, value); err != nil {
		panic(err)
	}
}

func MustWriteSlice[T any](w *Worker, name string, values []T) {
	if err := WriteSlice(w, name, values); err != nil {
		panic(err)
	}
}

// WriteRaw writes data to the start of the buffer. For staging buffers the
// bytes are staged in the host visible write buffer if possible and copied
// to the device at the start of the next run. All other writes go through
// the device queue and are ordered before the next submission.
func (w *Worker) WriteRaw(name string, data []byte) error {
	target, ok := w.buffers[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrBufferNotFound, name)
	}

	data = padTo4(data)

	if uint64(len(data)) > target.buffer.Size() {
		return fmt.Errorf("write %q: %w: %d bytes into buffer of %d bytes",
			name, ErrSizeMismatch, len(data), target.buffer.Size())
	}

	if pair, ok := w.staging[name]; ok {
		staged, err := w.stageWrite(pair, target, data)
		if err != nil {
			return err
		}

		if staged {
			return nil
		}
	}

	if err := w.queue.WriteBuffer(target.buffer, 0, data); err != nil {
		return fmt.Errorf("write %q: %w", name, err)
	}

	return nil
}

func (w *Worker) stageWrite(pair *stagingPair, target slot, data []byte) (bool, error) {
	if pair.write == nil {
		buffer, err := w.device.CreateBuffer(gpu.BufferDescriptor{
			Label:            pair.name + " (staging write)",
			Size:             target.buffer.Size(),
			Usage:            gpu.BufferUsageMapWrite | gpu.BufferUsageCopySrc,
			MappedAtCreation: true,
		})

		if err != nil {
			return false, fmt.Errorf("create staging write buffer for %q: %w", pair.name, err)
		}

		pair.write = buffer
		pair.writeMapped = true
	}

	if !pair.writeMapped {
		if pair.writePending {
			// a failed run unmapped the write buffer, its bytes must reach
			// the device before this write
			if err := w.queue.WriteBuffer(target.buffer, 0, pair.staged); err != nil {
				return false, fmt.Errorf("write staged bytes of %q: %w", pair.name, err)
			}

			pair.clearStaged()
		}

		// the caller falls back to the queue
		return false, nil
	}

	view, err := pair.write.MappedRange(0, pair.write.Size())
	if err != nil {
		return false, fmt.Errorf("stage write into %q: %w", pair.name, err)
	}

	copy(view, data)

	if len(data) > len(pair.staged) {
		pair.staged = append(pair.staged, make([]byte, len(data)-len(pair.staged))...)
	}

	copy(pair.staged, data)

	pair.writePending = true
	pair.writeLen = uint64(len(pair.staged))

	return true, nil
}
