// Package pulse implements gpu.Device on top of wgpu-native.
package pulse

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/oliverbestmann/appcompute/gpu"
)

var forceFallbackAdapter = os.Getenv("WGPU_FORCE_FALLBACK_ADAPTER") == "1"

func init() {
	switch strings.ToUpper(os.Getenv("WGPU_LOG_LEVEL")) {
	case "OFF":
		wgpu.SetLogLevel(wgpu.LogLevelOff)
	case "ERROR":
		wgpu.SetLogLevel(wgpu.LogLevelError)
	case "WARN":
		wgpu.SetLogLevel(wgpu.LogLevelWarn)
	case "INFO":
		wgpu.SetLogLevel(wgpu.LogLevelInfo)
	case "DEBUG":
		wgpu.SetLogLevel(wgpu.LogLevelDebug)
	case "TRACE":
		wgpu.SetLogLevel(wgpu.LogLevelTrace)
	}
}

type Options struct {
	// ForceFallbackAdapter requests a software adapter. It is also enabled
	// by setting WGPU_FORCE_FALLBACK_ADAPTER=1.
	ForceFallbackAdapter bool

	HighPerformance bool

	Logger *slog.Logger
}

// Context encapsulates the low level state of the webgpu context,
// this includes the Device, Queue and the active Adapter.
// There is no surface, a Context is only used for compute work.
type Context struct {
	*wgpu.Device
	*wgpu.Queue
	Adapter *wgpu.Adapter

	logger *slog.Logger
}

func New(opts Options) (st *Context, err error) {
	defer func() {
		if err != nil && st != nil {
			st.Release()
			st = nil
		}
	}()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	st = &Context{logger: logger}

	// create the webgpu instance
	instance := wgpu.CreateInstance(nil)
	defer instance.Release()

	powerPreference := wgpu.PowerPreferenceLowPower
	if opts.HighPerformance {
		powerPreference = wgpu.PowerPreferenceHighPerformance
	}

	st.Adapter, err = instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: opts.ForceFallbackAdapter || forceFallbackAdapter,
		PowerPreference:      powerPreference,
	})

	if err != nil {
		err = fmt.Errorf("request adapter: %w", err)
		return
	}

	logger.Info(
		"Adapter selected",
		slog.Bool("fallback", opts.ForceFallbackAdapter || forceFallbackAdapter),
		slog.Bool("highPerformance", opts.HighPerformance),
	)

	// get a Device with the default settings
	st.Device, err = st.Adapter.RequestDevice(nil)
	if err != nil {
		err = fmt.Errorf("request device: %w", err)
		return
	}

	st.Queue = st.Device.GetQueue()

	return st, nil
}

// GPU returns the context as a gpu.Device.
func (d *Context) GPU() gpu.Device {
	return &Device{ctx: d, queue: &Queue{ctx: d}}
}

func (d *Context) Release() {
	if d.Queue != nil {
		d.Queue.Release()
		d.Queue = nil
	}

	if d.Device != nil {
		d.Device.Release()
		d.Device = nil
	}

	if d.Adapter != nil {
		d.Adapter.Release()
		d.Adapter = nil
	}
}

// Device implements gpu.Device.
type Device struct {
	ctx   *Context
	queue *Queue
}

var _ gpu.Device = (*Device)(nil)

func (d *Device) CreateBuffer(desc gpu.BufferDescriptor) (gpu.Buffer, error) {
	if err := gpu.ValidateUsage(desc.Usage); err != nil {
		return nil, fmt.Errorf("create buffer %q: %w", desc.Label, err)
	}

	buffer, err := d.ctx.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            desc.Label,
		Size:             desc.Size,
		Usage:            bufferUsage(desc.Usage),
		MappedAtCreation: desc.MappedAtCreation,
	})

	if err != nil {
		return nil, fmt.Errorf("create buffer %q: %w", desc.Label, err)
	}

	state := gpu.MapStateUnmapped
	if desc.MappedAtCreation {
		state = gpu.MapStateMapped
	}

	return newBuffer(buffer, desc.Label, desc.Size, desc.Usage, state), nil
}

func (d *Device) CreateBufferInit(label string, usage gpu.BufferUsage, contents []byte) (gpu.Buffer, error) {
	if err := gpu.ValidateUsage(usage); err != nil {
		return nil, fmt.Errorf("create buffer %q: %w", label, err)
	}

	buffer, err := d.ctx.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    label,
		Contents: contents,
		Usage:    bufferUsage(usage),
	})

	if err != nil {
		return nil, fmt.Errorf("create buffer %q: %w", label, err)
	}

	return newBuffer(buffer, label, uint64(len(contents)), usage, gpu.MapStateUnmapped), nil
}

func (d *Device) CreateCommandEncoder(label string) (gpu.CommandEncoder, error) {
	encoder, err := d.ctx.Device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("create command encoder %q: %w", label, err)
	}

	return &CommandEncoder{label: label, encoder: encoder}, nil
}

func (d *Device) Queue() gpu.Queue {
	return d.queue
}

func (d *Device) Poll(wait bool, index gpu.SubmissionIndex) (bool, error) {
	if d.ctx.Device == nil {
		return false, gpu.ErrDeviceLost
	}

	queueEmpty := d.ctx.Device.Poll(wait, &wgpu.WrappedSubmissionIndex{
		Queue:           d.ctx.Queue,
		SubmissionIndex: wgpu.SubmissionIndex(index),
	})

	// a blocking poll returns only after the submission finished
	return wait || queueEmpty, nil
}

var bufferUsages = []struct {
	usage gpu.BufferUsage
	wgpu  wgpu.BufferUsage
}{
	{gpu.BufferUsageMapRead, wgpu.BufferUsageMapRead},
	{gpu.BufferUsageMapWrite, wgpu.BufferUsageMapWrite},
	{gpu.BufferUsageCopySrc, wgpu.BufferUsageCopySrc},
	{gpu.BufferUsageCopyDst, wgpu.BufferUsageCopyDst},
	{gpu.BufferUsageUniform, wgpu.BufferUsageUniform},
	{gpu.BufferUsageStorage, wgpu.BufferUsageStorage},
}

func bufferUsage(usage gpu.BufferUsage) wgpu.BufferUsage {
	var result wgpu.BufferUsage
	for _, entry := range bufferUsages {
		if usage.Contains(entry.usage) {
			result |= entry.wgpu
		}
	}

	return result
}
