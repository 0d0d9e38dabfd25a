package orion

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

type frame struct {
	Total  time.Duration
	Stages [stageCount]time.Duration
}

// Stats records the time spent per stage over the last frames.
type Stats struct {
	frameCount int
	frames     [60 * 10]frame

	current    frame
	frameStart time.Time
	stageStart time.Time

	mem runtime.MemStats
}

func (d *Stats) StartFrame() {
	now := time.Now()
	d.current = frame{}
	d.frameStart = now
	d.stageStart = now
}

func (d *Stats) EndStage(stage Stage) {
	now := time.Now()
	d.current.Stages[stage] = now.Sub(d.stageStart)
	d.stageStart = now
}

func (d *Stats) EndFrame() {
	d.current.Total = time.Since(d.frameStart)

	d.frames[d.frameCount%len(d.frames)] = d.current
	d.frameCount += 1
}

// Frames returns the number of recorded frames.
func (d *Stats) Frames() int {
	return d.frameCount
}

// Average returns the average duration of the stage over the recorded frames.
func (d *Stats) Average(stage Stage) time.Duration {
	var count int
	var total time.Duration

	for _, frame := range d.recorded() {
		count += 1
		total += frame.Stages[stage]
	}

	if count == 0 {
		return 0
	}

	return total / time.Duration(count)
}

func (d *Stats) recorded() []frame {
	return d.frames[:min(d.frameCount, len(d.frames))]
}

func (d *Stats) tps() float64 {
	var frameCount int
	var totalTime time.Duration

	for _, frame := range d.recorded() {
		if frame.Total > 0 {
			frameCount += 1
			totalTime += frame.Total
		}
	}

	if frameCount == 0 {
		return 0
	}

	averageFrameTime := totalTime / time.Duration(frameCount)
	return 1.0 / averageFrameTime.Seconds()
}

// Text renders a short human readable summary.
func (d *Stats) Text() string {
	runtime.ReadMemStats(&d.mem)

	lastCycle := (d.mem.NumGC + 255) % 256
	lastCycleDur := time.Duration(d.mem.PauseNs[lastCycle])

	lines := []string{
		fmt.Sprintf("Ticks: %d", d.frameCount),
		fmt.Sprintf("Busy ticks/s: %1.2f", d.tps()),
	}

	for stage := range stageCount {
		lines = append(lines, fmt.Sprintf("  %-10s %s", stage, d.Average(stage)))
	}

	lines = append(lines,
		"Memory",
		fmt.Sprintf("  Heap Objects: %d", d.mem.HeapObjects),
		fmt.Sprintf("  Heap InUse:   %1.2fmb", float64(d.mem.HeapInuse)/(1024.0*1024.0)),
		"GC:",
		fmt.Sprintf("  Cycles:   %d", d.mem.NumGC),
		fmt.Sprintf("  Duration: %1.2fms", lastCycleDur.Seconds()*1000),
	)

	return strings.Join(lines, "\n")
}
