package orion

import (
	"time"
)

// FrameTimes tracks the wall time between consecutive ticks.
type FrameTimes struct {
	FrameCount      uint64
	AverageDuration time.Duration
	MaxDuration     time.Duration

	// Delta time to previous tick
	Delta time.Duration

	lastTime time.Time
}

func (t *FrameTimes) update(d time.Duration) {
	const window = 64

	t.Delta = d
	t.MaxDuration = max(t.MaxDuration, d)

	if t.FrameCount < window/2 {
		t.AverageDuration = d
	} else {
		t.AverageDuration = ((window-1)*t.AverageDuration + d) / window
	}
}

// TPS returns the average number of ticks per second.
func (t *FrameTimes) TPS() float64 {
	if t.AverageDuration <= 0 {
		return 0
	}

	return 1.0 / t.AverageDuration.Seconds()
}

// Tick records the start of a new tick and returns the time since the
// previous one.
func (t *FrameTimes) Tick() time.Duration {
	return t.tickAt(time.Now())
}

func (t *FrameTimes) tickAt(now time.Time) time.Duration {
	if t.FrameCount > 0 {
		t.update(now.Sub(t.lastTime))
	}

	t.lastTime = now
	t.FrameCount += 1

	return t.Delta
}
