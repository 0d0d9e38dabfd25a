package orion

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type RunOptions struct {
	// Ticks stops the loop after that many ticks. Zero runs until
	// the context is cancelled.
	Ticks uint64

	// Interval is the minimum time between two ticks. Zero ticks as
	// fast as possible.
	Interval time.Duration

	// StatsEvery logs the frame statistics every n ticks. Zero disables logging.
	StatsEvery uint64
}

// Run ticks the app until the context is done, a system fails or the
// configured number of ticks was reached.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	var ticker *time.Ticker
	if opts.Interval > 0 {
		ticker = time.NewTicker(opts.Interval)
		defer ticker.Stop()
	}

	for ticks := uint64(0); opts.Ticks == 0 || ticks < opts.Ticks; ticks++ {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		}

		a.Frame.Tick()

		if err := loopOnce(a); err != nil {
			return err
		}

		if opts.StatsEvery > 0 && a.Frame.FrameCount%opts.StatsEvery == 0 {
			a.logger.Info("Frame statistics",
				slog.Uint64("frames", a.Frame.FrameCount),
				slog.Duration("average", a.Frame.AverageDuration),
				slog.Duration("max", a.Frame.MaxDuration),
			)

			a.logger.Debug(a.Stats.Text())
		}

		if ticker != nil {
			select {
			case <-ctx.Done():
			case <-ticker.C:
			}
		}
	}

	return nil
}
