package orion

import (
	"fmt"
)

func loopOnce(app *App) error {
	app.Stats.StartFrame()

	for stage := range stageCount {
		if err := app.runStage(stage); err != nil {
			return fmt.Errorf("tick %d: %w", app.Frame.FrameCount, err)
		}

		app.Stats.EndStage(stage)
	}

	app.Stats.EndFrame()

	return nil
}
