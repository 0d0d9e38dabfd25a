package compute

//go:generate go tool stringer -type=WorkerState -trimprefix=State

type WorkerState int

const (
	// StateCreated is the state right after building the worker.
	StateCreated WorkerState = iota

	// StateAvailable means no submission is in flight.
	StateAvailable

	// StateWorking means a submission is in flight.
	StateWorking

	// StateFinishedWorking means the last submission has resolved and the
	// staging buffers can be read.
	StateFinishedWorking
)

type RunMode int

const (
	// Continuous workers execute every tick.
	Continuous RunMode = iota

	// OneShot workers only execute after Worker.Execute was called.
	OneShot
)

func (m RunMode) String() string {
	if m == OneShot {
		return "OneShot"
	}

	return "Continuous"
}
