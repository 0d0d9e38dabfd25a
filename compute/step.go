package compute

// Step is either a Dispatch or a Swap.
type Step interface {
	step()
}

// Dispatch runs the pipeline of a shader. Vars are bound to bind group 0 in
// order, the binding index is the position in the list.
type Dispatch struct {
	Shader     string
	Workgroups [3]uint32
	Vars       []string
}

// Swap exchanges the device buffers of two names.
type Swap struct {
	A, B string
}

func (Dispatch) step() {}
func (Swap) step()     {}
