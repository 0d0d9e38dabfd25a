package glm

import "golang.org/x/exp/constraints"

type float interface {
	constraints.Float
}

// numeric lists the scalar types that have a WGSL counterpart.
type numeric interface {
	float | ~int32 | ~uint32
}
