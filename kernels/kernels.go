// Package kernels bundles the compute shaders used by the examples and the
// command line tool, together with their software implementations.
package kernels

import (
	"embed"

	"github.com/chewxy/math32"
	"github.com/oliverbestmann/appcompute/glm"
	"github.com/oliverbestmann/appcompute/gpu/soft"
)

//go:embed shaders/*.wgsl
var Shaders embed.FS

const (
	// Simple adds the uniform at binding 0 to every value at binding 1.
	Simple = "shaders/simple.wgsl"

	// Add writes input (binding 1) plus the uniform (binding 0) into output (binding 2).
	Add = "shaders/add.wgsl"

	// Square squares every value at binding 0 in place.
	Square = "shaders/square.wgsl"

	// Boids advances the flock at binding 1 into binding 2 using the params at binding 0.
	Boids = "shaders/boids.wgsl"

	BoidsWorkgroupSize = 64
)

type BoidParams struct {
	Speed         float32
	Rule1Distance float32
	Rule2Distance float32
	Rule3Distance float32
	Rule1Scale    float32
	Rule2Scale    float32
	Rule3Scale    float32
}

type Boid struct {
	Pos glm.Vec2f
	Vel glm.Vec2f
}

// Soft returns the software implementation of every bundled shader.
func Soft() map[string]soft.Kernel {
	return map[string]soft.Kernel{
		Simple: {
			WorkgroupSize: [3]uint32{1, 1, 1},
			Run:           simple,
		},

		Add: {
			WorkgroupSize: [3]uint32{1, 1, 1},
			Run:           add,
		},

		Square: {
			WorkgroupSize: [3]uint32{1, 1, 1},
			Run:           square,
		},

		Boids: {
			WorkgroupSize: [3]uint32{BoidsWorkgroupSize, 1, 1},
			Run:           boids,
		},
	}
}

func simple(inv *soft.Invocation) {
	uni := inv.Floats(0)[0]
	values := inv.Floats(1)

	if idx := inv.Index(); idx < uint32(len(values)) {
		values[idx] += uni
	}
}

func add(inv *soft.Invocation) {
	value := inv.Floats(0)[0]
	input := inv.Floats(1)
	output := inv.Floats(2)

	if idx := inv.Index(); idx < uint32(len(output)) {
		output[idx] = input[idx] + value
	}
}

func square(inv *soft.Invocation) {
	values := inv.Floats(0)

	if idx := inv.Index(); idx < uint32(len(values)) {
		values[idx] *= values[idx]
	}
}

func boids(inv *soft.Invocation) {
	p := inv.Floats(0)
	params := BoidParams{
		Speed:         p[0],
		Rule1Distance: p[1],
		Rule2Distance: p[2],
		Rule3Distance: p[3],
		Rule1Scale:    p[4],
		Rule2Scale:    p[5],
		Rule3Scale:    p[6],
	}

	src := inv.Floats(1)
	dst := inv.Floats(2)

	total := uint32(len(src) / 4)
	index := inv.Index()
	if index >= total {
		return
	}

	boidAt := func(i uint32) Boid {
		return Boid{
			Pos: glm.Vec2f{src[4*i], src[4*i+1]},
			Vel: glm.Vec2f{src[4*i+2], src[4*i+3]},
		}
	}

	self := boidAt(index)
	pos, vel := self.Pos, self.Vel

	var massCenter, collision, alignment glm.Vec2f
	var massCount, alignmentCount float32

	for i := range total {
		if i == index {
			continue
		}

		other := boidAt(i)
		dist := distance(other.Pos, pos)

		if dist < params.Rule1Distance {
			massCenter = massCenter.Add(other.Pos)
			massCount++
		}

		if dist < params.Rule2Distance {
			collision = collision.Sub(other.Pos.Sub(pos))
		}

		if dist < params.Rule3Distance {
			alignment = alignment.Add(other.Vel)
			alignmentCount++
		}
	}

	if massCount > 0 {
		massCenter = massCenter.MulScalar(1 / massCount).Sub(pos)
	}

	if alignmentCount > 0 {
		alignment = alignment.MulScalar(1 / alignmentCount)
	}

	vel = vel.
		Add(massCenter.MulScalar(params.Rule1Scale)).
		Add(collision.MulScalar(params.Rule2Scale)).
		Add(alignment.MulScalar(params.Rule3Scale))

	vel = vel.ClampLength(0.1)
	pos = pos.Add(vel.MulScalar(params.Speed))

	pos[0] = wrap(pos[0])
	pos[1] = wrap(pos[1])

	copy(dst[4*index:4*index+4], []float32{pos[0], pos[1], vel[0], vel[1]})
}

func distance(a, b glm.Vec2f) float32 {
	d := a.Sub(b)
	return math32.Sqrt(d.Dot(d))
}

func wrap(value float32) float32 {
	switch {
	case value < -1:
		return 1
	case value > 1:
		return -1
	default:
		return value
	}
}
