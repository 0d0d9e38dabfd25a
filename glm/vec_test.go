package glm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVec2(t *testing.T) {
	v := Vec2f{3, 4}

	assert.Equal(t, float32(5), v.Length())
	n := v.Normalize()
	assert.InDelta(t, 0.6, n[0], 1e-6)
	assert.InDelta(t, 0.8, n[1], 1e-6)
	assert.Equal(t, Vec2f{}, Vec2f{}.Normalize())
	assert.InDelta(t, 1.0, v.ClampLength(1).Length(), 1e-6)
	assert.Equal(t, v, v.ClampLength(10))
	assert.Equal(t, Vec2f{4, 6}, v.Add(Vec2f{1, 2}))
}

func TestVec4Dot(t *testing.T) {
	assert.Equal(t, float32(30), Vec4f{1, 2, 3, 4}.Dot(Vec4f{1, 2, 3, 4}))
	assert.Equal(t, Vec3f{1, 2, 3}, Vec4f{1, 2, 3, 4}.Truncate())
}

func TestVec3Cross(t *testing.T) {
	assert.Equal(t, Vec3f{0, 0, 1}, Vec3f{1, 0, 0}.Cross(Vec3f{0, 1, 0}))
	assert.Equal(t, Vec3i{2, 4, 6}, Vec3i{1, 2, 3}.MulScalar(2))
}
