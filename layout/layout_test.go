package layout

import (
	"encoding/binary"
	"math"
	"reflect"
	"testing"

	"github.com/oliverbestmann/appcompute/glm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type particle struct {
	Position glm.Vec2f
	Velocity glm.Vec2f
}

type light struct {
	Color     glm.Vec3f
	Intensity float32
}

type params struct {
	Count   uint32
	Weights [3]float32
	Center  glm.Vec3f
}

type trailing struct {
	Count  uint32
	Values []float32
}

type padded struct {
	Value float32
	_     [12]byte
}

func f32(buf []byte, offset int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[offset:]))
}

func TestSizeAndAlign(t *testing.T) {
	tests := []struct {
		name  string
		typ   reflect.Type
		space AddressSpace
		size  uint64
		align uint64
	}{
		{"f32", reflect.TypeFor[float32](), Storage, 4, 4},
		{"vec2", reflect.TypeFor[glm.Vec2f](), Storage, 8, 8},
		{"vec3", reflect.TypeFor[glm.Vec3f](), Storage, 12, 16},
		{"vec4", reflect.TypeFor[glm.Vec4f](), Uniform, 16, 16},
		{"array storage", reflect.TypeFor[[4]float32](), Storage, 16, 4},
		{"array uniform", reflect.TypeFor[[4]float32](), Uniform, 64, 16},
		{"array of vec3", reflect.TypeFor[[2]glm.Vec3f](), Storage, 32, 16},
		{"particle", reflect.TypeFor[particle](), Storage, 16, 8},
		{"particle uniform", reflect.TypeFor[particle](), Uniform, 16, 16},
		{"light", reflect.TypeFor[light](), Storage, 16, 16},
		{"params storage", reflect.TypeFor[params](), Storage, 32, 16},
		{"params uniform", reflect.TypeFor[params](), Uniform, 80, 16},
		{"padded", reflect.TypeFor[padded](), Storage, 4, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, err := SizeOf(tt.space, tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.size, size)

			align, err := AlignOf(tt.space, tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.align, align)
		})
	}
}

func TestUnsupportedTypes(t *testing.T) {
	for _, value := range []any{true, 1, 1.0, "text", map[string]float32{}, []bool{true}} {
		_, err := Encode(Storage, value)
		assert.ErrorIs(t, err, ErrUnsupportedType, "%T", value)
	}

	_, err := Encode(Uniform, []float32{1, 2})
	assert.ErrorIs(t, err, ErrUnsupportedType)

	type notLast struct {
		Values []float32
		Count  uint32
	}

	_, err = Encode(Storage, notLast{})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestEncodeScalarsAndSlices(t *testing.T) {
	buf, err := Encode(Storage, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	require.Len(t, buf, 16)
	assert.Equal(t, float32(3), f32(buf, 8))

	buf, err = Encode(Uniform, float32(3))
	require.NoError(t, err)
	require.Len(t, buf, 16)
	assert.Equal(t, float32(3), f32(buf, 0))

	buf, err = Encode(Storage, int32(-2))
	require.NoError(t, err)
	assert.Equal(t, int32(-2), int32(binary.LittleEndian.Uint32(buf)))
}

func TestEncodeUniformArrayStride(t *testing.T) {
	buf, err := Encode(Uniform, params{Count: 3, Weights: [3]float32{1, 2, 3}, Center: glm.Vec3f{4, 5, 6}})
	require.NoError(t, err)
	require.Len(t, buf, 80)

	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(buf))
	assert.Equal(t, float32(1), f32(buf, 16))
	assert.Equal(t, float32(2), f32(buf, 32))
	assert.Equal(t, float32(3), f32(buf, 48))
	assert.Equal(t, float32(4), f32(buf, 64))
	assert.Equal(t, float32(6), f32(buf, 72))
}

func TestRoundTripStruct(t *testing.T) {
	input := []particle{
		{Position: glm.Vec2f{1, 2}, Velocity: glm.Vec2f{3, 4}},
		{Position: glm.Vec2f{5, 6}, Velocity: glm.Vec2f{7, 8}},
	}

	buf, err := Encode(Storage, input)
	require.NoError(t, err)
	require.Len(t, buf, 32)

	var output []particle
	require.NoError(t, Decode(Storage, buf, &output))
	assert.Equal(t, input, output)
}

func TestTrailingRuntimeArray(t *testing.T) {
	value := trailing{Count: 2, Values: []float32{1.5, 2.5}}

	size, err := SizeOfValue(Storage, value)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), size)

	buf, err := Encode(Storage, &value)
	require.NoError(t, err)

	var decoded trailing
	require.NoError(t, Decode(Storage, buf, &decoded))
	assert.Equal(t, value, decoded)

	_, err = SizeOf(Storage, reflect.TypeFor[trailing]())
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestDecodeShortBuffer(t *testing.T) {
	var value light
	assert.ErrorIs(t, Decode(Storage, make([]byte, 8), &value), ErrShortBuffer)

	var slice []glm.Vec3f
	require.NoError(t, Decode(Storage, make([]byte, 28), &slice))
	assert.Len(t, slice, 2)
}

func TestAsByteSlice(t *testing.T) {
	value := uint32(0x01020304)
	assert.Equal(t, []byte{4, 3, 2, 1}, AsByteSlice(&value))

	assert.Len(t, SliceAsBytes([]float32{1, 2, 3}), 12)
	assert.Nil(t, SliceAsBytes[float32](nil))
}
