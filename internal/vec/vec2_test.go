package vec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVec2_Sign(t *testing.T) {
	assert.Equal(t, Vec2{X: 1, Y: -1}, Vec2{X: 7, Y: -3}.Sign())
	assert.Equal(t, Vec2{X: 0, Y: 1}, Vec2{X: 0, Y: 2}.Sign())
	assert.True(t, Vec2{}.Sign().IsZero())
}

func TestVec2_Arithmetic(t *testing.T) {
	v := Vec2{X: 2, Y: -1}
	assert.Equal(t, Vec2{X: 6, Y: -3}, v.Scale(3))
	assert.Equal(t, Vec2{X: 3, Y: 1}, v.Add(Vec2{X: 1, Y: 2}))
	assert.Equal(t, 4, Vec2{X: 0, Y: 0}.Chebyshev(Vec2{X: -4, Y: 3}))
	assert.InDelta(t, 5.0, Vec2{}.DistanceTo(Vec2{X: 3, Y: 4}), 1e-9)
}
