package angle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/rsc/pkg/angle"
)

func TestNewNormalizesModulo360(t *testing.T) {
	for k := -3; k <= 3; k++ {
		a := angle.New(37 + float32(k)*360)
		assert.InDelta(t, 37.0, float64(a.Degrees()), 1e-3)
	}
}

func TestNewHandlesNegative(t *testing.T) {
	a := angle.New(-10)
	assert.InDelta(t, 350.0, float64(a.Degrees()), 1e-3)
}

func TestDeltaSymmetricAndBounded(t *testing.T) {
	a := angle.New(10)
	b := angle.New(200)
	require.InDelta(t, a.Delta(b), b.Delta(a), 1e-6)
	assert.GreaterOrEqual(t, a.Delta(b), float32(0))
	assert.LessOrEqual(t, a.Delta(b), float32(180))
}

func TestDeltaKnownValues(t *testing.T) {
	assert.InDelta(t, 170.0, float64(angle.New(10).Delta(angle.New(180))), 1e-3)
	assert.InDelta(t, 20.0, float64(angle.New(350).Delta(angle.New(10))), 1e-3)
}

func TestSweepClockwiseCounterClockwiseSumTo360(t *testing.T) {
	cur := angle.New(20)
	target := angle.New(170)
	cw := cur.SweepClockwise(target)
	ccw := cur.SweepCounterClockwise(target)
	assert.InDelta(t, 360.0, float64(cw+ccw), 1e-3)
}

func TestSweepWrapAroundCCW(t *testing.T) {
	cur := angle.New(10)
	target := angle.New(350)
	// S2 scenario: CCW sweep from 10 to 350 should be 20, not 340.
	assert.InDelta(t, 20.0, float64(cur.SweepCounterClockwise(target)), 1e-3)
}

func TestSweepShortestCW(t *testing.T) {
	// S1 scenario: current 20, target 170, CW sweep == 150.
	cur := angle.New(20)
	target := angle.New(170)
	assert.InDelta(t, 150.0, float64(cur.SweepClockwise(target)), 1e-3)
}

func TestMeanAcrossSeam(t *testing.T) {
	m := angle.Mean([]angle.Angle{angle.New(350), angle.New(10)})
	assert.InDelta(t, 0.0, float64(m.Degrees()), 1e-2)
}

func TestMeanEmpty(t *testing.T) {
	m := angle.Mean(nil)
	assert.Equal(t, float32(0), m.Degrees())
}

func TestRadians(t *testing.T) {
	a := angle.New(180)
	assert.InDelta(t, 3.14159, float64(a.Radians()), 1e-3)
}
