package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/rsc/pkg/angle"
)

func TestAngleControllerSetSetpointRequiresMeasurement(t *testing.T) {
	c := newAngleController(1, 0, 0, 1)
	ok := c.SetSetpoint(angle.New(170), 1.0, true)
	assert.False(t, ok)
}

func TestAngleControllerSweepClockwise(t *testing.T) {
	c := newAngleController(1, 0, 0, 1)
	c.OnMeasurement(angle.New(20))
	require.True(t, c.SetSetpoint(angle.New(170), 1.0, true))
	assert.Equal(t, float32(150), c.setpoint)
	assert.Equal(t, float32(0), c.accumulated)
}

func TestAngleControllerSweepCounterClockwiseWrap(t *testing.T) {
	c := newAngleController(1, 0, 0, 1)
	c.OnMeasurement(angle.New(10))
	require.True(t, c.SetSetpoint(angle.New(350), 1.0, false))
	assert.Equal(t, float32(20), c.setpoint)
}

func TestAngleControllerAccumulatesMonotonically(t *testing.T) {
	c := newAngleController(1, 0, 0, 1)
	c.OnMeasurement(angle.New(20))
	require.True(t, c.SetSetpoint(angle.New(170), 1.0, true))

	prev := float32(0)
	for deg := float32(30); deg <= 170; deg += 10 {
		c.OnMeasurement(angle.New(deg))
		assert.GreaterOrEqual(t, c.accumulated, prev)
		prev = c.accumulated
	}
	assert.Equal(t, float32(150), c.accumulated)
	require.NotNil(t, c.controlSpeed)
	assert.Equal(t, float32(0), *c.controlSpeed)
}

func TestAngleControllerDeactivateClearsOutput(t *testing.T) {
	c := newAngleController(1, 0, 0, 1)
	c.OnMeasurement(angle.New(20))
	require.True(t, c.SetSetpoint(angle.New(170), 1.0, true))
	c.OnMeasurement(angle.New(30))
	require.NotNil(t, c.controlSpeed)

	c.Deactivate()
	assert.Nil(t, c.controlSpeed)
	assert.False(t, c.active)
}

func TestSpeedControllerRequiresMeasurement(t *testing.T) {
	c := newSpeedController(1, 0, 0, 40)
	assert.False(t, c.SetSetpoint(1.0))
	c.OnMeasurement(0)
	assert.True(t, c.SetSetpoint(1.0))
}

func TestSpeedControllerOutputClampedToMaxFrequency(t *testing.T) {
	c := newSpeedController(100, 0, 0, 40)
	c.OnMeasurement(0)
	require.True(t, c.SetSetpoint(10))
	c.OnMeasurement(0)
	require.NotNil(t, c.controlFrequency)
	assert.Equal(t, float32(40), *c.controlFrequency)
}

func TestSpeedControllerRetargetDoesNotResetIntegral(t *testing.T) {
	c := newSpeedController(1, 1, 0, 40)
	c.OnMeasurement(0)
	require.True(t, c.SetSetpoint(1))
	c.OnMeasurement(0)
	before := c.pid.Output

	c.Retarget(2)
	assert.True(t, c.active)
	c.OnMeasurement(0)
	// before = P·1 + I·1·0.05 = 1.05. With the integral kept, the P term
	// rises by 1 and the integral adds 2·0.05, so the output rises by 1.1;
	// a cleared integral would give 1.05 more, a re-armed one 2.1 more.
	assert.InDelta(t, float64(before)+1.1, float64(c.pid.Output), 1e-4)
}
