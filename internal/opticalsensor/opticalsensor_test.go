package opticalsensor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/itohio/rsc/internal/opticalsensor"
)

func TestIntegratorAdvancesWhileRunning(t *testing.T) {
	in := opticalsensor.NewIntegrator(4.5, 1.0)
	in.Drive(true, 30)

	start, ok := in.MeasureAngle(time.Now())
	assert.True(t, ok)

	later, ok := in.MeasureAngle(time.Now().Add(time.Second))
	assert.True(t, ok)
	assert.NotEqual(t, start.Degrees(), later.Degrees())
}

func TestIntegratorIdleDoesNotAdvance(t *testing.T) {
	in := opticalsensor.NewIntegrator(4.5, 1.0)
	now := time.Now()
	first, _ := in.MeasureAngle(now)
	second, _ := in.MeasureAngle(now.Add(time.Second))
	assert.Equal(t, first.Degrees(), second.Degrees())
}

func TestIntegratorReversesSign(t *testing.T) {
	in := opticalsensor.NewIntegrator(4.5, 1.0)
	in.Drive(false, 30)
	speed, ok := in.MeasureSpeed(time.Now())
	assert.True(t, ok)
	assert.Less(t, speed, float32(0))
}
