package converter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/rsc/internal/converter"
)

func TestSyntheticRunStopState(t *testing.T) {
	c := converter.NewSynthetic()

	forward, freq := c.State()
	assert.False(t, forward)
	assert.Equal(t, float32(0), freq)

	require.NoError(t, c.Run(true))
	require.NoError(t, c.SetTargetFrequency(25))

	forward, freq = c.State()
	assert.True(t, forward)
	assert.Equal(t, float32(25), freq)

	cur, err := c.CurrentFrequency()
	require.NoError(t, err)
	assert.Equal(t, float32(25), cur)

	require.NoError(t, c.Stop())
	forward, freq = c.State()
	assert.False(t, forward)
	assert.Equal(t, float32(0), freq)
}

func TestSyntheticEmergencyStopClearsRunning(t *testing.T) {
	c := converter.NewSynthetic()
	require.NoError(t, c.Run(false))
	require.NoError(t, c.SetTargetFrequency(10))

	require.NoError(t, c.EmergencyStop())

	forward, freq := c.State()
	assert.False(t, forward)
	assert.Equal(t, float32(0), freq)

	cur, err := c.CurrentFrequency()
	require.NoError(t, err)
	assert.Equal(t, float32(0), cur)
}
