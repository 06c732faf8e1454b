package command_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/rsc/pkg/angle"
	"github.com/itohio/rsc/pkg/command"
)

func TestStopsAlwaysEqual(t *testing.T) {
	a := command.NewStop()
	b := command.Command{Action: command.Stop, Direction: angle.Clockwise}
	assert.True(t, a.Equal(b))
}

func TestRunToAngleEqualityRequiresAllFields(t *testing.T) {
	a, err := command.NewRunToAngle(angle.Clockwise, 1.0, 2.0, 170)
	require.NoError(t, err)
	b, err := command.NewRunToAngle(angle.Clockwise, 1.0, 2.0, 170)
	require.NoError(t, err)
	assert.True(t, a.Equal(b))

	c, err := command.NewRunToAngle(angle.Clockwise, 1.0, 2.0, 171)
	require.NoError(t, err)
	assert.False(t, a.Equal(c))
}

func TestRunToAngleRejectsOutOfRange(t *testing.T) {
	_, err := command.NewRunToAngle(angle.Clockwise, 1.0, 2.0, 360)
	assert.ErrorIs(t, err, command.ErrAngleRequired)
}

func TestRunVariantsRequireDirection(t *testing.T) {
	_, err := command.NewRunContinuous(angle.Unset, 1.0, 2.0)
	assert.ErrorIs(t, err, command.ErrDirectionRequired)
}

func TestRemoteZeroFrequencyCollapsesToStop(t *testing.T) {
	c, err := command.NewRemote(angle.Clockwise, 0)
	require.NoError(t, err)
	assert.Equal(t, command.Stop, c.Action)
}

func TestRemoteRequiresFrequencyRange(t *testing.T) {
	_, err := command.NewRemote(angle.Clockwise, 1.5)
	assert.ErrorIs(t, err, command.ErrFrequencyRequired)
}

func TestInputStateToCommand(t *testing.T) {
	s := command.InputState{Action: command.RunToAngle, Direction: angle.CounterClockwise, Speed: 0.5, Angle: 90}
	c, err := s.ToCommand(1.0)
	require.NoError(t, err)
	assert.Equal(t, command.RunToAngle, c.Action)
	assert.Equal(t, float32(90), *c.Angle)
}
