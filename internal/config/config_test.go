package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/rsc/internal/config"
	"github.com/itohio/rsc/pkg/message"
)

const sample = `
[DEFAULT]
debug = false
testing = false
stage_diameter = 4.5
max_speed = 1.2

[motor]
address = 1
port = /dev/serial0
max_frequency = 50.0
min_frequency = 0.5

[control]
angle_pid_kp = 2.0

[input]
ip = 0.0.0.0
port = 1337
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rsc.ini")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	return path
}

func TestLookupOwnSection(t *testing.T) {
	s, err := config.Load(writeSample(t))
	require.NoError(t, err)

	v, ok := s.Lookup("motor", "address", message.TypeInt)
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = s.Lookup("motor", "max_frequency", message.TypeFloat)
	require.True(t, ok)
	assert.Equal(t, float32(50.0), v)

	v, ok = s.Lookup("motor", "port", message.TypeString)
	require.True(t, ok)
	assert.Equal(t, "/dev/serial0", v)
}

func TestLookupFallsBackToDefault(t *testing.T) {
	s, err := config.Load(writeSample(t))
	require.NoError(t, err)

	v, ok := s.Lookup("motor", "stage_diameter", message.TypeFloat)
	require.True(t, ok)
	assert.Equal(t, float32(4.5), v)
}

func TestLookupMissingOptionMisses(t *testing.T) {
	s, err := config.Load(writeSample(t))
	require.NoError(t, err)

	_, ok := s.Lookup("control", "speed_pid_kp", message.TypeFloat)
	assert.False(t, ok)
}

func TestEmptyStoreAlwaysMisses(t *testing.T) {
	s := config.Empty()
	_, ok := s.Lookup("motor", "address", message.TypeInt)
	assert.False(t, ok)
}
