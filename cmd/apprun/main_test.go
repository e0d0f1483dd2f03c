package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/strategy"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/strategy/isolated"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/strategy/local"
)

func TestLoadSchemaFromArguments(t *testing.T) {
	s, err := loadSchema("", []string{"/bin/echo", "a", "b"})
	require.NoError(t, err)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "/bin/echo", snap.Executable())
	assert.Equal(t, []string{"a", "b"}, snap.Arguments())
}

func TestLoadSchemaFileWithOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte("executable: /bin/true\nargs: [x]\n"), 0o644))

	s, err := loadSchema(path, []string{"/bin/echo"})
	require.NoError(t, err)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "/bin/echo", snap.Executable())
	assert.Equal(t, []string{"x"}, snap.Arguments())
}

func TestLoadSchemaRequiresInput(t *testing.T) {
	_, err := loadSchema("", nil)
	assert.Error(t, err)
}

func TestNewStrategy(t *testing.T) {
	cfg := config.Default()

	s, err := newStrategy(local.Name, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, local.Name, s.Name())

	s, err = newStrategy(isolated.Name, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, isolated.Name, s.Name())

	_, err = newStrategy("teleport", cfg, nil)
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 3, exitCode(&strategy.ExitError{Code: 3}))
	assert.Equal(t, 1, exitCode(assert.AnError))
}
