package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nicktill/tixcondenser/pkg/config"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags_Help(t *testing.T) {
	_, err := parseFlags([]string{"--help"})
	assert.ErrorIs(t, err, pflag.ErrHelp)
}

func TestParseFlags_RejectsArguments(t *testing.T) {
	_, err := parseFlags([]string{"serve"})
	assert.Error(t, err)
}

func TestSettings_FlagsOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "condenser.env")
	require.NoError(t, os.WriteFile(envFile, []byte("CONDENSER_API_HOST=api.tix.local\n"), 0o644))
	t.Setenv("CONDENSER_STORAGE", "badger")
	t.Setenv("CONDENSER_API_HOST", "")
	require.NoError(t, os.Unsetenv("CONDENSER_API_HOST"))

	opts, err := parseFlags([]string{"--env-file", envFile, "--storage", "memory", "--port", "9000"})
	require.NoError(t, err)

	s, err := opts.settings()
	require.NoError(t, err)
	assert.Equal(t, config.StorageMemory, s.Storage)
	assert.Equal(t, "9000", s.Port)
	assert.Equal(t, "api.tix.local", s.APIHost)
}

func TestSettings_Invalid(t *testing.T) {
	t.Setenv("CONDENSER_API_HOST", "api.tix.local")

	opts, err := parseFlags([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env"), "--storage", "tape"})
	require.NoError(t, err)

	_, err = opts.settings()
	assert.ErrorIs(t, err, config.ErrUnknownStorage)
}
