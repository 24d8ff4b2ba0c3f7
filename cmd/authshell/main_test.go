package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"shell", "api", "mockidp"}, names)
}

func TestLoadEnvFile(t *testing.T) {
	require.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("AUTHSHELL_TEST_VALUE=from-file\n"), 0o600))
	t.Setenv("AUTHSHELL_TEST_VALUE", "")
	os.Unsetenv("AUTHSHELL_TEST_VALUE")

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("AUTHSHELL_TEST_VALUE"))
}

func TestShellCmd_InvalidConfig(t *testing.T) {
	t.Setenv("AUTHSHELL_CACHE_LOCATION", "sessionStorage")
	root := newRootCmd()
	root.SetArgs([]string{"shell", "--env-file", ""})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTHSHELL_CACHE_LOCATION")
}
