package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StorageInMemory, cfg.Storage)
	assert.Equal(t, 3, cfg.QueryMaxDepth)
	assert.Equal(t, 60, cfg.QueryMaxTimeSeconds)
	assert.True(t, cfg.EnableAuth)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "port: \"9090\"\nquery_max_depth: 5\nenable_auth: false\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	// env важнее файла
	t.Setenv("BLOG_QUERY_MAX_DEPTH", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 7, cfg.QueryMaxDepth)
	assert.False(t, cfg.EnableAuth)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("BLOG_QUERY_MAX_DEPTH", "0")
	_, err := Load("")
	assert.Error(t, err)

	t.Setenv("BLOG_QUERY_MAX_DEPTH", "3")
	t.Setenv("BLOG_STORAGE", "mongo")
	_, err = Load("")
	assert.Error(t, err)
}
