package config

import (
	"testing"

	"github.com/kelseyhightower/envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	require.NoError(t, envconfig.Process("", &cfg))

	assert.Equal(t, ":3000", cfg.Rest.Address)
	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	assert.Equal(t, "broker", cfg.Redis.Backend)
	assert.Equal(t, int64(1000), cfg.Redis.PollInterval)
	assert.Equal(t, "./audio", cfg.Audio.Dir)
	assert.Equal(t, "main", cfg.Github.Branch)
	assert.Equal(t, int64(15), cfg.Presence.SweepSeconds)
	assert.Equal(t, int64(30), cfg.Presence.StaleSeconds)
}

func TestConfig_Overrides(t *testing.T) {
	t.Setenv("ADDRESS", ":8080")
	t.Setenv("TRANSPORT_BACKEND", "docstore")
	t.Setenv("DOCSTORE_POLL_MS", "250")
	t.Setenv("GITHUB_OWNER", "someone")

	var cfg Config
	require.NoError(t, envconfig.Process("", &cfg))

	assert.Equal(t, ":8080", cfg.Rest.Address)
	assert.Equal(t, "docstore", cfg.Redis.Backend)
	assert.Equal(t, int64(250), cfg.Redis.PollInterval)
	assert.Equal(t, "someone", cfg.Github.Owner)
}
