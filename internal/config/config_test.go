package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func setRequiredSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("BROKER_APP_KEY", "test-key")
	t.Setenv("BROKER_APP_SECRET", "test-secret")
	t.Setenv("BROKER_ACCOUNT_NUMBER", "12345678")
	t.Setenv("BROKER_ENV", "virtual")
}

func TestLoad_AppliesDefaultsForMissingKeys(t *testing.T) {
	setRequiredSecrets(t)
	path := writeTestConfig(t, "paths:\n  data_root: /tmp/data\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.RateLimit.OneSecond)
	assert.Equal(t, 18, cfg.Phase2.Batches)
	assert.Equal(t, "/tmp/data", cfg.Paths.DataRoot)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	setRequiredSecrets(t)
	path := writeTestConfig(t, "paths:\n  data_root: /tmp/data\nbogus_top_level_key: 1\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_OverridesDefaultsFromYAML(t *testing.T) {
	setRequiredSecrets(t)
	path := writeTestConfig(t, `
rate_limit:
  1s: 3
  1m: 80
  1h: 1200
phase2:
  batches: 10
  sector_cap: 2
paths:
  data_root: /tmp/data
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.RateLimit.OneSecond)
	assert.Equal(t, 80, cfg.RateLimit.OneMinute)
	assert.Equal(t, 10, cfg.Phase2.Batches)
	assert.Equal(t, 2, cfg.Phase2.SectorCap)
}

func TestLoad_MissingSecretsFails(t *testing.T) {
	os.Unsetenv("BROKER_APP_KEY")
	os.Unsetenv("BROKER_APP_SECRET")
	path := writeTestConfig(t, "paths:\n  data_root: /tmp/data\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidAccountNumberFails(t *testing.T) {
	t.Setenv("BROKER_APP_KEY", "k")
	t.Setenv("BROKER_APP_SECRET", "s")
	t.Setenv("BROKER_ACCOUNT_NUMBER", "123")
	t.Setenv("BROKER_ENV", "virtual")
	path := writeTestConfig(t, "paths:\n  data_root: /tmp/data\n")

	_, err := Load(path)
	assert.ErrorContains(t, err, "8 digits")
}

func TestDefaultWeights_SumToOne(t *testing.T) {
	sum := 0.0
	for _, w := range DefaultWeights() {
		assert.GreaterOrEqual(t, w, 0.05)
		assert.LessOrEqual(t, w, 0.40)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}
