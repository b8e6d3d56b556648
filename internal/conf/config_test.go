package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdid/internal/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadEmbeddedDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	s, err := Load(path)
	require.NoError(t, err)
	assert.FileExists(t, path, "missing config file should be created from the embedded default")

	assert.Equal(t, "file", s.Cache.Backend)
	assert.Equal(t, DefaultCacheTTL, s.Cache.TTL)
	assert.Equal(t, 30*time.Second, s.EBird.Timeout)
	assert.Equal(t, 10*time.Second, s.Geocoder.Timeout)
	assert.Equal(t, DefaultMinSpecies, s.Filter.MinSpecies)
	assert.Equal(t, DefaultBroadenBelow, s.Filter.BroadenBelow)
	assert.Equal(t, DefaultRejectedCap, s.Filter.RejectedCap)
	assert.Equal(t, "info", s.Logging.DefaultLevel)
	require.NotNil(t, s.Logging.Console)
	assert.True(t, s.Logging.Console.Enabled)
	assert.Same(t, s, GetSettings())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
ebird:
  apikey: file-key
cache:
  backend: sqlite
  sqlite:
    path: /tmp/species.db
filter:
  radiuskm: 10
`)
	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-key", s.EBird.APIKey)
	assert.Equal(t, "sqlite", s.Cache.Backend)
	assert.Equal(t, "/tmp/species.db", s.Cache.SQLite.Path)
	assert.Equal(t, 10, s.Filter.RadiusKm)
	assert.Equal(t, DefaultEBirdBaseURL, s.EBird.BaseURL)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "ebird:\n  apikey: file-key\n")
	t.Setenv("BIRDID_EBIRD_APIKEY", "env-key")
	t.Setenv("BIRDID_OFFLINE_DIR", "/srv/offline")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", s.EBird.APIKey)
	assert.Equal(t, "/srv/offline", s.Offline.Dir)
}

func TestInvalidEnvValueRejected(t *testing.T) {
	path := writeConfig(t, "debug: false\n")
	t.Setenv("BIRDID_FILTER_RADIUSKM", "80")

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.Contains(t, err.Error(), "BIRDID_FILTER_RADIUSKM")
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	path := writeConfig(t, "cache:\n  backend: memcached\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	path := writeConfig(t, "debug: true\n")
	s, err := Load(path)
	require.NoError(t, err)

	s.Filter.RadiusKm = 40
	require.NoError(t, SaveYAMLConfig(path, s))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 40, reloaded.Filter.RadiusKm)
	assert.True(t, reloaded.Debug)
}
