// Package conf loads birdid settings from config.yaml, environment variables and defaults.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/birdid/internal/errors"
	"github.com/tphakala/birdid/internal/fsutil"
	"github.com/tphakala/birdid/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// EnvPrefix is prepended to environment overrides, e.g. BIRDID_EBIRD_APIKEY.
const EnvPrefix = "BIRDID"

// Settings contains all configuration options for birdid.
type Settings struct {
	Debug     bool                 `yaml:"debug"`
	Logging   logger.LoggingConfig `yaml:"logging"`
	EBird     EBirdSettings        `yaml:"ebird"`
	Geocoder  GeocoderSettings     `yaml:"geocoder"`
	Cache     CacheSettings        `yaml:"cache"`
	Offline   OfflineSettings      `yaml:"offline"`
	Filter    FilterSettings       `yaml:"filter"`
	WebServer WebServerSettings    `yaml:"webserver"`
	Telemetry TelemetrySettings    `yaml:"telemetry"`
}

// EBirdSettings configures the eBird API v2 client.
type EBirdSettings struct {
	APIKey       string        `yaml:"apikey" mapstructure:"apikey"`
	BaseURL      string        `yaml:"baseurl" mapstructure:"baseurl"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RateLimitMs  int           `yaml:"ratelimitms" mapstructure:"ratelimitms"`
	MaxRetries   int           `yaml:"maxretries" mapstructure:"maxretries"`
	ReferenceTTL time.Duration `yaml:"referencettl" mapstructure:"referencettl"` // memo lifetime for country/subdivision lists
	Locale       string        `yaml:"locale" mapstructure:"locale"`
}

// GeocoderSettings configures the Nominatim-compatible reverse geocoder.
type GeocoderSettings struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Endpoint  string        `yaml:"endpoint" mapstructure:"endpoint"`
	UserAgent string        `yaml:"useragent" mapstructure:"useragent"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RateLimit float64       `yaml:"ratelimit" mapstructure:"ratelimit"` // requests per second
	MemoTTL   time.Duration `yaml:"memottl" mapstructure:"memottl"`
}

// CacheSettings selects and configures the species list cache backend.
type CacheSettings struct {
	Backend string         `yaml:"backend" mapstructure:"backend"` // file, sqlite or redis
	Dir     string         `yaml:"dir" mapstructure:"dir"`
	TTL     time.Duration  `yaml:"ttl" mapstructure:"ttl"`
	SQLite  SQLiteSettings `yaml:"sqlite" mapstructure:"sqlite"`
	Redis   RedisSettings  `yaml:"redis" mapstructure:"redis"`
}

type SQLiteSettings struct {
	Path string `yaml:"path" mapstructure:"path"`
}

type RedisSettings struct {
	URL    string `yaml:"url" mapstructure:"url"`
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
}

// OfflineSettings points at the bundled per-country species dataset.
type OfflineSettings struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// FilterSettings tunes location resolution and result reconciliation.
type FilterSettings struct {
	Enabled      bool `yaml:"enabled" mapstructure:"enabled"`
	RadiusKm     int  `yaml:"radiuskm" mapstructure:"radiuskm"`
	MinSpecies   int  `yaml:"minspecies" mapstructure:"minspecies"`     // Tier 1 acceptance threshold
	BroadenBelow int  `yaml:"broadenbelow" mapstructure:"broadenbelow"` // GPS_POINT lists smaller than this may be broadened
	RejectedCap  int  `yaml:"rejectedcap" mapstructure:"rejectedcap"`
}

type WebServerSettings struct {
	Listen    string `yaml:"listen" mapstructure:"listen"`
	BodyLimit string `yaml:"bodylimit" mapstructure:"bodylimit"` // e.g. 1M, 512K
}

// TelemetrySettings enables error reporting to Sentry.
type TelemetrySettings struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	Environment string `yaml:"environment" mapstructure:"environment"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configuration from configPath, or from the first config.yaml found
// in the default search paths when configPath is empty. A default file is
// written when none exists.
func Load(configPath string) (*Settings, error) {
	v, err := initViper(configPath)
	if err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()
	return settings, nil
}

// initViper creates a viper instance with defaults, env bindings and the config file applied.
func initViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaultConfig(v)

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		paths, err := GetDefaultConfigPaths()
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, configReadError(err, configPath)
		}
		target := configPath
		if target == "" {
			paths, err := GetDefaultConfigPaths()
			if err != nil {
				return nil, err
			}
			target = filepath.Join(paths[0], "config.yaml")
		}
		if err := writeDefaultConfig(target); err != nil {
			return nil, err
		}
		v.SetConfigFile(target)
		if err := v.ReadInConfig(); err != nil {
			return nil, configReadError(err, target)
		}
	}
	return v, nil
}

func configReadError(err error, path string) error {
	return errors.New(err).
		Component("conf").
		Category(errors.CategoryFileParsing).
		Context("config_path", path).
		Build()
}

func writeDefaultConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("config_path", configPath).
			Build()
	}
	if err := os.WriteFile(configPath, DefaultConfig(), 0o600); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("config_path", configPath).
			Build()
	}
	GetLogger().Info("created default config file", logger.String("path", configPath))
	return nil
}

// DefaultConfig returns the embedded default config.yaml.
func DefaultConfig() []byte {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		// embedded at build time
		panic(fmt.Sprintf("conf: embedded config.yaml missing: %v", err))
	}
	return data
}

// GetDefaultConfigPaths returns the directories searched for config.yaml, in order.
func GetDefaultConfigPaths() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "resolve_home_dir").
			Build()
	}
	return []string{
		filepath.Join(home, ".config", "birdid"),
		".",
		"/etc/birdid",
	}, nil
}

// GetSettings returns the most recently loaded settings, or nil.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath atomically.
// Comments and ordering of an existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileParsing).
			Build()
	}

	if err := fsutil.WriteFileAtomic(configPath, data, 0o600); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("config_path", configPath).
			Build()
	}
	return nil
}

// UserAgent returns the configured geocoder User-Agent or the fallback.
func (s *Settings) UserAgent(fallback string) string {
	if ua := strings.TrimSpace(s.Geocoder.UserAgent); ua != "" {
		return ua
	}
	return fallback
}
