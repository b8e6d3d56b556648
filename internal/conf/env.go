// env.go - environment variable overrides
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/birdid/internal/errors"
)

// envBinding ties an environment variable to a config key with optional validation.
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

// getEnvBindings lists keys whose env values are validated before use.
// Every other key is still overridable through the BIRDID_ prefix.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "BIRDID_DEBUG", validateEnvBool},
		{"ebird.apikey", "BIRDID_EBIRD_APIKEY", nil},
		{"ebird.baseurl", "BIRDID_EBIRD_BASEURL", validateEnvURL},
		{"ebird.timeout", "BIRDID_EBIRD_TIMEOUT", validateEnvDuration},
		{"geocoder.endpoint", "BIRDID_GEOCODER_ENDPOINT", validateEnvURL},
		{"geocoder.enabled", "BIRDID_GEOCODER_ENABLED", validateEnvBool},
		{"cache.backend", "BIRDID_CACHE_BACKEND", validateEnvBackend},
		{"cache.ttl", "BIRDID_CACHE_TTL", validateEnvDuration},
		{"cache.redis.url", "BIRDID_CACHE_REDIS_URL", validateEnvURL},
		{"filter.radiuskm", "BIRDID_FILTER_RADIUSKM", validateEnvRadius},
		{"telemetry.enabled", "BIRDID_TELEMETRY_ENABLED", validateEnvBool},
		{"telemetry.dsn", "BIRDID_TELEMETRY_DSN", nil},
	}
}

// bindEnvVars enables prefixed env overrides and validates the bound values.
func bindEnvVars(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var problems []string
	for _, b := range getEnvBindings() {
		if err := v.BindEnv(b.ConfigKey, b.EnvVar); err != nil {
			problems = append(problems, fmt.Sprintf("failed to bind %s: %v", b.EnvVar, err))
			continue
		}
		if b.Validate == nil {
			continue
		}
		if value := os.Getenv(b.EnvVar); value != "" {
			if err := b.Validate(value); err != nil {
				problems = append(problems, fmt.Sprintf("invalid %s value %q: %v", b.EnvVar, value, err))
			}
		}
	}

	if len(problems) > 0 {
		return errors.Newf("environment variable issues:\n  - %s", strings.Join(problems, "\n  - ")).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true/false, 1/0, t/f")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}

func validateEnvBackend(value string) error {
	switch value {
	case "file", "sqlite", "redis", "memory":
		return nil
	}
	return fmt.Errorf("must be one of file, sqlite, redis, memory")
}

func validateEnvRadius(value string) error {
	r, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	if r < 1 || r > 50 {
		return fmt.Errorf("must be between 1 and 50, got %d", r)
	}
	return nil
}
