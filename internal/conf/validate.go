// validate.go - settings validation
package conf

import (
	"fmt"
	"strings"

	"github.com/labstack/gommon/bytes"

	"github.com/tphakala/birdid/internal/errors"
)

// ValidationError collects every problem found in a Settings value.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %v", ve.Errors)
}

// ValidateSettings checks settings for values no component can work with.
// The eBird API key is optional: without it only cache and offline tiers are available.
func ValidateSettings(s *Settings) error {
	ve := ValidationError{}

	if s.EBird.Timeout <= 0 {
		ve.Errors = append(ve.Errors, "ebird.timeout must be positive")
	}
	if s.EBird.MaxRetries < 0 {
		ve.Errors = append(ve.Errors, "ebird.maxretries must not be negative")
	}
	if s.EBird.RateLimitMs < 0 {
		ve.Errors = append(ve.Errors, "ebird.ratelimitms must not be negative")
	}
	if strings.TrimSpace(s.EBird.BaseURL) == "" {
		ve.Errors = append(ve.Errors, "ebird.baseurl must be set")
	}

	if s.Geocoder.Enabled {
		if s.Geocoder.Timeout <= 0 {
			ve.Errors = append(ve.Errors, "geocoder.timeout must be positive")
		}
		if s.Geocoder.RateLimit <= 0 {
			ve.Errors = append(ve.Errors, "geocoder.ratelimit must be positive")
		}
		if strings.TrimSpace(s.Geocoder.Endpoint) == "" {
			ve.Errors = append(ve.Errors, "geocoder.endpoint must be set when the geocoder is enabled")
		}
	}

	switch s.Cache.Backend {
	case "file":
		if s.Cache.Dir == "" {
			ve.Errors = append(ve.Errors, "cache.dir must be set for the file backend")
		}
	case "sqlite":
		if s.Cache.SQLite.Path == "" {
			ve.Errors = append(ve.Errors, "cache.sqlite.path must be set for the sqlite backend")
		}
	case "redis":
		if s.Cache.Redis.URL == "" {
			ve.Errors = append(ve.Errors, "cache.redis.url must be set for the redis backend")
		}
	case "memory":
	default:
		ve.Errors = append(ve.Errors, fmt.Sprintf("cache.backend %q is not one of file, sqlite, redis, memory", s.Cache.Backend))
	}
	if s.Cache.TTL <= 0 {
		ve.Errors = append(ve.Errors, "cache.ttl must be positive")
	}

	if s.Filter.RadiusKm < 1 || s.Filter.RadiusKm > 50 {
		ve.Errors = append(ve.Errors, fmt.Sprintf("filter.radiuskm must be between 1 and 50, got %d", s.Filter.RadiusKm))
	}
	if s.Filter.MinSpecies < 1 {
		ve.Errors = append(ve.Errors, "filter.minspecies must be at least 1")
	}
	if s.Filter.BroadenBelow < 0 {
		ve.Errors = append(ve.Errors, "filter.broadenbelow must not be negative")
	}
	if s.Filter.RejectedCap < 1 {
		ve.Errors = append(ve.Errors, "filter.rejectedcap must be at least 1")
	}

	if s.WebServer.BodyLimit != "" {
		if n, err := bytes.Parse(s.WebServer.BodyLimit); err != nil || n <= 0 {
			ve.Errors = append(ve.Errors, fmt.Sprintf("webserver.bodylimit %q is not a size such as 1M or 512K", s.WebServer.BodyLimit))
		}
	}

	if s.Telemetry.Enabled && s.Telemetry.DSN == "" {
		ve.Errors = append(ve.Errors, "telemetry.dsn must be set when telemetry is enabled")
	}

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("error_count", len(ve.Errors)).
			Build()
	}
	return nil
}
