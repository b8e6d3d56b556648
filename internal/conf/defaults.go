// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default values shared with the components that consume them.
const (
	DefaultEBirdBaseURL     = "https://api.ebird.org/v2"
	DefaultGeocoderEndpoint = "https://nominatim.openstreetmap.org/reverse"
	DefaultCacheTTL         = 30 * 24 * time.Hour
	DefaultRadiusKm         = 25
	DefaultMinSpecies       = 50
	DefaultBroadenBelow     = 200
	DefaultRejectedCap      = 5
)

// setDefaultConfig sets default values for every configuration key.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.defaultlevel", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.fileoutput.enabled", false)
	v.SetDefault("logging.fileoutput.path", "logs/birdid.log")
	v.SetDefault("logging.fileoutput.level", "info")

	v.SetDefault("ebird.apikey", "")
	v.SetDefault("ebird.baseurl", DefaultEBirdBaseURL)
	v.SetDefault("ebird.timeout", 30*time.Second)
	v.SetDefault("ebird.ratelimitms", 100)
	v.SetDefault("ebird.maxretries", 3)
	v.SetDefault("ebird.referencettl", 24*time.Hour)
	v.SetDefault("ebird.locale", "en")

	v.SetDefault("geocoder.enabled", true)
	v.SetDefault("geocoder.endpoint", DefaultGeocoderEndpoint)
	v.SetDefault("geocoder.useragent", "")
	v.SetDefault("geocoder.timeout", 10*time.Second)
	v.SetDefault("geocoder.ratelimit", 1.0)
	v.SetDefault("geocoder.memottl", 24*time.Hour)

	v.SetDefault("cache.backend", "file")
	v.SetDefault("cache.dir", "cache/species")
	v.SetDefault("cache.ttl", DefaultCacheTTL)
	v.SetDefault("cache.sqlite.path", "cache/species.db")
	v.SetDefault("cache.redis.url", "redis://localhost:6379/0")
	v.SetDefault("cache.redis.prefix", "birdid:species:")

	v.SetDefault("offline.dir", "offline")

	v.SetDefault("filter.enabled", true)
	v.SetDefault("filter.radiuskm", DefaultRadiusKm)
	v.SetDefault("filter.minspecies", DefaultMinSpecies)
	v.SetDefault("filter.broadenbelow", DefaultBroadenBelow)
	v.SetDefault("filter.rejectedcap", DefaultRejectedCap)

	v.SetDefault("webserver.listen", "127.0.0.1:8080")
	v.SetDefault("webserver.bodylimit", "1M")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dsn", "")
	v.SetDefault("telemetry.environment", "production")
}
