// Package buildinfo holds build-time metadata injected with -ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
)

// Set at build time:
//
//	go build -ldflags "-X github.com/tphakala/birdid/internal/buildinfo.version=v1.2.0"
var (
	version   = "dev"
	buildDate = "unknown"
)

// Context contains build-time metadata that is not user-configurable.
type Context struct {
	Version   string
	BuildDate string
}

// Current returns the metadata compiled into this binary.
func Current() *Context {
	return &Context{Version: version, BuildDate: buildDate}
}

// GetVersion returns the version or "unknown".
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return "unknown"
	}
	return c.Version
}

// GetBuildDate returns the build date or "unknown".
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return "unknown"
	}
	return c.BuildDate
}

// UserAgent identifies this application to third-party APIs. Nominatim's
// usage policy requires a descriptive agent with a contact point.
func (c *Context) UserAgent() string {
	return fmt.Sprintf("birdid/%s (%s; +https://github.com/tphakala/birdid)", c.GetVersion(), runtime.GOOS)
}

// String renders version and build date for `birdid --version`.
func (c *Context) String() string {
	return fmt.Sprintf("%s (built %s)", c.GetVersion(), c.GetBuildDate())
}
