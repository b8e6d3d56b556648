// Package telemetry provides opt-in, privacy-filtered error reporting to Sentry.
package telemetry

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/birdid/internal/buildinfo"
	"github.com/tphakala/birdid/internal/errors"
	"github.com/tphakala/birdid/internal/logger"
)

const flushTimeout = 2 * time.Second

// Config controls Sentry initialisation.
type Config struct {
	Enabled     bool
	DSN         string
	Environment string
	// Transport overrides the HTTP transport; tests capture events with it
	Transport sentry.Transport
}

var (
	pkgLogger  logger.Logger
	loggerOnce sync.Once
)

// GetLogger returns the telemetry package logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		pkgLogger = logger.Global().Module("telemetry")
	})
	return pkgLogger
}

// Init initialises Sentry and installs it as the error reporter. Telemetry is
// opt-in: when disabled or without a DSN, Init does nothing. The returned
// shutdown func flushes pending events and uninstalls the reporter.
func Init(cfg Config) (shutdown func(), err error) {
	log := GetLogger()
	if !cfg.Enabled || cfg.DSN == "" {
		log.Debug("error telemetry disabled")
		return func() {}, nil
	}

	environment := cfg.Environment
	if environment == "" {
		environment = "production"
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      environment,
		ServerName:       "", // prevent hostname leakage
		Release:          "birdid@" + buildinfo.Current().GetVersion(),
		Transport:        cfg.Transport,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return func() {}, fmt.Errorf("sentry initialization failed: %w", err)
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetTag("version", buildinfo.Current().GetVersion())
	})

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	log.Info("error telemetry enabled",
		logger.String("environment", environment))

	return func() {
		errors.SetTelemetryReporter(nil)
		if !sentry.Flush(flushTimeout) {
			log.Warn("timed out flushing telemetry events")
		}
	}, nil
}

// applyPrivacyFilters strips identifying data from an event before it is sent.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Request = nil

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}
