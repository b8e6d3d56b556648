package offline

import (
	"sync"

	"github.com/tphakala/birdid/internal/logger"
)

var (
	pkgLogger  logger.Logger
	loggerOnce sync.Once
)

// GetLogger returns the offline package logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		pkgLogger = logger.Global().Module("offline")
	})
	return pkgLogger
}
