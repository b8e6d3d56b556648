package locate

import (
	"sync"

	"github.com/tphakala/birdid/internal/logger"
)

var (
	pkgLogger  logger.Logger
	loggerOnce sync.Once
)

// GetLogger returns the locate package logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		pkgLogger = logger.Global().Module("locate")
	})
	return pkgLogger
}
