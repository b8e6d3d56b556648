package conf

import (
	"sync"

	"github.com/tphakala/birdid/internal/logger"
)

var (
	confLogger logger.Logger
	loggerOnce sync.Once
)

// GetLogger returns the conf package logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		confLogger = logger.Global().Module("conf")
	})
	return confLogger
}
