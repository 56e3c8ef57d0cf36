package rtc

import (
	"github.com/pion/logging"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/logger"
)

// pionLoggerFactory routes the engine's internal logging through the
// project logger.
type pionLoggerFactory struct{}

type pionLeveledLogger struct {
	log logger.Logger
}

func (f pionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLeveledLogger{log: logger.NewLogger("engine." + scope)}
}

func (l *pionLeveledLogger) Trace(msg string)                  { l.log.Debug(msg) }
func (l *pionLeveledLogger) Tracef(format string, args ...any) { l.log.Debugf(format, args...) }
func (l *pionLeveledLogger) Debug(msg string)                  { l.log.Debug(msg) }
func (l *pionLeveledLogger) Debugf(format string, args ...any) { l.log.Debugf(format, args...) }
func (l *pionLeveledLogger) Info(msg string)                   { l.log.Info(msg) }
func (l *pionLeveledLogger) Infof(format string, args ...any)  { l.log.Infof(format, args...) }
func (l *pionLeveledLogger) Warn(msg string)                   { l.log.Warn(msg) }
func (l *pionLeveledLogger) Warnf(format string, args ...any)  { l.log.Warnf(format, args...) }
func (l *pionLeveledLogger) Error(msg string)                  { l.log.Error(msg) }
func (l *pionLeveledLogger) Errorf(format string, args ...any) { l.log.Errorf(format, args...) }
