package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

var defaultLogger Logger

// Logger is the logging surface used across the media engine. It is a thin
// wrapper over logrus so the rest of the tree never imports logrus directly.
type Logger interface {
	Info(msg ...any)
	Infof(format string, msg ...any)
	Debug(msg ...any)
	Debugf(format string, msg ...any)
	Warn(msg ...any)
	Warnf(format string, msg ...any)
	Error(msg ...any)
	Errorf(format string, msg ...any)

	WithField(key string, value any) Logger
	WithError(err error) Logger
}

type loggerStruct struct {
	log *logrus.Entry
}

func init() {
	logrus.SetOutput(os.Stdout)
	level := logrus.InfoLevel
	if env := os.Getenv("MEDIA_LOG_LEVEL"); env != "" {
		if parsed, err := logrus.ParseLevel(env); err == nil {
			level = parsed
		}
	}
	logrus.SetLevel(level)
	defaultLogger = NewLogger("media")
}

func NewLogger(name string) Logger {
	return &loggerStruct{
		log: logrus.WithField("name", name),
	}
}

// SetLevel overrides the process log level. Unknown names are ignored.
func SetLevel(level string) {
	if parsed, err := logrus.ParseLevel(level); err == nil {
		logrus.SetLevel(parsed)
	}
}

func (l *loggerStruct) WithField(key string, value any) Logger {
	return &loggerStruct{log: l.log.WithField(key, value)}
}

func (l *loggerStruct) WithError(err error) Logger {
	return &loggerStruct{log: l.log.WithError(err)}
}

func (l *loggerStruct) Info(msg ...any)  { l.log.Infoln(msg...) }
func (l *loggerStruct) Debug(msg ...any) { l.log.Debugln(msg...) }
func (l *loggerStruct) Warn(msg ...any)  { l.log.Warnln(msg...) }
func (l *loggerStruct) Error(msg ...any) { l.log.Errorln(msg...) }

func (l *loggerStruct) Infof(format string, msg ...any)  { l.log.Infof(format, msg...) }
func (l *loggerStruct) Debugf(format string, msg ...any) { l.log.Debugf(format, msg...) }
func (l *loggerStruct) Warnf(format string, msg ...any)  { l.log.Warnf(format, msg...) }
func (l *loggerStruct) Errorf(format string, msg ...any) { l.log.Errorf(format, msg...) }

func Info(msg ...any)  { defaultLogger.Info(msg...) }
func Debug(msg ...any) { defaultLogger.Debug(msg...) }
func Warn(msg ...any)  { defaultLogger.Warn(msg...) }
func Error(msg ...any) { defaultLogger.Error(msg...) }

func Infof(format string, msg ...any)  { defaultLogger.Infof(format, msg...) }
func Debugf(format string, msg ...any) { defaultLogger.Debugf(format, msg...) }
func Warnf(format string, msg ...any)  { defaultLogger.Warnf(format, msg...) }
func Errorf(format string, msg ...any) { defaultLogger.Errorf(format, msg...) }
