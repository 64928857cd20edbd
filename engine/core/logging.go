package core

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
)

type LogLevel uint8

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelFatal
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "debug"
	case LogLevelInfo:
		return "info"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	case LogLevelFatal:
		return "fatal"
	}
	return "unknown"
}

// ParseLogLevel accepts the level names used in the configuration file.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "info", "":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "fatal":
		return LogLevelFatal, nil
	}
	return LogLevelInfo, errors.Newf("unknown log level %q", s)
}

func (l LogLevel) charm() log.Level {
	switch l {
	case LogLevelDebug:
		return log.DebugLevel
	case LogLevelWarn:
		return log.WarnLevel
	case LogLevelError:
		return log.ErrorLevel
	case LogLevelFatal:
		return log.FatalLevel
	}
	return log.InfoLevel
}

var once sync.Once

type logger struct {
	*log.Logger
}

var singleton *logger

func getLogger() *logger {
	once.Do(func() {
		l := log.NewWithOptions(os.Stderr, log.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			CallerOffset:    1,
			Prefix:          "Anima 🎞️ ",
		})
		l.SetLevel(log.InfoLevel)
		singleton = &logger{l}
	})
	return singleton
}

// SetLogLevel changes the level of the engine logger. Safe to call while
// other goroutines are logging.
func SetLogLevel(level LogLevel) {
	getLogger().SetLevel(level.charm())
}

func GetLogLevel() LogLevel {
	switch getLogger().GetLevel() {
	case log.DebugLevel:
		return LogLevelDebug
	case log.WarnLevel:
		return LogLevelWarn
	case log.ErrorLevel:
		return LogLevelError
	case log.FatalLevel:
		return LogLevelFatal
	}
	return LogLevelInfo
}

func SetLogOutput(w io.Writer) {
	getLogger().SetOutput(w)
}

func LogDebug(msg string, args ...interface{}) {
	getLogger().Debugf(msg, args...)
}

func LogInfo(msg string, args ...interface{}) {
	getLogger().Infof(msg, args...)
}

func LogWarn(msg string, args ...interface{}) {
	getLogger().Warnf(msg, args...)
}

func LogError(msg string, args ...interface{}) {
	getLogger().Errorf(msg, args...)
}

func LogFatal(msg string, args ...interface{}) {
	getLogger().Fatalf(msg, args...)
}
