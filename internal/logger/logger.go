package logger

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"fundsync/internal/config"
)

var (
	global *logrus.Logger
	mu     sync.RWMutex
)

func init() {
	global = logrus.New()
	global.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	global.SetOutput(os.Stderr)
	global.SetLevel(logrus.InfoLevel)
}

// Init configures the global logger from the application configuration.
func Init(cfg config.LoggingConfig) {
	mu.Lock()
	defer mu.Unlock()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	global.SetLevel(level)

	switch cfg.Format {
	case "json":
		global.SetFormatter(&logrus.JSONFormatter{})
	default:
		global.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	global.SetOutput(buildOutput(cfg))
}

func buildOutput(cfg config.LoggingConfig) io.Writer {
	switch cfg.Output {
	case "file":
		return rotatingWriter(cfg)
	case "both":
		return io.MultiWriter(os.Stderr, rotatingWriter(cfg))
	default:
		return os.Stderr
	}
}

func rotatingWriter(cfg config.LoggingConfig) io.Writer {
	file := cfg.File
	if file == "" {
		file = "logs/fundsync.log"
	}
	return &lumberjack.Logger{
		Filename:   file,
		MaxSize:    orDefault(cfg.MaxSizeMB, 100),
		MaxBackups: orDefault(cfg.MaxBackups, 5),
		MaxAge:     orDefault(cfg.MaxAgeDays, 30),
		Compress:   true,
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// L returns the global logger.
func L() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// WithField returns an entry with one field attached.
func WithField(key string, value interface{}) *logrus.Entry {
	return L().WithField(key, value)
}

// WithFields returns an entry with the given fields attached.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return L().WithFields(fields)
}

func Debug(args ...interface{}) { L().Debug(args...) }
func Info(args ...interface{})  { L().Info(args...) }
func Warn(args ...interface{})  { L().Warn(args...) }
func Error(args ...interface{}) { L().Error(args...) }
func Fatal(args ...interface{}) { L().Fatal(args...) }

func Debugf(format string, args ...interface{}) { L().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { L().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { L().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { L().Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { L().Fatalf(format, args...) }
