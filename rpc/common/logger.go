package common

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/rs/zerolog"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// zeroLogger writes the log lines of one component through zerolog
type zeroLogger struct {
	mu     sync.RWMutex
	level  logger.LogLevel
	logger zerolog.Logger
}

func (l *zeroLogger) SetLevel(level logger.LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *zeroLogger) enabled(level logger.LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level >= level
}

func (l *zeroLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(logger.DEBUG) {
		l.logger.Debug().Msgf(format, args...)
	}
}

func (l *zeroLogger) Infof(format string, args ...interface{}) {
	if l.enabled(logger.INFO) {
		l.logger.Info().Msgf(format, args...)
	}
}

func (l *zeroLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(logger.WARNING) {
		l.logger.Warn().Msgf(format, args...)
	}
}

func (l *zeroLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(logger.ERROR) {
		l.logger.Error().Msgf(format, args...)
	}
}

func (l *zeroLogger) Panicf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
	panic(fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

var (
	logOutput io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logLevel            = logger.INFO
)

// CreateLogger creates the logger of a component, it is installed as the dragonboat logger factory
func CreateLogger(pkgName string) logger.ILogger {
	return &zeroLogger{
		level:  logLevel,
		logger: zerolog.New(logOutput).With().Timestamp().Str("component", pkgName).Logger(),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// components are the loggers of dragonboat and txKV whose level follows the configured level
var components = []string{
	// dragonboat
	"raft", "rsm", "transport", "dragonboat", "grpc", "logdb", "settings", "config",
	// txKV
	"store", "engine", "raftdb", "rpc", "transport/rpc",
}

// InitLoggers installs the zerolog backed logger factory and sets the level of all loggers
func InitLoggers(level string) error {
	parsed, err := ParseLogLevel(level)
	if err != nil {
		return err
	}
	logLevel = parsed

	logger.SetLoggerFactory(CreateLogger)
	for _, name := range components {
		logger.GetLogger(name).SetLevel(parsed)
	}
	return nil
}
