package observability

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	globalLogger zerolog.Logger
	initialized  bool
	loggerMu     sync.RWMutex
)

// InitLogger initializes the global structured logger
func InitLogger(level string, pretty bool) {
	InitLoggerWithWriter(level, pretty, os.Stdout)
}

// InitLoggerWithWriter initializes the global logger writing to out.
func InitLoggerWithWriter(level string, pretty bool, out io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		// Pretty console output for development
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}
	globalLogger = zerolog.New(out).With().Timestamp().Logger()

	log.Logger = globalLogger
	initialized = true
}

// GetLogger returns the global logger
func GetLogger() zerolog.Logger {
	loggerMu.RLock()
	if initialized {
		defer loggerMu.RUnlock()
		return globalLogger
	}
	loggerMu.RUnlock()

	InitLogger("info", false)
	return GetLogger()
}

// Component returns a logger tagged with the emitting component.
func Component(name string) zerolog.Logger {
	return GetLogger().With().Str("component", name).Logger()
}

// WithCorrelationID creates a logger with a correlation ID
func WithCorrelationID(correlationID string) zerolog.Logger {
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	return GetLogger().With().Str("correlation_id", correlationID).Logger()
}

// NewCorrelationID generates a new correlation ID
func NewCorrelationID() string {
	return uuid.New().String()
}
