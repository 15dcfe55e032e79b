package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// LogLevel represents the logging verbosity level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// DebugCategory represents specific debug categories for targeted debugging
type DebugCategory string

const (
	DebugRTP        DebugCategory = "rtp"
	DebugRTCP       DebugCategory = "rtcp"
	DebugSplitter   DebugCategory = "splitter"
	DebugJitter     DebugCategory = "jitter"
	DebugController DebugCategory = "controller"
	DebugTransport  DebugCategory = "transport"
	DebugAll        DebugCategory = "all"
)

// Config holds logger configuration
type Config struct {
	Level             LogLevel
	Format            OutputFormat
	OutputFile        string
	EnabledCategories map[DebugCategory]bool
	mu                sync.RWMutex
}

// OutputFormat determines the log output format
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Global logger instance
var (
	defaultLogger *Logger
	once          sync.Once
)

// Logger wraps slog.Logger with category-based debugging
type Logger struct {
	*slog.Logger
	config *Config
	file   *os.File
}

// NewConfig creates a new logger configuration with defaults
func NewConfig() *Config {
	return &Config{
		Level:             LevelInfo,
		Format:            FormatText,
		OutputFile:        "",
		EnabledCategories: make(map[DebugCategory]bool),
	}
}

// ParseLevel converts a string to LogLevel
func ParseLevel(level string) (LogLevel, error) {
	switch level {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO":
		return LevelInfo, nil
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
}

// ParseFormat converts a string to OutputFormat
func ParseFormat(format string) (OutputFormat, error) {
	switch format {
	case "json", "JSON":
		return FormatJSON, nil
	case "text", "TEXT":
		return FormatText, nil
	default:
		return "", fmt.Errorf("invalid log format: %s (must be json or text)", format)
	}
}

// ToSlogLevel converts LogLevel to slog.Level
func (l LogLevel) ToSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a new Logger instance with the given configuration
func New(cfg *Config) (*Logger, error) {
	var writer io.Writer = os.Stdout
	var file *os.File

	if cfg.OutputFile != "" {
		f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.OutputFile, err)
		}
		writer = f
		file = f
	}

	handlerOpts := &slog.HandlerOptions{
		Level: cfg.Level.ToSlogLevel(),
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(writer, handlerOpts)
	default:
		handler = slog.NewTextHandler(writer, handlerOpts)
	}

	return &Logger{
		Logger: slog.New(handler),
		config: cfg,
		file:   file,
	}, nil
}

// EnableCategory enables a specific debug category
func (c *Config) EnableCategory(category DebugCategory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if category == DebugAll {
		c.EnabledCategories[DebugRTP] = true
		c.EnabledCategories[DebugRTCP] = true
		c.EnabledCategories[DebugSplitter] = true
		c.EnabledCategories[DebugJitter] = true
		c.EnabledCategories[DebugController] = true
		c.EnabledCategories[DebugTransport] = true
	} else {
		c.EnabledCategories[category] = true
	}
}

// IsCategoryEnabled checks if a debug category is enabled
func (c *Config) IsCategoryEnabled(category DebugCategory) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.EnabledCategories[category]
}

// IsDebugEnabled checks if any debug category is enabled
func (c *Config) IsDebugEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.EnabledCategories) > 0
}

// Close closes the log file if one was opened
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// DebugRTPPacket logs RTP packet details if RTP debugging is enabled
func (l *Logger) DebugRTPPacket(seq uint16, timestamp uint32, payloadType uint8, payloadSize int) {
	if l.config.IsCategoryEnabled(DebugRTP) {
		l.Debug("RTP packet",
			"category", "rtp",
			"sequence", seq,
			"timestamp", timestamp,
			"payload_type", payloadType,
			"payload_size", payloadSize)
	}
}

// DebugRTCPMessage logs an RTCP message if RTCP debugging is enabled
func (l *Logger) DebugRTCPMessage(packetType uint8, length uint16) {
	if l.config.IsCategoryEnabled(DebugRTCP) {
		l.Debug("RTCP packet", "category", "rtcp", "type", packetType, "length", length)
	}
}

// DebugSplitterFragment logs a VP8 splitter fragment if splitter debugging is enabled
func (l *Logger) DebugSplitterFragment(seq uint16, firstFrag bool, size int) {
	if l.config.IsCategoryEnabled(DebugSplitter) {
		l.Debug("VP8 fragment", "category", "splitter", "sequence", seq, "first", firstFrag, "size", size)
	}
}

// DebugJitterTick logs a jitter buffer estimator tick if jitter debugging is enabled
func (l *Logger) DebugJitterTick(rxIntervalMs float64, queueLen int) {
	if l.config.IsCategoryEnabled(DebugJitter) {
		l.Debug("jitter tick", "category", "jitter", "rx_interval_ms", rxIntervalMs, "queue_len", queueLen)
	}
}

// DebugControllerState logs a session controller state transition if controller debugging is enabled
func (l *Logger) DebugControllerState(from, to string) {
	if l.config.IsCategoryEnabled(DebugController) {
		l.Debug("controller state", "category", "controller", "from", from, "to", to)
	}
}

// WithContext returns a copy of the logger; ctx is not inspected and no
// context values are added.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	return &Logger{
		Logger: l.Logger,
		config: l.config,
		file:   l.file,
	}
}

// With returns a new Logger with the given attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		config: l.config,
		file:   l.file,
	}
}

// SetDefault sets the global default logger
func SetDefault(logger *Logger) {
	defaultLogger = logger
	slog.SetDefault(logger.Logger)
}

// Default returns the default logger, creating one if necessary
func Default() *Logger {
	once.Do(func() {
		cfg := NewConfig()
		logger, err := New(cfg)
		if err != nil {
			logger = &Logger{Logger: slog.Default(), config: cfg}
		}
		defaultLogger = logger
	})
	return defaultLogger
}

// Debug logs at Debug level using the default logger
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }

// Info logs at Info level using the default logger
func Info(msg string, args ...any) { Default().Info(msg, args...) }

// Warn logs at Warn level using the default logger
func Warn(msg string, args ...any) { Default().Warn(msg, args...) }

// Error logs at Error level using the default logger
func Error(msg string, args ...any) { Default().Error(msg, args...) }
