package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"favmirror/pkg/config"
)

// Logger is the logging surface every favmirror package depends on
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)

	// Derived loggers carry their fields into every later message
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	// One-off fields for a single message
	DebugWithFields(msg string, fields map[string]interface{})
	InfoWithFields(msg string, fields map[string]interface{})
	WarnWithFields(msg string, fields map[string]interface{})
	ErrorWithFields(msg string, fields map[string]interface{})
}

// zerologLogger implements Logger on top of a zerolog.Logger value.
// Fields live in the zerolog context, so deriving a logger never touches
// its parent.
type zerologLogger struct {
	zl zerolog.Logger
}

var levels = map[string]zerolog.Level{
	"debug":    zerolog.DebugLevel,
	"info":     zerolog.InfoLevel,
	"warn":     zerolog.WarnLevel,
	"warning":  zerolog.WarnLevel,
	"error":    zerolog.ErrorLevel,
	"disabled": zerolog.Disabled,
}

// New creates a Logger from the logging config. Console output goes to
// stderr so progress lines on stdout stay intact.
func New(cfg *config.LoggingConfig) (Logger, error) {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter is New with an explicit console destination
func NewWithWriter(cfg *config.LoggingConfig, console io.Writer) (Logger, error) {
	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = consoleWriter(console)
	if cfg.File != "" {
		file, err := openLogFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to setup file output: %w", err)
		}
		// console stays human readable, the file gets JSON lines
		output = zerolog.MultiLevelWriter(output, file)
	}

	zl := zerolog.New(output).Level(level).With().
		Timestamp().
		Str("app", "favmirror").
		Logger()
	return &zerologLogger{zl: zl}, nil
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		FormatLevel: func(i interface{}) string {
			level, _ := i.(string)
			switch level {
			case "debug":
				return "\033[37mDEBG\033[0m"
			case "info":
				return "\033[32mINFO\033[0m"
			case "warn":
				return "\033[33mWARN\033[0m"
			case "error":
				return "\033[31mERRO\033[0m"
			default:
				return strings.ToUpper(level)
			}
		},
		FormatMessage: func(i interface{}) string {
			if i == nil {
				return ""
			}
			return fmt.Sprintf("| %s", i)
		},
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("\033[36m%s\033[0m:", i)
		},
	}
}

func openLogFile(path string) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

func parseLogLevel(level string) (zerolog.Level, error) {
	if l, ok := levels[strings.ToLower(level)]; ok {
		return l, nil
	}
	return zerolog.InfoLevel, fmt.Errorf("unknown log level: %q", level)
}

func (l *zerologLogger) Debug(msg string) { l.zl.Debug().Msg(msg) }
func (l *zerologLogger) Info(msg string)  { l.zl.Info().Msg(msg) }
func (l *zerologLogger) Warn(msg string)  { l.zl.Warn().Msg(msg) }
func (l *zerologLogger) Error(msg string) { l.zl.Error().Msg(msg) }

func (l *zerologLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

func (l *zerologLogger) WithFields(fields map[string]interface{}) Logger {
	return &zerologLogger{zl: l.zl.With().Fields(fields).Logger()}
}

// WithError returns l itself for a nil error
func (l *zerologLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return &zerologLogger{zl: l.zl.With().Err(err).Logger()}
}

func (l *zerologLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	l.zl.Debug().Fields(fields).Msg(msg)
}

func (l *zerologLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	l.zl.Info().Fields(fields).Msg(msg)
}

func (l *zerologLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	l.zl.Warn().Fields(fields).Msg(msg)
}

func (l *zerologLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	l.zl.Error().Fields(fields).Msg(msg)
}

var globalLogger Logger

// Initialize builds the process-wide logger from cfg. The zerolog global
// logger is pointed at the same output.
func Initialize(cfg *config.LoggingConfig) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	globalLogger = l
	log.Logger = l.(*zerologLogger).zl
	return nil
}

// GetLogger returns the process-wide logger, creating an info-level one
// when Initialize was never called
func GetLogger() Logger {
	if globalLogger == nil {
		globalLogger, _ = New(&config.LoggingConfig{Level: "info"})
	}
	return globalLogger
}
