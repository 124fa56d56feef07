package logger

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger owns the process logger and its outputs.
type Logger struct {
	logger   zerolog.Logger
	file     *RotatingWriter
	redactor *Redactor
	level    atomic.Int32
}

// Config holds logger configuration
type Config struct {
	Level     string // debug, info, warn, error
	File      string // log file path, rotated
	Console   bool   // enable console output
	Pretty    bool   // pretty format for console
	Redaction bool   // enable sensitive data redaction
	Secrets   []string
	MaxSize   int  // max size in MB before rotation
	MaxAge    int  // max age in days
	Compress  bool // compress rotated logs

	// Console output goes here when set, stdout otherwise.
	Output io.Writer
}

// New creates a new logger
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var writers []io.Writer
	if cfg.Console {
		var consoleWriter io.Writer = out
		if cfg.Pretty {
			consoleWriter = zerolog.ConsoleWriter{
				Out:        out,
				TimeFormat: time.RFC3339,
			}
		}
		writers = append(writers, consoleWriter)
	}

	var file *RotatingWriter
	if cfg.File != "" {
		maxSize := cfg.MaxSize
		if maxSize <= 0 {
			maxSize = 100
		}
		file, err = NewRotatingWriter(cfg.File, maxSize, cfg.MaxAge, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = out
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	var redactor *Redactor
	if cfg.Redaction {
		redactor = NewRedactor()
		for _, s := range cfg.Secrets {
			redactor.AddSecret(s)
		}
		writer = redactor.Wrap(writer)
	}

	l := &Logger{file: file, redactor: redactor}
	l.level.Store(int32(level))

	// The level hook lets SetLevel take effect on loggers already handed out.
	l.logger = zerolog.New(writer).
		Level(zerolog.TraceLevel).
		Hook(levelGate{l}).
		With().
		Timestamp().
		Logger()

	log.Logger = l.logger

	return l, nil
}

// levelGate discards events below the current level.
type levelGate struct{ l *Logger }

func (g levelGate) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	if level < g.l.Level() {
		e.Discard()
	}
}

// SetLevel changes the minimum level for this logger and every child.
func (l *Logger) SetLevel(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	l.level.Store(int32(parsed))
	return nil
}

// Level returns the current minimum level.
func (l *Logger) Level() zerolog.Level {
	return zerolog.Level(l.level.Load())
}

// AddSecret registers a value that must never reach the log output.
// It is a no-op when redaction is disabled.
func (l *Logger) AddSecret(secret string) {
	if l.redactor != nil {
		l.redactor.AddSecret(secret)
	}
}

// Close closes the logger and any open files
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Component returns a child logger tagged with a component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.logger.With().Str("component", name).Logger()
}

// GetZerolog returns the underlying zerolog.Logger
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.logger
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
		MaxSize:   100,
		MaxAge:    7,
		Compress:  true,
	}
}
