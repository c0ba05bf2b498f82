package logger

import (
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"codeberg.org/mutker/serverpop/internal/errors"
	"github.com/rs/zerolog"
)

var log = zerolog.New(os.Stdout).With().Timestamp().Logger()

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// Init initializes the logger based on the given configuration
func Init(level string, isService bool) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}

	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	if isService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	log = zerolog.New(output).With().Timestamp().Logger()
	SetLogLevel(lvl)

	return nil
}

// InitWithWriter points the global logger at w without console formatting
func InitWithWriter(w io.Writer, level LogLevel) {
	log = zerolog.New(w).With().Timestamp().Logger()
	SetLogLevel(level)
}

// ParseLevel maps a configured level name to a LogLevel
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, errors.New().WithData(errors.ErrInvalidLogLevel, level)
	}
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// ErrorWithCode logs an error message with a specific error code
func ErrorWithCode(err errors.Error) *LogEvent {
	return withCode(log.Error(), err)
}

func withCode(event *zerolog.Event, err errors.Error) *LogEvent {
	return &LogEvent{event.
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}

// Default returns a Logger backed by the global logger
func Default() Logger {
	return &scoped{fields: nil}
}

// Nop returns a Logger that discards everything
func Nop() Logger {
	return &scoped{nop: true}
}

type field struct {
	key, value string
}

// scoped resolves the global logger at call time so Init can run after
// components have been constructed.
type scoped struct {
	fields []field
	nop    bool
}

func (s *scoped) base() zerolog.Logger {
	if s.nop {
		return zerolog.Nop()
	}
	ctx := log.With()
	for _, f := range s.fields {
		ctx = ctx.Str(f.key, f.value)
	}
	return ctx.Logger()
}

func (s *scoped) Debug() *LogEvent {
	l := s.base()
	return &LogEvent{l.Debug()}
}

func (s *scoped) Info() *LogEvent {
	l := s.base()
	return &LogEvent{l.Info()}
}

func (s *scoped) Warn() *LogEvent {
	l := s.base()
	return &LogEvent{l.Warn()}
}

func (s *scoped) Error() *LogEvent {
	l := s.base()
	return &LogEvent{l.Error()}
}

func (s *scoped) ErrorWithCode(err errors.Error) *LogEvent {
	l := s.base()
	return withCode(l.Error(), err)
}

func (s *scoped) With(key, value string) Logger {
	fields := make([]field, len(s.fields), len(s.fields)+1)
	copy(fields, s.fields)
	return &scoped{fields: append(fields, field{key, value}), nop: s.nop}
}
