// Package logging is the runtime's structured logging layer: one zerolog
// root logger configured at startup, plus the component- and
// session-scoped child loggers the per-session code paths bind their
// fields through. Components never construct their own writers.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Init replaces it; the child
// helpers below derive from whatever it currently is, so they pick up a
// late Init automatically.
var Logger zerolog.Logger

// logFile is the open file sink when file logging is enabled.
var logFile *os.File

// Level aliases zerolog's level type.
type Level = zerolog.Level

// Levels exposed for callers that configure logging.
const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level to emit.
	Level Level
	// Output receives console output. Defaults to os.Stderr.
	Output io.Writer
	// Pretty switches console output to zerolog's human-readable form.
	Pretty bool
	// TimeFormat for timestamps. Defaults to RFC3339.
	TimeFormat string
	// LogToFile additionally writes to a timestamped file under LogDir.
	LogToFile bool
	// LogDir is where log files land. Defaults to /tmp.
	LogDir string
}

func (c *Config) fill() {
	if c.Output == nil {
		c.Output = os.Stderr
	}
	if c.TimeFormat == "" {
		c.TimeFormat = time.RFC3339
	}
	if c.LogDir == "" {
		c.LogDir = "/tmp"
	}
}

// Init configures the root logger. Safe to call more than once; the last
// call wins and closes any previously opened log file.
func Init(cfg Config) {
	cfg.fill()
	zerolog.TimeFieldFormat = cfg.TimeFormat

	out := consoleWriter(cfg)
	if cfg.LogToFile {
		if f := openLogFile(cfg.LogDir); f != nil {
			out = zerolog.MultiLevelWriter(out, f)
		}
	}

	Logger = zerolog.New(out).Level(cfg.Level).With().Timestamp().Logger()
}

func consoleWriter(cfg Config) io.Writer {
	if cfg.Pretty {
		return zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: cfg.TimeFormat}
	}
	return cfg.Output
}

// openLogFile opens a fresh timestamped log file, closing the previous one
// if Init ran before. Returns nil when the file cannot be created; file
// logging is best-effort.
func openLogFile(dir string) *os.File {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	stamp := time.Now().Format("20060102-150405")
	f, err := os.OpenFile(filepath.Join(dir, fmt.Sprintf("agent-runtime-%s.log", stamp)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil
	}
	logFile = f
	return f
}

// Component returns a child logger tagged with the owning component.
func Component(name string) *zerolog.Logger {
	l := Logger.With().Str("component", name).Logger()
	return &l
}

// Session returns a child logger tagged with component and session id, the
// pair every per-session code path logs under.
func Session(component, sessionID string) *zerolog.Logger {
	l := Logger.With().Str("component", component).Str("sessionID", sessionID).Logger()
	return &l
}

// GetLogFilePath returns the current log file path, or empty when file
// logging is off.
func GetLogFilePath() string {
	if logFile == nil {
		return ""
	}
	return logFile.Name()
}

// Close closes the log file if one is open.
func Close() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// ParseLevel parses a level name case-insensitively. Unrecognized names
// fall back to InfoLevel.
func ParseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// Debug starts a debug event on the root logger.
func Debug() *zerolog.Event { return Logger.Debug() }

// Info starts an info event on the root logger.
func Info() *zerolog.Event { return Logger.Info() }

// Warn starts a warn event on the root logger.
func Warn() *zerolog.Event { return Logger.Warn() }

// Error starts an error event on the root logger.
func Error() *zerolog.Event { return Logger.Error() }

// Fatal starts a fatal event; Msg/Send on it exits the process.
func Fatal() *zerolog.Event { return Logger.Fatal() }

func init() {
	Init(Config{Level: InfoLevel})
}
