package config

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rshade/mktcache/internal/logging"
)

// Logger is the process-wide logger. It writes to stderr until the CLI installs
// the logger built from the loaded configuration with SetLogger.
//
//nolint:gochecknoglobals // Logger is intentionally global for application-wide structured logging
var Logger zerolog.Logger

// logFileHandle is the file InitLogger appends to, if any.
//
//nolint:gochecknoglobals // Tracks the global logger's file handle for proper cleanup
var logFileHandle *os.File

// logMu protects concurrent access to logFileHandle and Logger.
//
//nolint:gochecknoglobals // Guards the global logger state
var logMu sync.RWMutex

// InitLogger rebuilds Logger at level. Output always goes to stderr as
// console text; with logToFile it is also appended to logging.file, or to
// mktcache.log in the system temp directory when no file is configured.
// Unknown levels fall back to info. A previously opened file is closed first.
func InitLogger(level string, logToFile bool) error {
	logMu.Lock()
	defer logMu.Unlock()

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}}

	closeLogFileLocked()

	if logToFile {
		if logDirErr := EnsureLogDir(); logDirErr != nil {
			return logDirErr
		}

		logPath := GetGlobalConfig().Logging.File
		if logPath == "" {
			logPath = os.TempDir() + string(os.PathSeparator) + "mktcache.log"
		}

		logFile, fileErr := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if fileErr != nil {
			return fileErr
		}
		logFileHandle = logFile
		writers = append(writers, logFile)
	}

	Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	return nil
}

// SetLogLevel sets the global Logger's level, defaulting to info on a bad level.
func SetLogLevel(level string) {
	logMu.Lock()
	defer logMu.Unlock()

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	Logger = Logger.Level(lvl)
}

// SetLogger replaces Logger. The CLI calls it once per invocation with the
// logger it built, so packages logging through GetLogger follow --debug and
// logging.format.
func SetLogger(l zerolog.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	Logger = l
}

// CloseLogFile closes the file opened by InitLogger and drops back to
// stderr-only output at the same level. It is safe to call without a file.
func CloseLogFile() {
	logMu.Lock()
	defer logMu.Unlock()
	closeLogFileLocked()
}

// closeLogFileLocked must be called with logMu held.
func closeLogFileLocked() {
	if logFileHandle == nil {
		return
	}
	_ = logFileHandle.Close()
	logFileHandle = nil

	Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(Logger.GetLevel()).
		With().
		Timestamp().
		Logger()
}

// GetLogger returns a copy of Logger.
func GetLogger() zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return Logger
}

//nolint:gochecknoinits // the package logger must be usable before any configuration is loaded
func init() {
	_ = InitLogger("info", false)
}

// ToLoggingConfig maps the logging section onto the logging package's Config,
// the input of logging.NewLoggerWithPath.
func (lc *LoggingConfig) ToLoggingConfig() logging.Config {
	return logging.Config{
		Level:  lc.Level,
		Format: lc.Format,
		File:   lc.File,
	}
}

// GetLoggingConfig returns a copy of the logging section of the global
// configuration. Callers may adjust it (for example for --debug) without
// affecting the global.
func GetLoggingConfig() LoggingConfig {
	return GetGlobalConfig().Logging
}
