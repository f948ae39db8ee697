package logger

import (
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	Info  *log.Logger
	Error *log.Logger
	Debug *log.Logger
	Warn  *log.Logger

	mu  sync.Mutex
	out io.Writer = os.Stdout
)

func init() {
	logFlags := log.Ldate | log.Ltime | log.LUTC | log.Lshortfile

	Info = log.New(out, "INFO: ", logFlags)
	Error = log.New(out, "ERROR: ", logFlags)
	Debug = log.New(out, "DEBUG: ", logFlags)
	Warn = log.New(out, "WARN: ", logFlags)

	SetLevel(levelFromEnv())
}

// ParseLevel maps a LOG_LEVEL value to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelInfo
}

func levelFromEnv() Level {
	switch strings.ToLower(os.Getenv("DEBUG")) {
	case "1", "true", "yes", "on":
		return LevelDebug
	}
	return ParseLevel(os.Getenv("LOG_LEVEL"))
}

// SetLevel silences every logger below lvl.
func SetLevel(lvl Level) {
	mu.Lock()
	defer mu.Unlock()

	loggers := []struct {
		l   *log.Logger
		lvl Level
	}{
		{Debug, LevelDebug},
		{Info, LevelInfo},
		{Warn, LevelWarn},
		{Error, LevelError},
	}
	for _, entry := range loggers {
		if entry.lvl >= lvl {
			entry.l.SetOutput(out)
		} else {
			entry.l.SetOutput(io.Discard)
		}
	}
}
