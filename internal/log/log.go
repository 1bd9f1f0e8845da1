// Package log provides structured, categorized logging for loom.
// It wraps zerolog with per-subsystem categories so operators can grep a
// single subsystem out of the combined stream.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Category groups related log messages by subsystem.
type Category string

const (
	CatEngine   Category = "engine"   // Workflow executor and action handlers
	CatSched    Category = "sched"    // Job scheduler dispatch loop
	CatBus      Category = "bus"      // Event bus fan-out
	CatDB       Category = "db"       // Persistence layer
	CatCache    Category = "cache"    // Cache / pub-sub collaborator
	CatRealtime Category = "realtime" // External realtime bridge
	CatAPI      Category = "api"      // HTTP and websocket surface
	CatMail     Category = "mail"     // E-mail collaborator
	CatConfig   Category = "config"   // Configuration loading
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(io.Discard)
)

// Init configures the global logger. Level is one of debug, info, warn,
// error; unknown values fall back to info. When pretty is true, output is
// human-readable console format instead of JSON.
func Init(w io.Writer, level string, pretty bool) {
	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	lvl := zerolog.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	}

	mu.Lock()
	logger = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	mu.Unlock()
}

// Disable silences all logging. Used by tests.
func Disable() {
	mu.Lock()
	logger = zerolog.New(io.Discard)
	mu.Unlock()
}

// Debug logs at debug level.
func Debug(cat Category, msg string, fields ...any) {
	emit(zerolog.DebugLevel, cat, msg, fields)
}

// Info logs at info level.
func Info(cat Category, msg string, fields ...any) {
	emit(zerolog.InfoLevel, cat, msg, fields)
}

// Warn logs at warning level.
func Warn(cat Category, msg string, fields ...any) {
	emit(zerolog.WarnLevel, cat, msg, fields)
}

// Error logs at error level.
func Error(cat Category, msg string, fields ...any) {
	emit(zerolog.ErrorLevel, cat, msg, fields)
}

// ErrorErr logs an error with the error value attached.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	if err != nil {
		fields = append(fields, "error", err.Error())
	}
	emit(zerolog.ErrorLevel, cat, msg, fields)
}

func emit(lvl zerolog.Level, cat Category, msg string, fields []any) {
	mu.RLock()
	l := logger
	mu.RUnlock()

	ev := l.WithLevel(lvl).Str("cat", string(cat))
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			key = fmt.Sprint(fields[i])
		}
		ev = ev.Interface(key, fields[i+1])
	}
	ev.Msg(msg)
}
