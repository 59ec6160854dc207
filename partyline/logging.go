package partyline

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// loggerNameKey tags every log line with the subsystem that emitted it.
const loggerNameKey = "logger"

func newLogHandler(w io.Writer, level slog.Leveler) slog.Handler {
	if w == nil {
		w = os.Stdout
	}
	return tint.NewHandler(
		w,
		&tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			AddSource:  true,
		},
	)
}

// namedLogger returns a logger tagged with the given subsystem name,
// at the given level, sharing the default output.
func namedLogger(name string, level slog.Leveler) *slog.Logger {
	return slog.New(newLogHandler(os.Stdout, level)).With(loggerNameKey, name)
}
