package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process-wide logger: JSON to stdout by default, a
// console writer when APP_ENV=dev. Every line carries the service and
// component tags so api and ingestor lines stay distinguishable in a shared
// sink.
func NewLogger(env, component string) zerolog.Logger {
	return newLogger(os.Stdout, env, component)
}

func newLogger(out io.Writer, env, component string) zerolog.Logger {
	w := out
	if env == "dev" || env == "development" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().
		Timestamp().
		Str("service", "flex-reviews").
		Str("component", component).
		Logger()
}
