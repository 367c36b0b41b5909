// Package log configures the library's zerolog base logger and provides the
// device-context helpers every component logs through.
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for configuring the base logger.
type Config struct {
	Level  string    // optional log level ("debug", "info", ...)
	Output io.Writer // optional writer (defaults to os.Stderr)
}

var (
	once sync.Once
	base zerolog.Logger
)

// Configure initialises the base logger exactly once. Applications embedding
// the library normally inject their own logger per Player instead; this base
// only backs components constructed without one.
func Configure(cfg Config) {
	once.Do(func() {
		level := zerolog.InfoLevel
		if cfg.Level != "" {
			if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
				level = parsed
			}
		} else if env := os.Getenv("LINKPLAY_LOG_LEVEL"); env != "" {
			if parsed, err := zerolog.ParseLevel(env); err == nil {
				level = parsed
			}
		}
		zerolog.TimeFieldFormat = time.RFC3339

		writer := cfg.Output
		if writer == nil {
			writer = os.Stderr
		}

		base = zerolog.New(writer).Level(level).With().
			Timestamp().
			Str("library", "linkplay-go").
			Logger()
	})
}

// Base returns the configured base logger.
func Base() zerolog.Logger {
	Configure(Config{})
	return base
}

// WithComponent returns a child logger annotated with the component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str("component", component).Logger()
}

// Device annotates a logger with the device context every log line must
// carry: host, model, and firmware. Empty values are attached as-is so a
// line logged before the first refresh still shows which host it concerns.
func Device(l zerolog.Logger, host, deviceModel, firmware string) zerolog.Logger {
	return l.With().
		Str("host", host).
		Str("model", deviceModel).
		Str("firmware", firmware).
		Logger()
}
