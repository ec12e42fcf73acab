// Package logging builds the zerolog logger shared by the CLI and use cases.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"priorart/config"
	"priorart/internal/domain"
)

// New returns a logger writing to w at the configured level and format.
func New(w io.Writer, cfg config.LoggingConfig) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("%w: logging.level %q", domain.ErrInvalidConfiguration, cfg.Level)
		}
	}

	out := w
	if cfg.Format == "" || cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}
