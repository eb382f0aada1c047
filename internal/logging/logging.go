// Package logging builds the process logger.
package logging

import (
	"io"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"speedchat/internal/config"
)

// New returns a logger writing to out, human readable when cfg asks for
// console logs. An unknown level falls back to info.
func New(cfg config.Config, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	output := out
	if cfg.ConsoleLogs() {
		output = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(output).Level(level).With().Timestamp().Str("env", cfg.Environment)
	if rev := gitRevision(); rev != "" {
		ctx = ctx.Str("git_revision", rev)
	}
	return ctx.Logger()
}

func gitRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			return setting.Value
		}
	}
	return ""
}
