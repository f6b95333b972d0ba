package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures zerolog's global logger. Output is a console writer unless
// format is "json".
func Init(level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	log.Info().Str("logFormat", format).Str("logLevel", lvl.String()).Msg("Logger initialized")
}

// CronLogger adapts the global zerolog logger to cron.Logger.
type CronLogger struct{}

func (CronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg(msg)
}

func (CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
