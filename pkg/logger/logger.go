package logger

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
)

// Log is the process-wide logger. It writes to stderr until UseFile
// switches it to the daemon's logfile.
var Log = logger.With().Caller().Logger().Output(zerolog.ConsoleWriter{Out: os.Stderr})

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

// UseFile redirects Log to an append-only logfile. The file stays open for
// the life of the process.
func UseFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open logfile: %w", err)
	}
	Log = zerolog.New(f).With().Timestamp().Logger()
	return nil
}
