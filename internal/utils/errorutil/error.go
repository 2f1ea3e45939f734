package errorutil

import (
	"github.com/rs/zerolog"
)

// HandleError logs err if it is non-nil
func HandleError(log zerolog.Logger, err error, msg string) {
	if err != nil {
		log.Error().Err(err).Msg(msg)
	}
}

// HandleFatal logs a fatal error and exits
func HandleFatal(log zerolog.Logger, err error, msg string) {
	if err != nil {
		log.Fatal().Err(err).Msg(msg)
	}
}
