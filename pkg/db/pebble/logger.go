package pebble

import (
	"fmt"

	"github.com/eigerco/refstore/pkg/log"
)

// engineLogger forwards pebble's internal log lines to the engine logger.
type engineLogger struct{}

func (engineLogger) Infof(format string, args ...interface{}) {
	log.Engine.Info().Msgf(format, args...)
}

func (engineLogger) Errorf(format string, args ...interface{}) {
	log.Engine.Error().Msgf(format, args...)
}

func (engineLogger) Fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Engine.Error().Msg(msg)
	panic(msg)
}
