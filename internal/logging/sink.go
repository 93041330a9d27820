// Package logging defines the levelled text sink the protocol core
// writes to, plus process-wide zerolog configuration.
package logging

import "github.com/rs/zerolog"

// Level orders sink messages by severity.
type Level int8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return "unknown"
}

// Sink is the write-only logging surface the core consumes. Messages
// below the sink's configured level are discarded.
type Sink interface {
	Log(level Level, msg string)
	Enabled(level Level) bool
}

// ZerologSink forwards sink messages to a zerolog logger, filtering by
// a minimum level.
type ZerologSink struct {
	logger zerolog.Logger
	min    Level
}

func NewZerologSink(logger zerolog.Logger, min Level) *ZerologSink {
	return &ZerologSink{logger: logger, min: min}
}

func (s *ZerologSink) Enabled(level Level) bool {
	return level >= s.min
}

func (s *ZerologSink) Log(level Level, msg string) {
	if !s.Enabled(level) {
		return
	}
	switch level {
	case LevelDebug:
		s.logger.Debug().Msg(msg)
	case LevelInfo:
		s.logger.Info().Msg(msg)
	case LevelWarn:
		s.logger.Warn().Msg(msg)
	default:
		s.logger.Error().Msg(msg)
	}
}

type nopSink struct{}

func (nopSink) Log(Level, string)  {}
func (nopSink) Enabled(Level) bool { return false }

// Nop returns a sink that discards everything.
func Nop() Sink {
	return nopSink{}
}
