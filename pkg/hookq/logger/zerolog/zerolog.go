// Package zerolog bridges the pipeline's hookq.Logger contract onto
// rs/zerolog. Level filtering and output configuration stay with the
// zerolog.Logger the caller hands in.
package zerolog

import (
	"github.com/rs/zerolog"

	"github.com/mihaimyh/hookq/pkg/hookq"
)

// Logger writes hookq log lines through a zerolog.Logger. Fields map to
// zerolog's Interface entries, keeping structured values structured.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger wraps an existing zerolog.Logger.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (l *Logger) Debug(msg string, fields ...hookq.Field) {
	l.emit(l.logger.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...hookq.Field) {
	l.emit(l.logger.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...hookq.Field) {
	l.emit(l.logger.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...hookq.Field) {
	l.emit(l.logger.Error(), msg, fields)
}

// emit attaches the fields and writes the line. A nil event means the level
// is disabled and the line is dropped without touching the fields.
func (l *Logger) emit(event *zerolog.Event, msg string, fields []hookq.Field) {
	if event == nil {
		return
	}
	for _, f := range fields {
		event = event.Interface(f.Key, f.Value)
	}
	event.Msg(msg)
}
