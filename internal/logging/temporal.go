package logging

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/log"
)

// TemporalLogger routes Temporal SDK log output, including workflow and
// activity loggers, through zerolog.
type TemporalLogger struct {
	logger zerolog.Logger
}

var _ log.Logger = TemporalLogger{}

func NewTemporalLogger(logger zerolog.Logger) TemporalLogger {
	return TemporalLogger{logger: logger.With().Str("component", "temporal").Logger()}
}

func (l TemporalLogger) Debug(msg string, keyvals ...any) { l.write(l.logger.Debug(), msg, keyvals) }
func (l TemporalLogger) Info(msg string, keyvals ...any)  { l.write(l.logger.Info(), msg, keyvals) }
func (l TemporalLogger) Warn(msg string, keyvals ...any)  { l.write(l.logger.Warn(), msg, keyvals) }
func (l TemporalLogger) Error(msg string, keyvals ...any) { l.write(l.logger.Error(), msg, keyvals) }

// With returns a logger with keyvals added to every entry.
func (l TemporalLogger) With(keyvals ...any) log.Logger {
	ctx := l.logger.With()
	for i := 0; i < len(keyvals); i += 2 {
		key, value := pair(keyvals, i)
		ctx = ctx.Interface(key, value)
	}
	return TemporalLogger{logger: ctx.Logger()}
}

func (l TemporalLogger) write(event *zerolog.Event, msg string, keyvals []any) {
	for i := 0; i < len(keyvals); i += 2 {
		key, value := pair(keyvals, i)
		if err, ok := value.(error); ok {
			event = event.AnErr(key, err)
			continue
		}
		event = event.Interface(key, value)
	}
	event.Msg(msg)
}

// pair returns the i-th key and its value. A trailing key without a value
// is logged under "extra".
func pair(keyvals []any, i int) (string, any) {
	if i+1 >= len(keyvals) {
		return "extra", keyvals[i]
	}
	key, ok := keyvals[i].(string)
	if !ok {
		key = fmt.Sprint(keyvals[i])
	}
	return key, keyvals[i+1]
}
