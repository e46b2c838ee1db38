// Package logging builds the zerolog loggers handed to every component and adapts them to the loggers third-party clients expect.
package logging

import (
	"fmt"
	"io"

	smithylog "github.com/aws/smithy-go/logging"
	"github.com/rs/zerolog"
	"resty.dev/v3"
)

// Verbosity thresholds, as counted from repeated -v flags.
const (
	VerboseDebug   int = 1 // debug output, with caller
	VerboseClients int = 2 // trace output, including http and AWS SDK client logs
)

// New returns the root logger for the given verbosity.
// 0 logs at info; 1 adds debug output and callers; 2 or more goes down to trace.
func New(w io.Writer, verbosity int) zerolog.Logger {
	ctx := zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "2006-01-02T15:04:05",
	}).With().Timestamp()

	lvl := zerolog.InfoLevel
	switch {
	case verbosity >= VerboseClients:
		lvl = zerolog.TraceLevel
		ctx = ctx.Caller()
	case verbosity >= VerboseDebug:
		lvl = zerolog.DebugLevel
		ctx = ctx.Caller()
	}
	return ctx.Logger().Level(lvl)
}

// Sub returns a child logger tagged with the given sublogger name.
func Sub(parent *zerolog.Logger, name string) *zerolog.Logger {
	l := parent.With().Str("sublogger", name).Logger()
	return &l
}

// Resty adapts l to resty's logger interface.
func Resty(l *zerolog.Logger) resty.Logger {
	return restyLogger{l: l}
}

type restyLogger struct {
	l *zerolog.Logger
}

func (r restyLogger) Errorf(format string, v ...any) { r.l.Error().Msgf(format, v...) }
func (r restyLogger) Warnf(format string, v ...any)  { r.l.Warn().Msgf(format, v...) }
func (r restyLogger) Debugf(format string, v ...any) { r.l.Trace().Msgf(format, v...) }

// Smithy adapts l to the logger interface of the AWS SDK.
func Smithy(l *zerolog.Logger) smithylog.Logger {
	return smithyLogger{l: l}
}

type smithyLogger struct {
	l *zerolog.Logger
}

func (s smithyLogger) Logf(classification smithylog.Classification, format string, v ...interface{}) {
	switch classification {
	case smithylog.Warn:
		s.l.Warn().Msg(fmt.Sprintf(format, v...))
	default:
		s.l.Trace().Msg(fmt.Sprintf(format, v...))
	}
}
