package logx

import (
	"context"
	"fmt"
	"io"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HertzLogger routes Hertz's internal logging through the shared zerolog logger.
type HertzLogger struct{}

// NewHertzLogger returns an hlog.FullLogger backed by logx.
func NewHertzLogger() *HertzLogger {
	return &HertzLogger{}
}

var _ hlog.FullLogger = (*HertzLogger)(nil)

func (h *HertzLogger) Trace(v ...interface{}) {
	log.Trace().Str("component", "hertz").Msg(formatMessage(v...))
}
func (h *HertzLogger) Debug(v ...interface{}) {
	log.Debug().Str("component", "hertz").Msg(formatMessage(v...))
}
func (h *HertzLogger) Info(v ...interface{}) {
	log.Info().Str("component", "hertz").Msg(formatMessage(v...))
}
func (h *HertzLogger) Notice(v ...interface{}) {
	log.Info().Str("component", "hertz").Msg(formatMessage(v...))
}
func (h *HertzLogger) Warn(v ...interface{}) {
	log.Warn().Str("component", "hertz").Msg(formatMessage(v...))
}
func (h *HertzLogger) Error(v ...interface{}) {
	log.Error().Str("component", "hertz").Msg(formatMessage(v...))
}

// Fatal is logged at error level; Hertz must not be able to exit the process.
func (h *HertzLogger) Fatal(v ...interface{}) {
	log.Error().Str("component", "hertz").Msg(formatMessage(v...))
}

func (h *HertzLogger) Tracef(format string, v ...interface{}) {
	log.Trace().Str("component", "hertz").Msgf(format, v...)
}

func (h *HertzLogger) Debugf(format string, v ...interface{}) {
	log.Debug().Str("component", "hertz").Msgf(format, v...)
}

func (h *HertzLogger) Infof(format string, v ...interface{}) {
	log.Info().Str("component", "hertz").Msgf(format, v...)
}

func (h *HertzLogger) Noticef(format string, v ...interface{}) {
	log.Info().Str("component", "hertz").Msgf(format, v...)
}

func (h *HertzLogger) Warnf(format string, v ...interface{}) {
	log.Warn().Str("component", "hertz").Msgf(format, v...)
}

func (h *HertzLogger) Errorf(format string, v ...interface{}) {
	log.Error().Str("component", "hertz").Msgf(format, v...)
}

func (h *HertzLogger) Fatalf(format string, v ...interface{}) {
	log.Error().Str("component", "hertz").Msgf(format, v...)
}

func (h *HertzLogger) CtxTracef(ctx context.Context, format string, v ...interface{}) {
	h.Tracef(format, v...)
}

func (h *HertzLogger) CtxDebugf(ctx context.Context, format string, v ...interface{}) {
	h.Debugf(format, v...)
}

func (h *HertzLogger) CtxInfof(ctx context.Context, format string, v ...interface{}) {
	h.Infof(format, v...)
}

func (h *HertzLogger) CtxNoticef(ctx context.Context, format string, v ...interface{}) {
	h.Noticef(format, v...)
}

func (h *HertzLogger) CtxWarnf(ctx context.Context, format string, v ...interface{}) {
	h.Warnf(format, v...)
}

func (h *HertzLogger) CtxErrorf(ctx context.Context, format string, v ...interface{}) {
	h.Errorf(format, v...)
}

func (h *HertzLogger) CtxFatalf(ctx context.Context, format string, v ...interface{}) {
	h.Fatalf(format, v...)
}

// SetLevel maps the Hertz level onto zerolog's global level.
func (h *HertzLogger) SetLevel(level hlog.Level) {
	switch level {
	case hlog.LevelTrace:
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case hlog.LevelDebug:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case hlog.LevelInfo, hlog.LevelNotice:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case hlog.LevelWarn:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	}
}

// SetOutput is a no-op; the destination is chosen by Init.
func (h *HertzLogger) SetOutput(writer io.Writer) {}

func formatMessage(v ...interface{}) string {
	if len(v) == 1 {
		if s, ok := v[0].(string); ok {
			return s
		}
	}
	return fmt.Sprint(v...)
}
