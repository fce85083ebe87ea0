// Package observability provides logging utilities for the relay.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/relay/internal/config"
)

// NewLogger creates a structured logger writing to stderr.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var (
		encoder zapcore.Encoder
		opts    = []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	)
	switch cfg.Format {
	case "json":
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	case "console":
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
		opts = append(opts, zap.Development())
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	sink, _, err := zap.Open("stderr")
	if err != nil {
		return nil, fmt.Errorf("opening log sink: %w", err)
	}
	core := zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(level))
	return zap.New(core, opts...), nil
}

// SessionFields returns the fields attached to every log line of one connection.
// Empty values are omitted.
func SessionFields(sessionID, remoteAddr string) []zap.Field {
	fields := make([]zap.Field, 0, 2)
	if sessionID != "" {
		fields = append(fields, zap.String("session_id", sessionID))
	}
	if remoteAddr != "" {
		fields = append(fields, zap.String("remote_addr", remoteAddr))
	}
	return fields
}

// RoomField tags a log line with a room code. An empty code logs as "none".
func RoomField(code string) zap.Field {
	if code == "" {
		code = "none"
	}
	return zap.String("room", code)
}
