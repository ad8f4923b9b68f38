// Copyright 2025 The hbcache Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides the structured logger used throughout hbcache: a
// thin wrapper around zap with field constructors for this package's
// domain (cache ids, tables, phases).
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap logger. The zero value is not usable; use New or L.
type Logger struct {
	zap *zap.Logger
}

// Config controls how a Logger is constructed.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Encoding is "json" or "console".
	Encoding string
	// Development puts the zap logger in development mode (DPanic-level
	// entries panic); it does not change the encoding.
	Development bool
}

// DefaultConfig is used by L() when no logger has been installed.
var DefaultConfig = Config{
	Level:    "info",
	Encoding: "console",
}

// New builds a Logger from cfg.
func New(cfg Config) (*Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeDuration = zapcore.StringDurationEncoder

	var encoder zapcore.Encoder
	if cfg.Encoding == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level)

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	return &Logger{zap: zap.New(core, opts...)}, nil
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

var (
	global     *Logger
	globalOnce sync.Once
)

// L returns the process-wide default logger, building it lazily from
// DefaultConfig on first use.
func L() *Logger {
	globalOnce.Do(func() {
		l, err := New(DefaultConfig)
		if err != nil {
			l = NewNop()
		}
		global = l
	})
	return global
}

// SetDefault replaces the process-wide default logger.
func SetDefault(l *Logger) {
	global = l
}

// With returns a child logger with fields attached to every subsequent
// entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	if l == nil {
		return L().With(fields...)
	}
	return &Logger{zap: l.zap.With(fields...)}
}

// Named returns a child logger scoped under name.
func (l *Logger) Named(name string) *Logger {
	if l == nil {
		return L().Named(name)
	}
	return &Logger{zap: l.zap.Named(name)}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.zapOrGlobal().Debug(msg, fields...)
}

func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zapOrGlobal().Info(msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.zapOrGlobal().Warn(msg, fields...)
}

func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.zapOrGlobal().Error(msg, fields...)
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.zapOrGlobal().Sync()
}

func (l *Logger) zapOrGlobal() *zap.Logger {
	if l == nil {
		return L().zap
	}
	return l.zap
}
