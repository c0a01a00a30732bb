// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package log

import (
	"context"
	stdlog "log/slog"

	lxlog "github.com/luxfi/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config configures a production logger: level, optional file rotation
// (via lumberjack), and whether to also write to stderr.
type Config struct {
	Component  string
	Level      string // "debug", "info", "warn", "error"
	FilePath   string // empty disables file rotation
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Stderr     bool
}

// New builds a log.Logger for Component, rotating to FilePath via
// lumberjack when set, and always echoing to stderr unless Stderr is
// explicitly false and FilePath is set. A zero Config yields a
// stderr-only, info-level logger.
func New(cfg Config) lxlog.Logger {
	level := parseLevel(cfg.Level)
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)

	var cores []zapcore.Core
	if cfg.FilePath != "" {
		w := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(w), level))
	}
	if cfg.Stderr || cfg.FilePath == "" {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(zapLockedStderr{})), level))
	}

	zl := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	if cfg.Component != "" {
		zl = zl.Named(cfg.Component)
	}
	return &zapLogger{z: zl, level: level}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// zapLockedStderr is a minimal io.Writer so zapcore.Lock has something to
// wrap without importing os directly in the encoder-construction path.
type zapLockedStderr struct{}

func (zapLockedStderr) Write(p []byte) (int, error) {
	return stderrWrite(p)
}

// zapLogger adapts *zap.Logger to the luxfi/log.Logger interface, the
// same style luxfi/log's own custom implementations (NoLog) use:
// zap.Field in, structured record out.
type zapLogger struct {
	z     *zap.Logger
	level zapcore.Level
}

func toFields(ctx []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(ctx)/2)
	for i := 0; i+1 < len(ctx); i += 2 {
		key, ok := ctx[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, ctx[i+1]))
	}
	return fields
}

func (l *zapLogger) With(ctx ...interface{}) lxlog.Logger {
	return &zapLogger{z: l.z.With(toFields(ctx)...), level: l.level}
}

func (l *zapLogger) New(ctx ...interface{}) lxlog.Logger { return l.With(ctx...) }

func (l *zapLogger) Log(level stdlog.Level, msg string, ctx ...interface{}) {
	switch {
	case level >= stdlog.LevelError:
		l.Error(msg, ctx...)
	case level >= stdlog.LevelWarn:
		l.Warn(msg, ctx...)
	case level >= stdlog.LevelInfo:
		l.Info(msg, ctx...)
	default:
		l.Debug(msg, ctx...)
	}
}

func (l *zapLogger) Trace(msg string, ctx ...interface{}) { l.z.Debug(msg, toFields(ctx)...) }
func (l *zapLogger) Debug(msg string, ctx ...interface{}) { l.z.Debug(msg, toFields(ctx)...) }
func (l *zapLogger) Info(msg string, ctx ...interface{})  { l.z.Info(msg, toFields(ctx)...) }
func (l *zapLogger) Warn(msg string, ctx ...interface{})  { l.z.Warn(msg, toFields(ctx)...) }
func (l *zapLogger) Error(msg string, ctx ...interface{}) { l.z.Error(msg, toFields(ctx)...) }
func (l *zapLogger) Crit(msg string, ctx ...interface{})  { l.z.Error(msg, toFields(ctx)...) }

func (l *zapLogger) WriteLog(level stdlog.Level, msg string, attrs ...any) {
	l.Log(level, msg, attrs...)
}

func (l *zapLogger) Enabled(_ context.Context, level stdlog.Level) bool {
	return l.level.Enabled(zapLevelFor(level))
}

func zapLevelFor(level stdlog.Level) zapcore.Level {
	switch {
	case level >= stdlog.LevelError:
		return zapcore.ErrorLevel
	case level >= stdlog.LevelWarn:
		return zapcore.WarnLevel
	case level >= stdlog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

func (l *zapLogger) Handler() stdlog.Handler { return nil }

func (l *zapLogger) Fatal(msg string, fields ...zap.Field) { l.z.Fatal(msg, fields...) }
func (l *zapLogger) Verbo(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }

func (l *zapLogger) WithFields(fields ...zap.Field) lxlog.Logger {
	return &zapLogger{z: l.z.With(fields...), level: l.level}
}

func (l *zapLogger) WithOptions(opts ...zap.Option) lxlog.Logger {
	return &zapLogger{z: l.z.WithOptions(opts...), level: l.level}
}

func (l *zapLogger) SetLevel(level stdlog.Level) { l.level = zapLevelFor(level) }
func (l *zapLogger) GetLevel() stdlog.Level       { return stdLevelFor(l.level) }

func stdLevelFor(level zapcore.Level) stdlog.Level {
	switch level {
	case zapcore.ErrorLevel:
		return stdlog.LevelError
	case zapcore.WarnLevel:
		return stdlog.LevelWarn
	case zapcore.DebugLevel:
		return stdlog.LevelDebug
	default:
		return stdlog.LevelInfo
	}
}

func (l *zapLogger) EnabledLevel(lvl stdlog.Level) bool { return l.Enabled(context.Background(), lvl) }

func (l *zapLogger) StopOnPanic() {}

func (l *zapLogger) RecoverAndPanic(f func()) {
	defer func() {
		if r := recover(); r != nil {
			l.z.Error("recovered panic, repanicking", zap.Any("panic", r))
			panic(r)
		}
	}()
	f()
}

func (l *zapLogger) RecoverAndExit(f, exit func()) {
	defer func() {
		if r := recover(); r != nil {
			l.z.Error("recovered panic, exiting", zap.Any("panic", r))
			exit()
		}
	}()
	f()
}

func (l *zapLogger) Stop() { _ = l.z.Sync() }

func (l *zapLogger) Write(p []byte) (int, error) {
	l.z.Info(string(p))
	return len(p), nil
}
