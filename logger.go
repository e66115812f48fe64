/*
Copyright © 2026 jaiswalism
*/

package main

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the shared SugaredLogger. Nil until initLogger runs, so helpers
// below tolerate a nil logger (tests construct services directly).
var Log *zap.SugaredLogger

// initLogger wires zap to a rolling file (10MB per file, 3 backups, 7 days),
// mirroring stderr. An empty path logs to stderr only.
func initLogger(path string) error {
	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}
	encoder := zapcore.NewConsoleEncoder(encCfg)

	sink := zapcore.AddSync(os.Stderr)
	if path != "" {
		lj := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
			Compress:   false,
		}
		sink = zapcore.NewMultiWriteSyncer(zapcore.AddSync(lj), zapcore.AddSync(os.Stderr))
	}

	core := zapcore.NewCore(encoder, sink, zapcore.InfoLevel)
	Log = zap.New(core, zap.AddCaller()).Sugar()
	return nil
}

func syncLogger() {
	if Log != nil {
		_ = Log.Sync()
	}
}

// logf emits verbose-gated operational logging in the SERVE/ARENA/SPACES
// prefix style.
func logf(cfg *Config, format string, args ...any) {
	if Log == nil || !cfg.verbose {
		return
	}

	Log.Infof(format, args...)
}

func errorf(format string, args ...any) {
	if Log == nil {
		return
	}

	Log.Errorf(format, args...)
}
