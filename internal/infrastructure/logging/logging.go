package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// New builds a console logger on stderr, teed into a rotated JSON file when
// Options.File is set.
func New(opt Options) *zap.Logger {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if opt.Level != "" {
		if l, err := zapcore.ParseLevel(opt.Level); err == nil {
			level.SetLevel(l)
		}
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level),
	}

	if opt.File != "" {
		rot := &lumberjack.Logger{
			Filename:   opt.File,
			MaxSize:    orDefault(opt.MaxSizeMB, 10),
			MaxBackups: orDefault(opt.MaxBackups, 3),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(rot),
			level,
		))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
