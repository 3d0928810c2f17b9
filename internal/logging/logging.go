// Package logging builds the node's zap logger from configuration.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"meshchat/internal/config"
)

// New builds a zap.Logger from the provided configuration. Logs always go to
// stderr; when a file is configured it is written through lumberjack rotation
// as a second core. The caller should defer logger.Sync().
func New(c config.LogConfig) *zap.Logger {
	level := zap.NewAtomicLevel()
	switch strings.ToLower(c.Level) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "warn", "warning":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if strings.ToLower(c.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level),
	}
	if strings.TrimSpace(c.File) != "" {
		ws := zapcore.AddSync(&lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    max(c.MaxSizeMB, 10),
			MaxBackups: max(c.MaxBackups, 1),
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), ws, level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.ErrorLevel))
}

// Nop returns a logger that discards everything, for tests and the one-shot
// send path.
func Nop() *zap.Logger {
	return zap.NewNop()
}
