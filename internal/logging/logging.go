package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gatescope/gatescope/internal/config"
)

var (
	logger = zap.NewNop()
	sugar  = logger.Sugar()
)

// Init builds the process logger: JSON to stdout, plus a rotated file when
// cfg.File is set. Safe to call once at startup; before Init all logging is
// a no-op, which keeps tests quiet.
func Init(cfg config.LogConfig) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	encoder := zapcore.NewJSONEncoder(encoderConfig)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level),
	}

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}

	logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	sugar = logger.Sugar()
	return nil
}

// L returns the underlying structured logger for call sites that want typed
// fields.
func L() *zap.Logger { return logger }

func Sync() { logger.Sync() }

// The package helpers take alternating key/value pairs, e.g.
// logging.Info("warmup phase done", "phase", 3, "duration_ms", 412).

func Debug(msg string, keysAndValues ...interface{}) { sugar.Debugw(msg, keysAndValues...) }
func Info(msg string, keysAndValues ...interface{})  { sugar.Infow(msg, keysAndValues...) }
func Warn(msg string, keysAndValues ...interface{})  { sugar.Warnw(msg, keysAndValues...) }
func Error(msg string, keysAndValues ...interface{}) { sugar.Errorw(msg, keysAndValues...) }
func Fatal(msg string, keysAndValues ...interface{}) { sugar.Fatalw(msg, keysAndValues...) }
