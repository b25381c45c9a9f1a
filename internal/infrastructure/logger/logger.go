package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const displayTimeLayout = "2006-01-02 15:04:05"

type Logger struct {
	*zap.SugaredLogger
}

// DatedFile returns <dir>/<name>_<YYYY-MM-DD>.log.
func DatedFile(dir, name string, t time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.log", name, t.Format("2006-01-02")))
}

func New(logLevel, logFile string) (*Logger, error) {
	if logFile != "" {
		logDir := filepath.Dir(logFile)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = zapcore.InfoLevel
	}

	encoder := zapcore.NewConsoleEncoder(encoderConfig())
	consoleWriter := zapcore.AddSync(os.Stdout)

	var core zapcore.Core
	if logFile != "" {
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		})
		core = zapcore.NewTee(
			zapcore.NewCore(encoder, consoleWriter, level),
			zapcore.NewCore(encoder.Clone(), fileWriter, level),
		)
	} else {
		core = zapcore.NewCore(encoder, consoleWriter, level)
	}

	zapLogger := zap.New(core, zap.AddStacktrace(zapcore.DPanicLevel))
	return &Logger{zapLogger.Sugar()}, nil
}

// encoderConfig renders "[<time>] [<LEVEL>] <message>" lines.
func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:          "timestamp",
		LevelKey:         "level",
		MessageKey:       "message",
		StacktraceKey:    "stacktrace",
		LineEnding:       zapcore.DefaultLineEnding,
		ConsoleSeparator: " ",
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + t.Format(displayTimeLayout) + "]")
		},
		EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + l.CapitalString() + "]")
		},
		EncodeDuration: zapcore.StringDurationEncoder,
	}
}

func (l *Logger) Close() {
	_ = l.Sync()
}
