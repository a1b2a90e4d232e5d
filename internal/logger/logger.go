package logger

import (
	"os"
	"time"

	"github.com/mossy-p/peercam/config"
	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Lg *zap.Logger

func init() {
	initDefaultLogger()
}

func initDefaultLogger() {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	l, err := cfg.Build(zap.AddCaller())
	if err != nil {
		Lg = zap.NewNop()
		return
	}
	Lg = l
	zap.ReplaceGlobals(Lg)
}

// Init replaces the default logger. In development mode records are also
// written to the console, errors and above to stderr.
func Init(cfg config.LogConfig, mode string) error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return err
	}

	fileCore := zapcore.NewCore(getEncoder(), getLogWriter(cfg), level)

	var core zapcore.Core
	if mode == "dev" || mode == "development" {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleCfg.TimeKey = "time"
		consoleCfg.EncodeCaller = zapcore.ShortCallerEncoder
		consoleCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("\x1b[90m" + t.Format("2006-01-02 15:04:05.000") + "\x1b[0m")
		}
		consoleEncoder := zapcore.NewConsoleEncoder(consoleCfg)

		high := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= zapcore.ErrorLevel && l >= level
		})
		low := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l < zapcore.ErrorLevel && l >= level
		})
		core = zapcore.NewTee(
			fileCore,
			zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), low),
			zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), high),
		)
	} else {
		core = fileCore
	}

	Lg = zap.New(core, zap.AddCaller())
	zap.ReplaceGlobals(Lg)

	Info("logger initialized", zap.String("level", level.String()), zap.String("file", cfg.Filename))
	return nil
}

func getEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeDuration = zapcore.SecondsDurationEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

func getLogWriter(cfg config.LogConfig) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		LocalTime:  true,
	})
}

// Named returns a child of the global logger for a component.
func Named(name string) *zap.Logger {
	if Lg == nil {
		initDefaultLogger()
	}
	return Lg.Named(name)
}

func Info(msg string, fields ...zap.Field) {
	if Lg == nil {
		initDefaultLogger()
	}
	Lg.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	if Lg == nil {
		initDefaultLogger()
	}
	Lg.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	if Lg == nil {
		initDefaultLogger()
	}
	Lg.Error(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	if Lg == nil {
		initDefaultLogger()
	}
	Lg.Debug(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	if Lg == nil {
		initDefaultLogger()
	}
	Lg.Fatal(msg, fields...)
}

// Sync flushes buffered entries.
func Sync() {
	if Lg != nil {
		_ = Lg.Sync()
	}
}
