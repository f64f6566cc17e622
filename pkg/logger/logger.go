package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config represents logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // comma separated list of stdout, stderr or file paths
	Name       string
}

// New creates the process logger
func New(config Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if config.Format == "json" {
		encoderConfig = zap.NewProductionEncoderConfig()
	} else {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if config.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	writer, err := openOutputs(config.OutputPath)
	if err != nil {
		return nil, err
	}

	log := zap.New(zapcore.NewCore(encoder, writer, level), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if config.Name != "" {
		log = log.Named(config.Name)
	}
	return log, nil
}

func openOutputs(outputs string) (zapcore.WriteSyncer, error) {
	if strings.TrimSpace(outputs) == "" {
		return zapcore.AddSync(os.Stdout), nil
	}

	var syncers []zapcore.WriteSyncer
	for _, out := range strings.Split(outputs, ",") {
		switch out = strings.TrimSpace(out); out {
		case "":
		case "stdout":
			syncers = append(syncers, zapcore.AddSync(os.Stdout))
		case "stderr":
			syncers = append(syncers, zapcore.AddSync(os.Stderr))
		default:
			file, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return nil, fmt.Errorf("failed to open log output %s: %w", out, err)
			}
			syncers = append(syncers, zapcore.AddSync(file))
		}
	}
	return zapcore.NewMultiWriteSyncer(syncers...), nil
}

// Tee mirrors everything the error category accepts into its file, so
// failures logged through the process logger also show up in the error log.
func Tee(log *zap.Logger, ml *MultiLogger) *zap.Logger {
	if ml == nil {
		return log
	}
	errCore := ml.GetLogger(CategoryError).Core()
	return log.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, errCore)
	}))
}
