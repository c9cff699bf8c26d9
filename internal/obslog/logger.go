// Package obslog builds the zap logger used throughout the simulator:
// console output by default, switchable to JSON for machine consumption,
// with a level floor configurable at startup.
package obslog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the logger's level and encoding.
type Config struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string
	// JSON switches from the human-readable console encoder to JSON lines.
	JSON bool
}

// New builds a *zap.Logger per cfg. Never returns an error for malformed
// level strings; an unrecognized level falls back to info, logging a
// warning about the fallback once the logger itself is constructed.
func New(cfg Config) (*zap.Logger, error) {
	level, warnUnknown := parseLevel(cfg.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.JSON {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stdout)), level)
	logger := zap.New(core)

	if warnUnknown {
		logger.Warn("unrecognized log level, defaulting to info", zap.String("configured", cfg.Level))
	}
	return logger, nil
}

func parseLevel(s string) (zapcore.Level, bool) {
	switch s {
	case "", "info":
		return zapcore.InfoLevel, false
	case "debug":
		return zapcore.DebugLevel, false
	case "warn":
		return zapcore.WarnLevel, false
	case "error":
		return zapcore.ErrorLevel, false
	default:
		return zapcore.InfoLevel, true
	}
}

