package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production zap logger. When file is set, output goes to
// stderr and the file.
func NewLogger(level, file string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()

	// Parse level
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		l = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(l)
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if file != "" {
		config.OutputPaths = append(config.OutputPaths, file)
		config.ErrorOutputPaths = append(config.ErrorOutputPaths, file)
	}

	return config.Build()
}
