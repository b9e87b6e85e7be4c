package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls how NewLogger builds the kernel's structured logger.
type Config struct {
	Level      string // debug, info, warn, error
	Production bool   // JSON encoding, ISO8601 timestamps
}

// NewLogger builds a zap.Logger per Config and wraps it as a logr.Logger,
// the interface every kernel component outside the database boundary logs
// through.
func NewLogger(cfg Config) (logr.Logger, *zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Production {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level, err := zapcore.ParseLevel(levelOrDefault(cfg.Level))
	if err != nil {
		return logr.Logger{}, nil, err
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	zl, err := zapCfg.Build()
	if err != nil {
		return logr.Logger{}, nil, err
	}
	return zapr.NewLogger(zl), zl, nil
}

func levelOrDefault(level string) string {
	if level == "" {
		return "info"
	}
	return level
}

// NewLegacyLogger builds the logrus.Logger used at the database connection
// boundary, matching the conventions of the store's sqlx/pgx wiring.
func NewLegacyLogger(level string) *logrus.Logger {
	l := logrus.New()
	parsed, err := logrus.ParseLevel(levelOrDefault(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)
	l.SetFormatter(&logrus.JSONFormatter{})
	return l
}

// WithFields logs a structured event at Info level, passing each entry of
// a Fields builder as a key/value pair.
func WithFields(log logr.Logger, msg string, fields Fields) {
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	log.Info(msg, kv...)
}
