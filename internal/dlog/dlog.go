// Package dlog builds the zap loggers used by snapdir commands.
package dlog

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log levels accepted by GetLogger, besides any other zapcore level name.
const (
	LevelInfo  = "info"
	LevelDebug = "debug"
	LevelNone  = "none"
)

// GetLogger returns a logger writing to stderr at the given level,
// or one that discards everything for LevelNone.
func GetLogger(level string) (*zap.Logger, error) {
	if level == LevelNone {
		return zap.NewNop(), nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Wrapf(err, "parsing log level %q", level)
	}
	conf := zap.NewProductionConfig()
	conf.Level = zap.NewAtomicLevelAt(lvl)
	conf.Encoding = "console"
	conf.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	log, err := conf.Build()
	return log, errors.Wrap(err, "building logger")
}
