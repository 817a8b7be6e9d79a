package dlog

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestGetLogger(t *testing.T) {
	cases := []struct {
		level   string
		enabled zapcore.Level
		wantErr bool
	}{
		{level: LevelDebug, enabled: zapcore.DebugLevel},
		{level: LevelInfo, enabled: zapcore.InfoLevel},
		{level: "warn", enabled: zapcore.WarnLevel},
		{level: "loud", wantErr: true},
	}
	for _, c := range cases {
		t.Run(c.level, func(t *testing.T) {
			log, err := GetLogger(c.level)
			if c.wantErr {
				if err == nil {
					t.Error("want error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !log.Core().Enabled(c.enabled) {
				t.Errorf("level %s not enabled", c.enabled)
			}
			if c.enabled > zapcore.DebugLevel && log.Core().Enabled(c.enabled-1) {
				t.Errorf("level %s enabled", c.enabled-1)
			}
		})
	}

	log, err := GetLogger(LevelNone)
	if err != nil {
		t.Fatal(err)
	}
	if log.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("none logger logs errors")
	}
}
