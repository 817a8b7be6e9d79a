package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bobg/snapdir/repo/mem"
	"github.com/bobg/snapdir/testutil"
)

func TestSessions(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := New(mem.New(), zap.New(core))

	testutil.Sessions(context.Background(), t, s)

	commits := logs.FilterMessage("Commit").FilterLevelExact(zapcore.InfoLevel).FilterField(zap.String("session", "main"))
	if commits.Len() != 2 {
		t.Errorf("got %d commit log entries, want 2", commits.Len())
	}
	if n := logs.FilterMessage("AddExisting").FilterLevelExact(zapcore.ErrorLevel).Len(); n == 0 {
		t.Error("failed AddExisting was not logged as an error")
	}
}

func TestStore(t *testing.T) {
	testutil.ReadWrite(context.Background(), t, New(mem.New(), nil), testutil.Data(1<<16))
}
