package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_ValidatesConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "csv"
	if _, err := NewLogger(cfg, nil); err == nil {
		t.Error("NewLogger accepted invalid config")
	}
}

func TestNewLogger_Defaults(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer logger.Sync()

	if !logger.Enabled(zapcore.InfoLevel) {
		t.Error("info disabled at default level")
	}
	if logger.Enabled(TraceLevel) {
		t.Error("trace enabled at default level")
	}
	if logger.Underlying() == nil {
		t.Error("Underlying() = nil")
	}
}

func TestLogger_LevelMethods(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tl.Trace(ctx, "trace msg")
	tl.Debug(ctx, "debug msg")
	tl.Info(ctx, "info msg")
	tl.Warn(ctx, "warn msg")
	tl.Error(ctx, "error msg")

	tl.AssertLogged(t, TraceLevel, "trace msg")
	tl.AssertLogged(t, zapcore.DebugLevel, "debug msg")
	tl.AssertLogged(t, zapcore.InfoLevel, "info msg")
	tl.AssertLogged(t, zapcore.WarnLevel, "warn msg")
	tl.AssertLogged(t, zapcore.ErrorLevel, "error msg")
}

func TestLogger_WithAndNamed(t *testing.T) {
	tl := NewTestLogger()

	child := tl.Logger.With(zap.String("component", "retrieval"))
	child.Info(context.Background(), "scored")

	tl.AssertField(t, "scored", "component", "retrieval")

	named := tl.Logger.Named("graph")
	named.Info(context.Background(), "snapshot written")
	found := false
	for _, e := range tl.All() {
		if e.Message == "snapshot written" && e.LoggerName == "graph" {
			found = true
		}
	}
	if !found {
		t.Error("named logger entry not found")
	}

	// Parent unaffected by child fields.
	tl.Reset()
	tl.Info(context.Background(), "plain")
	for _, e := range tl.FilterMessage("plain").All() {
		if len(e.Context) != 0 {
			t.Errorf("parent logger gained fields: %+v", e.Context)
		}
	}
}

func TestNewNop(t *testing.T) {
	// Must not panic.
	NewNop().Info(context.Background(), "dropped")
}
