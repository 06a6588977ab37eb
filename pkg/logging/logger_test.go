package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		enable zapcore.Level
		deny   zapcore.Level
	}{
		{"debug level", "debug", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"warn level", "warn", zapcore.WarnLevel, zapcore.InfoLevel},
		{"default info", "", zapcore.InfoLevel, zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New("dev", tt.level)
			if !logger.Core().Enabled(tt.enable) {
				t.Fatalf("expected level %s to be enabled", tt.enable)
			}
			if logger.Core().Enabled(tt.deny) {
				t.Fatalf("expected level %s to be disabled", tt.deny)
			}
		})
	}
}

func TestDefaultLogger(t *testing.T) {
	logger := Default()
	logger.Info("test message", zap.String("key", "value"))

	if logger.Logger == nil {
		t.Fatal("Default() returned Logger with nil zap.Logger")
	}
	if logger == Default() {
		t.Error("Default() returned the same instance twice")
	}
}

func TestWithKeepsWrapper(t *testing.T) {
	child := Nop().With(zap.String("call_id", "abc"))
	if child.Logger == nil {
		t.Fatal("With returned nil logger")
	}
	child.Info("still works")
}
