package logger

import (
	"context"
	"path/filepath"
	"testing"
)

func TestInit(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "unknown"} {
		Init(level)
		if Log == nil {
			t.Errorf("Init(%q) left Log nil", level)
		}
	}
}

func TestInitWithConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"json stdout", Config{Level: "info", Format: "json", Output: "stdout"}},
		{"text stderr", Config{Level: "debug", Format: "text", Output: "stderr"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			InitWithConfig(tt.cfg)
			if Log == nil {
				t.Error("Log should not be nil")
			}
		})
	}
}

func TestInitWithConfig_FileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	InitWithConfig(Config{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: logPath,
	})
	if Log == nil {
		t.Fatal("Log should not be nil")
	}

	Log.Info("rotation smoke entry")
}

// Недоступный каталог не должен ломать инициализацию: вывод уходит в stdout
func TestInitWithConfig_FileOutputInvalidDir(t *testing.T) {
	InitWithConfig(Config{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: "/nonexistent/deeply/nested/dir/test.log",
	})
	if Log == nil {
		t.Error("Log should not be nil even with invalid path")
	}
}

func TestLoggingFunctions(t *testing.T) {
	Init("debug")

	Debug("debug message", "source_id", "sensor-1")
	Info("info message", "source_id", "sensor-1")
	Warn("warn message", "source_id", "sensor-1")
	Error("error message", "source_id", "sensor-1")
}

func TestDerivedLoggers(t *testing.T) {
	Init("info")

	if WithContext(context.Background(), "key1", "value1") == nil {
		t.Error("WithContext returned nil")
	}
	if WithRequestID("req-123") == nil {
		t.Error("WithRequestID returned nil")
	}
	if WithService("resilience-core") == nil {
		t.Error("WithService returned nil")
	}
	if WithComponent("coordinator") == nil {
		t.Error("WithComponent returned nil")
	}
}
