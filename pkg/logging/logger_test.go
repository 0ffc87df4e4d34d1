package logging

import "testing"

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus", ""} {
		logger := New(level, "json")
		if logger == nil || logger.Logger == nil {
			t.Fatalf("expected logger for level %q", level)
		}
	}
}

func TestNewTextFormat(t *testing.T) {
	logger := New("info", "text")
	if logger == nil {
		t.Fatal("expected text logger")
	}
	logger.Info("text handler works")
}

func TestDefault(t *testing.T) {
	logger := Default()
	if logger == nil {
		t.Fatal("expected default logger")
	}
}

func TestWith(t *testing.T) {
	logger := Default().With("component", "test")
	if logger == nil || logger.Logger == nil {
		t.Fatal("expected derived logger")
	}
}
