package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		l, err := New("warn", format)
		if err != nil {
			t.Fatalf("New(%q) error = %v", format, err)
		}
		if l.Core().Enabled(zapcore.InfoLevel) {
			t.Errorf("New(%q): info enabled at warn level", format)
		}
		if !l.Core().Enabled(zapcore.ErrorLevel) {
			t.Errorf("New(%q): error disabled at warn level", format)
		}
	}

	if _, err := New("info", "xml"); err == nil {
		t.Error("New() with bad format should fail")
	}
}

func TestGetZapLogger_BeforeInit(t *testing.T) {
	if GetZapLogger() == nil {
		t.Fatal("GetZapLogger() = nil before Init")
	}
	if Component("loader") == nil {
		t.Fatal("Component() = nil")
	}
}

func TestInit(t *testing.T) {
	if err := Init("debug", "json"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if Log == nil || GetZapLogger() == nil {
		t.Fatal("Init() did not set the global logger")
	}
	_ = Sync()
}
