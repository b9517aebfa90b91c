package domain

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseSource(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "model.bin")
	if err := os.WriteFile(file, []byte("weights"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		arg      string
		wantKind string
		wantErr  bool
	}{
		{"https url", "https://origin.example/model.bin", "remote", false},
		{"http url", "http://origin.example/model.bin", "remote", false},
		{"local file", file, "file", false},
		{"directory", dir, "", true},
		{"missing file", filepath.Join(dir, "absent"), "", true},
		{"ftp url", "ftp://origin.example/model.bin", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := ParseSource(tt.arg)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("ParseSource(%q) error = %v, want ErrInvalidInput", tt.arg, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSource(%q) error = %v", tt.arg, err)
			}
			if got := SourceKind(src); got != tt.wantKind {
				t.Errorf("SourceKind() = %q, want %q", got, tt.wantKind)
			}
		})
	}
}

func TestParseRemoteSource(t *testing.T) {
	src, err := ParseRemoteSource("https://origin.example/m.bin")
	if err != nil {
		t.Fatalf("ParseRemoteSource() error = %v", err)
	}
	if src.URL != "https://origin.example/m.bin" {
		t.Errorf("URL = %q", src.URL)
	}

	for _, bad := range []string{"", "/etc/passwd", "file:///etc/passwd", "origin.example/m.bin"} {
		if _, err := ParseRemoteSource(bad); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("ParseRemoteSource(%q) error = %v, want ErrInvalidInput", bad, err)
		}
	}
}

func TestSourceKind(t *testing.T) {
	if got := SourceKind(nil); got != "none" {
		t.Errorf("SourceKind(nil) = %q", got)
	}
	if got := SourceKind(BytesSource{Data: []byte("x")}); got != "bytes" {
		t.Errorf("SourceKind(bytes) = %q", got)
	}
}
