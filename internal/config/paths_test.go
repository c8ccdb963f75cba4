package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLecticPath_Default(t *testing.T) {
	t.Setenv("LECTIC_PATH", "")

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatal(err)
	}

	got := LecticPath()
	want := filepath.Join(home, ".lectic")
	if got != want {
		t.Errorf("LecticPath() = %q, want %q", got, want)
	}
}

func TestLecticPath_EnvOverride(t *testing.T) {
	t.Setenv("LECTIC_PATH", "/tmp/custom-lectic")

	got := LecticPath()
	want := "/tmp/custom-lectic"
	if got != want {
		t.Errorf("LecticPath() = %q, want %q", got, want)
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv("LECTIC_PATH", "/tmp/test-lectic")

	got := ConfigPath()
	want := "/tmp/test-lectic/config.yaml"
	if got != want {
		t.Errorf("ConfigPath() = %q, want %q", got, want)
	}
}

func TestDotenvPath(t *testing.T) {
	t.Setenv("LECTIC_PATH", "/tmp/test-lectic")

	got := DotenvPath()
	want := "/tmp/test-lectic/.env"
	if got != want {
		t.Errorf("DotenvPath() = %q, want %q", got, want)
	}
}

func TestTranscriptsPath(t *testing.T) {
	t.Setenv("LECTIC_PATH", "/tmp/test-lectic")

	got := TranscriptsPath()
	want := "/tmp/test-lectic/transcripts.db"
	if got != want {
		t.Errorf("TranscriptsPath() = %q, want %q", got, want)
	}
}
