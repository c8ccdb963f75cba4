package config

import (
	"os"
	"path/filepath"
)

// LecticPath returns the root directory for lectic data.
// It uses $LECTIC_PATH if set, otherwise defaults to ~/.lectic.
func LecticPath() string {
	if v := os.Getenv("LECTIC_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".lectic")
	}
	return filepath.Join(home, ".lectic")
}

// ConfigPath returns the path to the lectic config file.
func ConfigPath() string {
	return filepath.Join(LecticPath(), "config.yaml")
}

// DotenvPath returns the path to the lectic .env file.
func DotenvPath() string {
	return filepath.Join(LecticPath(), ".env")
}

// TranscriptsPath returns the default transcript database path.
func TranscriptsPath() string {
	return filepath.Join(LecticPath(), "transcripts.db")
}
