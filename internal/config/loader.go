package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var envRefRe = regexp.MustCompile(`\$\{(\w+)\}`)

// Load reads a YAML config file, expands ${VAR} references from the
// environment, unmarshals it into Config, and applies defaults. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		expanded := expandEnvRefs(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// expandEnvRefs replaces ${VAR} with the env var value.
func expandEnvRefs(s string) string {
	return envRefRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envRefRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18440
	}
	if cfg.Documents.Dir == "" {
		cfg.Documents.Dir = filepath.Join(LecticPath(), "documents")
	}
	if len(cfg.Documents.Include) == 0 {
		cfg.Documents.Include = []string{"**/*.lec"}
	}
	if cfg.Store.MaxTasksPerContext == 0 {
		cfg.Store.MaxTasksPerContext = 50
	}
	if cfg.Store.FastPathWait == 0 {
		cfg.Store.FastPathWait = Duration(2 * time.Second)
	}
	if cfg.Transcripts.Path == "" {
		cfg.Transcripts.Path = TranscriptsPath()
	}
}
