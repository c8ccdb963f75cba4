package config

import "time"

// Config is the root configuration for lectic.
type Config struct {
	Gateway     GatewayConfig     `yaml:"gateway"`
	Documents   DocumentsConfig   `yaml:"documents"`
	Store       StoreConfig       `yaml:"store"`
	Transcripts TranscriptsConfig `yaml:"transcripts"`
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DocumentsConfig tells the server where to find interlocutor
// documents.
type DocumentsConfig struct {
	Dir     string   `yaml:"dir"`     // document root (default: $LECTIC_PATH/documents)
	Include []string `yaml:"include"` // doublestar globs (default: ["**/*.lec"])
}

// StoreConfig tunes each interlocutor's turn-task store.
type StoreConfig struct {
	MaxTasksPerContext int      `yaml:"max_tasks_per_context"`
	FastPathWait       Duration `yaml:"fast_path_wait"`
}

// TranscriptsConfig configures turn persistence. The path defaults to
// $LECTIC_PATH/transcripts.db.
type TranscriptsConfig struct {
	Path string `yaml:"path"`
}

// Duration wraps time.Duration for YAML unmarshaling of values like
// "2s".
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
