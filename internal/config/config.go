package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir         string `json:"data_dir" yaml:"data_dir"`
	LogLevel        string `json:"log_level" yaml:"log_level"`
	MaxConcurrent   int    `json:"max_concurrent" yaml:"max_concurrent"`
	Listen          string `json:"listen" yaml:"listen"`
	DisplayName     string `json:"display_name" yaml:"display_name"`
	MaxParticipants int    `json:"max_participants" yaml:"max_participants"`
	AutoSave        bool   `json:"auto_save" yaml:"auto_save"`
	ResyncSchedule  string `json:"resync_schedule" yaml:"resync_schedule"`
	Relay           struct {
		URL                   string `json:"url" yaml:"url"`
		Token                 string `json:"token" yaml:"token" secret:"true"`
		Codec                 string `json:"codec" yaml:"codec"`
		ConnectTimeoutSeconds int    `json:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
		ConnectAttempts       int    `json:"connect_attempts" yaml:"connect_attempts"`
	} `json:"relay" yaml:"relay"`
	Clips struct {
		BaseURL         string  `json:"base_url" yaml:"base_url"`
		DefaultDuration float64 `json:"default_duration" yaml:"default_duration"`
	} `json:"clips" yaml:"clips"`
}

// ConnectTimeout returns the relay connect timeout as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Relay.ConnectTimeoutSeconds) * time.Second
}

func defaults() *Config {
	cfg := &Config{
		DataDir:         filepath.Join(os.Getenv("HOME"), ".remixsync"),
		LogLevel:        "info",
		MaxConcurrent:   2,
		Listen:          ":8420",
		MaxParticipants: 4,
		AutoSave:        true,
		ResyncSchedule:  "@every 30s",
	}
	cfg.Relay.URL = "ws://localhost:8420"
	cfg.Relay.Codec = "json"
	cfg.Relay.ConnectTimeoutSeconds = 5
	cfg.Relay.ConnectAttempts = 3
	cfg.Clips.BaseURL = "https://example.com/clips"
	cfg.Clips.DefaultDuration = 10
	return cfg
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if isYAML(path) {
			err = yaml.Unmarshal(data, cfg)
		} else {
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if url := os.Getenv("REMIXSYNC_RELAY_URL"); url != "" {
		cfg.Relay.URL = url
	}
	if token := os.Getenv("REMIXSYNC_RELAY_TOKEN"); token != "" {
		cfg.Relay.Token = token
	}
	if listen := os.Getenv("REMIXSYNC_LISTEN"); listen != "" {
		cfg.Listen = listen
	}

	return cfg, nil
}

// Save writes cfg to path atomically, as YAML when the extension asks for it.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to a nested map using its JSON field names.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns every key of cfg in a flat dot-keyed map, with secrets
// masked when mask is set.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := make(map[string]any, len(keys))
	for name, k := range keys {
		v, _ := lookup(m, name)
		if mask && k.Secret {
			v = Mask(v)
		}
		flat[name] = v
	}
	return flat, nil
}

// readRaw loads the file at path as a generic map so keys unknown to Config
// survive a set.
func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if isYAML(path) {
		err = yaml.Unmarshal(data, &m)
	} else {
		err = json.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if m == nil {
		m = make(map[string]any)
	}
	return normalize(m).(map[string]any), nil
}

// normalize turns yaml's numeric types into float64 so values compare the
// same whichever format they were read from.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = normalize(child)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = normalize(child)
		}
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	}
	return v
}

// GetValue reads one dot-separated key from the config file at path.
func GetValue(path, key string) (any, error) {
	if _, ok := keys[key]; !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := lookup(m, key)
	if !ok {
		return nil, fmt.Errorf("config key %s not set in %s", key, path)
	}
	return v, nil
}

// SetValue writes one dot-separated key to the config file at path. The
// value must parse as the type the key holds. Entries in the file that
// Config does not know are kept.
func SetValue(path, key, value string) error {
	k, ok := keys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}
	parsed, err := k.Parse(value)
	if err != nil {
		return err
	}
	nested, err := readRaw(path)
	if err != nil {
		return err
	}
	assign(nested, key, parsed)

	var data []byte
	if isYAML(path) {
		data, err = yaml.Marshal(nested)
	} else {
		data, err = json.MarshalIndent(nested, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}
