package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultPostTime is used when no schedule file exists yet.
var DefaultPostTime = TimeOfDay{Hour: 17}

// Config is the persisted scheduler configuration.
type Config struct {
	Active   bool      `json:"active"`
	PostTime TimeOfDay `json:"post_time"`
}

// DefaultConfig is a paused scheduler posting at DefaultPostTime.
func DefaultConfig() Config {
	return Config{Active: false, PostTime: DefaultPostTime}
}

// LoadConfig reads the configuration at path. A missing or empty file yields
// DefaultConfig, and fields absent from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("open schedule: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read schedule: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("decode schedule: %w", err)
	}
	return cfg, nil
}

// SaveConfig replaces the file at path atomically.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open tmp: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&cfg); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode schedule: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename tmp: %w", err)
	}
	return nil
}
