// Package installcfg loads tool configuration and persists the state that
// later install stages read back, most importantly the firmware mode the
// bootloader stage keys off.
package installcfg

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/sigreer/metalforge/internal/firmware"
)

// DefaultPath is where state lands when no config file was given.
const DefaultPath = "/etc/metalforge/config.yaml"

type Config struct {
	// MountRoot is where the new root filesystem gets mounted.
	MountRoot string `yaml:"mount_root,omitempty"`
	// SettleSeconds is the wait after partprobe before rediscovery.
	SettleSeconds int `yaml:"settle_seconds,omitempty"`
	// JournalPath is the sqlite install journal location.
	JournalPath string `yaml:"journal_path,omitempty"`
	// FirmwareMode is recorded by the pipeline and read verbatim by the
	// bootloader stage. Overwritten on every run.
	FirmwareMode string `yaml:"firmware_mode,omitempty"`
	// Secondary volumes to mount under MountRoot when present.
	Secondary []SecondaryVolume `yaml:"secondary,omitempty"`

	path string
}

// SecondaryVolume is an optional extra mount. Subdir is relative to
// MountRoot.
type SecondaryVolume struct {
	Device string `yaml:"device"`
	Subdir string `yaml:"subdir"`
}

var defaultConfig = Config{
	MountRoot:     "/mnt",
	SettleSeconds: 2,
	JournalPath:   "/var/lib/metalforge/journal.db",
}

// Load reads the config at path, or the first of the default locations
// when path is empty. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		candidates := []string{
			DefaultPath,
			filepath.Join(os.Getenv("HOME"), ".config/metalforge/config.yaml"),
			"config.yaml",
		}
		for _, c := range candidates {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}

	cfg := defaultConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		}
	} else {
		path = DefaultPath
	}
	cfg.path = path

	if cfg.MountRoot == "" {
		cfg.MountRoot = defaultConfig.MountRoot
	}
	if cfg.SettleSeconds <= 0 {
		cfg.SettleSeconds = defaultConfig.SettleSeconds
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = defaultConfig.JournalPath
	}
	return &cfg, nil
}

// Path returns where Save will write.
func (c *Config) Path() string {
	return c.path
}

// Record persists the firmware mode decision, overwriting any prior value
// so re-running the pipeline leaves a single authoritative answer.
func (c *Config) Record(mode firmware.Mode) error {
	c.FirmwareMode = string(mode)
	return c.Save()
}

// Save writes the config back to its path.
func (c *Config) Save() error {
	if c.path == "" {
		c.path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}
