// Package config provides configuration for the notevault binary.
// Loads from: CLI flags > NOTEVAULT_CONFIG file > built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Fixed core limits. These are deliberately not tunable below/above the
// contract values; the config file may lower the note size but never raise
// it past the hard cap.
const (
	DefaultMaxNoteSizeBytes = 1 << 20 // 1 MiB
	DefaultMaxNotesPerUser  = 5000

	DefaultRecencyRecentDays = 7
	DefaultRecencyMediumDays = 30

	DefaultTitleWeight = 3.0
	DefaultBodyWeight  = 1.0

	DefaultListenAddr = "127.0.0.1:7619"
)

// Config holds all notevault configuration, loaded from TOML + flags.
type Config struct {
	Vault    VaultConfig    `toml:"vault"`
	Database DatabaseConfig `toml:"database"`
	Limits   LimitsConfig   `toml:"limits"`
	Search   SearchConfig   `toml:"search"`
	Server   ServerConfig   `toml:"server"`
}

// VaultConfig holds vault filesystem settings.
type VaultConfig struct {
	// Root is the directory containing one subdirectory per user.
	Root string `toml:"root"`
}

// DatabaseConfig holds index database settings.
type DatabaseConfig struct {
	// Path is the SQLite index file. A single file owns all users' index rows.
	Path string `toml:"path"`
}

// LimitsConfig bounds per-user resources.
type LimitsConfig struct {
	MaxNoteSizeBytes int64 `toml:"max_note_size_bytes"`
	MaxNotesPerUser  int   `toml:"max_notes_per_user"`
}

// SearchConfig tunes ranking.
type SearchConfig struct {
	TitleWeight       float64 `toml:"title_weight"`
	BodyWeight        float64 `toml:"body_weight"`
	RecencyRecentDays int     `toml:"recency_recent_days"`
	RecencyMediumDays int     `toml:"recency_medium_days"`
}

// ServerConfig holds the web adapter settings.
type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// Default returns the built-in configuration. Vault root and database path
// live under the user's home data dir until a config file says otherwise.
func Default() Config {
	dataDir := defaultDataDir()
	return Config{
		Vault:    VaultConfig{Root: filepath.Join(dataDir, "vaults")},
		Database: DatabaseConfig{Path: filepath.Join(dataDir, "index.db")},
		Limits: LimitsConfig{
			MaxNoteSizeBytes: DefaultMaxNoteSizeBytes,
			MaxNotesPerUser:  DefaultMaxNotesPerUser,
		},
		Search: SearchConfig{
			TitleWeight:       DefaultTitleWeight,
			BodyWeight:        DefaultBodyWeight,
			RecencyRecentDays: DefaultRecencyRecentDays,
			RecencyMediumDays: DefaultRecencyMediumDays,
		},
		Server: ServerConfig{ListenAddr: DefaultListenAddr},
	}
}

// Load reads configuration from path, layered over defaults. An empty path
// consults NOTEVAULT_CONFIG; if that is unset too, defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("NOTEVAULT_CONFIG")
	}
	if path == "" {
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Vault.Root == "" {
		return fmt.Errorf("vault.root must not be empty")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Limits.MaxNoteSizeBytes <= 0 || c.Limits.MaxNoteSizeBytes > DefaultMaxNoteSizeBytes {
		return fmt.Errorf("limits.max_note_size_bytes must be in 1..%d", DefaultMaxNoteSizeBytes)
	}
	if c.Limits.MaxNotesPerUser <= 0 {
		return fmt.Errorf("limits.max_notes_per_user must be positive")
	}
	if c.Search.TitleWeight <= 0 || c.Search.BodyWeight <= 0 {
		return fmt.Errorf("search weights must be positive")
	}
	if c.Search.RecencyRecentDays <= 0 || c.Search.RecencyMediumDays < c.Search.RecencyRecentDays {
		return fmt.Errorf("search recency windows must satisfy 0 < recent <= medium")
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".notevault"
	}
	return filepath.Join(home, ".notevault")
}
