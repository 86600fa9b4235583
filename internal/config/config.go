// Package config loads liftsim.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Client   ClientConfig   `yaml:"client"`
	Building BuildingConfig `yaml:"building"`
	Engine   EngineConfig   `yaml:"engine"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr"`
	Backend string `yaml:"backend"`
	DataDir string `yaml:"data_dir"`

	// Empty paths are derived from DataDir by Normalize.
	SQLitePath   string `yaml:"sqlite_path"`
	SnapshotPath string `yaml:"snapshot_path"`
	JournalDir   string `yaml:"journal_dir"`

	EnableJournal       bool `yaml:"enable_journal"`
	EnableObserver      bool `yaml:"enable_observer"`
	ObserverAllowRemote bool `yaml:"observer_allow_remote"`
}

type ClientConfig struct {
	BaseURL     string `yaml:"base_url"`
	TimeoutMS   int    `yaml:"timeout_ms"`
	ReadRetries int    `yaml:"read_retries"`
}

func (c ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

type BuildingConfig struct {
	TopFloor int `yaml:"top_floor"`
}

// CheckFloor reports whether f exists in the building.
func (b BuildingConfig) CheckFloor(f int) error {
	if f < 0 || f > b.TopFloor {
		return fmt.Errorf("floor %d outside 0..%d", f, b.TopFloor)
	}
	return nil
}

type EngineConfig struct {
	LobbyPolicy     string `yaml:"lobby_policy"`
	LobbyBeforeHour int    `yaml:"lobby_before_hour"`
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":3000",
			Backend:        BackendMemory,
			DataDir:        "./data",
			EnableJournal:  true,
			EnableObserver: true,
		},
		Client: ClientConfig{
			BaseURL:     "http://localhost:3000",
			TimeoutMS:   5000,
			ReadRetries: 2,
		},
		Building: BuildingConfig{TopFloor: 10},
		Engine: EngineConfig{
			LobbyPolicy:     "never",
			LobbyBeforeHour: 10,
		},
	}
}

// Load reads path over the defaults. A missing file is returned as an
// os.IsNotExist error so callers can fall back to Defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("liftsim.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("liftsim.yaml: %w", err)
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	s := &c.Server
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	if s.Backend == "" {
		s.Backend = BackendMemory
	}
	if strings.TrimSpace(s.DataDir) == "" {
		s.DataDir = "./data"
	}
	if strings.TrimSpace(s.SQLitePath) == "" {
		s.SQLitePath = filepath.Join(s.DataDir, "liftsim.db")
	}
	if strings.TrimSpace(s.SnapshotPath) == "" {
		s.SnapshotPath = filepath.Join(s.DataDir, "snapshots", "state.snap.zst")
	}
	if strings.TrimSpace(s.JournalDir) == "" {
		s.JournalDir = filepath.Join(s.DataDir, "journal")
	}

	c.Client.BaseURL = strings.TrimRight(strings.TrimSpace(c.Client.BaseURL), "/")
	if c.Client.TimeoutMS <= 0 {
		c.Client.TimeoutMS = 5000
	}
	c.Engine.LobbyPolicy = strings.ToLower(strings.TrimSpace(c.Engine.LobbyPolicy))
	if c.Engine.LobbyPolicy == "" {
		c.Engine.LobbyPolicy = "never"
	}
}

func (c Config) Validate() error {
	c.Normalize()
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	switch c.Server.Backend {
	case BackendMemory, BackendSQLite:
	default:
		return fmt.Errorf("server.backend %q must be %s or %s", c.Server.Backend, BackendMemory, BackendSQLite)
	}
	if c.Client.BaseURL == "" {
		return fmt.Errorf("client.base_url must not be empty")
	}
	if !strings.HasPrefix(c.Client.BaseURL, "http://") && !strings.HasPrefix(c.Client.BaseURL, "https://") {
		return fmt.Errorf("client.base_url %q must be http(s)", c.Client.BaseURL)
	}
	if c.Client.ReadRetries < 0 {
		return fmt.Errorf("client.read_retries must be >= 0")
	}
	if c.Building.TopFloor <= 0 {
		return fmt.Errorf("building.top_floor must be > 0")
	}
	switch c.Engine.LobbyPolicy {
	case "never", "always", "morning":
	default:
		return fmt.Errorf("engine.lobby_policy %q must be never, always or morning", c.Engine.LobbyPolicy)
	}
	if c.Engine.LobbyBeforeHour < 0 || c.Engine.LobbyBeforeHour > 24 {
		return fmt.Errorf("engine.lobby_before_hour must be in [0, 24]")
	}
	return nil
}
