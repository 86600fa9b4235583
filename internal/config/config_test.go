package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_RepoConfig(t *testing.T) {
	cfg, err := Load("../../configs/liftsim.yaml")
	if err != nil {
		t.Fatalf("load liftsim.yaml: %v", err)
	}
	if cfg.Server.Backend != BackendMemory || cfg.Server.Addr != ":3000" {
		t.Fatalf("server=%+v", cfg.Server)
	}
	if cfg.Server.SQLitePath != filepath.Join("data", "liftsim.db") {
		t.Fatalf("sqlite_path=%q", cfg.Server.SQLitePath)
	}
	if cfg.Client.Timeout() != 5*time.Second {
		t.Fatalf("timeout=%v", cfg.Client.Timeout())
	}
}

func TestLoad_EmptyPathIsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Server.JournalDir == "" || cfg.Server.SnapshotPath == "" {
		t.Fatalf("derived paths missing: %+v", cfg.Server)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("err=%v want not-exist", err)
	}
}

func TestLoad_OverridesAndValidation(t *testing.T) {
	dir := t.TempDir()
	write := func(body string) string {
		p := filepath.Join(dir, "liftsim.yaml")
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		return p
	}

	cfg, err := Load(write("server:\n  backend: SQLite\n  data_dir: /srv/lift\nclient:\n  base_url: http://lift:9000/\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Backend != BackendSQLite || cfg.Server.SQLitePath != "/srv/lift/liftsim.db" {
		t.Fatalf("server=%+v", cfg.Server)
	}
	if cfg.Client.BaseURL != "http://lift:9000" {
		t.Fatalf("base_url=%q", cfg.Client.BaseURL)
	}
	// untouched sections keep their defaults
	if cfg.Building.TopFloor != 10 || cfg.Client.ReadRetries != 2 {
		t.Fatalf("defaults lost: %+v %+v", cfg.Building, cfg.Client)
	}

	bad := []struct {
		body string
		want string
	}{
		{"server:\n  backend: redis\n", "server.backend"},
		{"building:\n  top_floor: 0\n", "top_floor"},
		{"engine:\n  lobby_policy: sometimes\n", "lobby_policy"},
		{"client:\n  base_url: lift:9000\n", "base_url"},
		{"server: [\n", "liftsim.yaml"},
	}
	for _, tc := range bad {
		if _, err := Load(write(tc.body)); err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("Load(%q) err=%v want mention of %q", tc.body, err, tc.want)
		}
	}
}

func TestLoadScenario(t *testing.T) {
	b := BuildingConfig{TopFloor: 10}
	ps, err := LoadScenario("../../configs/scenario.yaml", b)
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	if len(ps) != 4 || ps[0].Name != "Anne" || ps[0].Origin != 1 || ps[0].Destination != 3 {
		t.Fatalf("passengers=%v", ps)
	}

	p := filepath.Join(t.TempDir(), "s.yaml")
	_ = os.WriteFile(p, []byte("passengers:\n  - name: Zed\n    currentFloor: 11\n    dropOffFloor: 0\n"), 0o644)
	if _, err := LoadScenario(p, b); err == nil || !strings.Contains(err.Error(), "currentFloor") {
		t.Fatalf("err=%v", err)
	}
}
