package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "village.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("TEST_VILLAGE_KEY", "sk-secret")

	path := writeConfig(t, `{
		"server": {"port": 9090},
		"providers": [
			{"id": "p1", "type": "openai", "api_key": "${TEST_VILLAGE_KEY}",
			 "endpoint": "${TEST_VILLAGE_ENDPOINT:https://fallback.example}"}
		]
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port: %d", cfg.Server.Port)
	}
	if cfg.Providers[0].APIKey != "sk-secret" {
		t.Errorf("env var not substituted: %q", cfg.Providers[0].APIKey)
	}
	if cfg.Providers[0].Endpoint != "https://fallback.example" {
		t.Errorf("default not applied: %q", cfg.Providers[0].Endpoint)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: %d", cfg.Server.Port)
	}
	if cfg.ProfilesDir != "profiles" {
		t.Errorf("default profiles dir: %q", cfg.ProfilesDir)
	}
	if cfg.Simulation.TickStepMinutes != 5 {
		t.Errorf("default tick step: %d", cfg.Simulation.TickStepMinutes)
	}
	if cfg.Simulation.StartHour != nil {
		t.Errorf("start hour should default to the wall clock, got %d", *cfg.Simulation.StartHour)
	}
	if cfg.Database.Postgres.MigrationsDir != "migrations" {
		t.Errorf("default migrations dir: %q", cfg.Database.Postgres.MigrationsDir)
	}
}

func TestLoadKeepsMidnightStartHour(t *testing.T) {
	path := writeConfig(t, `{"simulation": {"start_hour": 0}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Simulation.StartHour == nil {
		t.Fatal("explicit start hour dropped")
	}
	if *cfg.Simulation.StartHour != 0 {
		t.Errorf("start hour: %d", *cfg.Simulation.StartHour)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{"server": `)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
