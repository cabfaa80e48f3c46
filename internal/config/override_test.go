package config

import (
	"testing"
)

func TestSetLeafKey(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Set("log_level", "debug"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestSetNestedKey(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Set("server.port", "9090"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %q", cfg.Server.Port)
	}
}

// Overrides through a nil pointer category allocate the category.
func TestSetAllocatesNilCategories(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Set("services.arxlet.url", "http://arxlet:8080"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if cfg.Services.ARXlet == nil || cfg.Services.ARXlet.URL != "http://arxlet:8080" {
		t.Errorf("ARXlet = %+v", cfg.Services.ARXlet)
	}
}

func TestSetRejectsUnknownField(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Set("nope.nothing", 1); err == nil {
		t.Fatal("unknown field should error")
	}
}

func TestSetRejectsWrongKind(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Set("valkey.db", "not-a-number"); err == nil {
		t.Fatal("type mismatch should error")
	}
}

func TestUpdateAppliesAllKeys(t *testing.T) {
	cfg := &Config{}
	err := cfg.Update(map[string]any{
		"log_level":   "warn",
		"server.port": "8888",
		"valkey.db":   float64(3),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if cfg.LogLevel != "warn" || cfg.Server.Port != "8888" || cfg.Valkey.DB != 3 {
		t.Errorf("config = %+v", cfg)
	}
}
