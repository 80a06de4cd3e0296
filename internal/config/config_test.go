package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BACKEND_URL", "https://collect.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.AppPort != 8754 {
		t.Errorf("AppPort = %d, want 8754", cfg.AppPort)
	}
	if cfg.StorageDriver != "redis" {
		t.Errorf("StorageDriver = %q, want redis", cfg.StorageDriver)
	}
	if cfg.BatchInterval != 30*time.Second {
		t.Errorf("BatchInterval = %v, want 30s", cfg.BatchInterval)
	}
	if cfg.RetryDelay != 5*time.Second {
		t.Errorf("RetryDelay = %v, want 5s", cfg.RetryDelay)
	}
	if cfg.MaxFailures != 5 {
		t.Errorf("MaxFailures = %d, want 5", cfg.MaxFailures)
	}
	if cfg.OverflowTrimFraction != 0.2 {
		t.Errorf("OverflowTrimFraction = %v, want 0.2", cfg.OverflowTrimFraction)
	}
	if !cfg.IsDevelopment() {
		t.Error("default env should be development")
	}
}

func TestLoad_MissingBackendURL(t *testing.T) {
	t.Setenv("BACKEND_URL", "")

	if _, err := Load(); err == nil {
		t.Error("expected error for missing BACKEND_URL")
	}
}

func TestValidate_StorageDriver(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"redis ok", func(c *Config) {}, false},
		{"memory ok", func(c *Config) { c.StorageDriver = "memory" }, false},
		{"postgres without url", func(c *Config) { c.StorageDriver = "postgres"; c.DatabaseURL = "" }, true},
		{"postgres with url", func(c *Config) { c.StorageDriver = "postgres"; c.DatabaseURL = "postgres://x" }, false},
		{"unknown driver", func(c *Config) { c.StorageDriver = "sqlite" }, true},
		{"trim fraction too large", func(c *Config) { c.OverflowTrimFraction = 1.5 }, true},
		{"batch exceeds cap", func(c *Config) { c.BatchSize = 2000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				StorageDriver:        "redis",
				RedisURL:             "redis://localhost:6379/0",
				MaxQueueSize:         1000,
				BatchSize:            50,
				OverflowTrimFraction: 0.2,
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
