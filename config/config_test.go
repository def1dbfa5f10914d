package config

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "empty snapshot file",
			mutate: func(cfg *Config) {
				cfg.SnapshotFile = ""
			},
			wantErr: "snapshot",
		},
		{
			name: "zero cache ttl",
			mutate: func(cfg *Config) {
				cfg.CacheTTL = 0
			},
			wantErr: "cache ttl",
		},
		{
			name: "invalid proxy list url",
			mutate: func(cfg *Config) {
				cfg.ProxyListURL = "http://"
			},
			wantErr: "proxy list URL",
		},
		{
			name: "unknown session mode",
			mutate: func(cfg *Config) {
				cfg.SessionMode = "carrier-pigeon"
			},
			wantErr: "session mode",
		},
		{
			name: "negative page timeout",
			mutate: func(cfg *Config) {
				cfg.PageTimeout = -1 * time.Second
			},
			wantErr: "page timeout",
		},
		{
			name: "retry window inverted",
			mutate: func(cfg *Config) {
				cfg.RetryDelayMin = 5 * time.Second
				cfg.RetryDelayMax = 2 * time.Second
			},
			wantErr: "retry delay max",
		},
		{
			name: "zero attempts",
			mutate: func(cfg *Config) {
				cfg.MaxAttempts = 0
			},
			wantErr: "max attempts",
		},
		{
			name: "unknown policy",
			mutate: func(cfg *Config) {
				cfg.Policy = "closest"
			},
			wantErr: "policy",
		},
		{
			name: "band ratio out of range",
			mutate: func(cfg *Config) {
				cfg.Policy = PolicyBand
				cfg.BandLowerRatio = 1.5
			},
			wantErr: "band lower ratio",
		},
		{
			name: "bad export format",
			mutate: func(cfg *Config) {
				cfg.ExportFormat = "xml"
			},
			wantErr: "export format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("BUILDFINDER_SNAPSHOT", "/tmp/snap.json")
	t.Setenv("BUILDFINDER_POLICY", "BAND")
	t.Setenv("BUILDFINDER_UPDATE_INTERVAL", "30m")
	t.Setenv("BUILDFINDER_MAX_ATTEMPTS", "5")
	t.Setenv("BUILDFINDER_PARALLEL", "true")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.SnapshotFile != "/tmp/snap.json" {
		t.Fatalf("snapshot = %q", cfg.SnapshotFile)
	}
	if cfg.Policy != PolicyBand {
		t.Fatalf("policy = %q", cfg.Policy)
	}
	if cfg.UpdateInterval != 30*time.Minute {
		t.Fatalf("interval = %v", cfg.UpdateInterval)
	}
	if cfg.MaxAttempts != 5 || !cfg.Parallel {
		t.Fatalf("attempts=%d parallel=%v", cfg.MaxAttempts, cfg.Parallel)
	}
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	t.Setenv("BUILDFINDER_MAX_ATTEMPTS", "three")
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err == nil || !strings.Contains(err.Error(), "BUILDFINDER_MAX_ATTEMPTS") {
		t.Fatalf("expected env parse error, got %v", err)
	}
}
