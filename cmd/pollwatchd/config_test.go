package main

import (
	"os"
	"strings"
	"testing"
)

func TestLoadConfigLeaseTTLValidation(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		envVars     map[string]string
		expectError bool
		errorSubstr string
	}{
		{
			name:        "valid lease ttl from flag",
			args:        []string{"-lease-ttl", "5s"},
			expectError: false,
		},
		{
			name:        "zero lease ttl from flag",
			args:        []string{"-lease-ttl", "0s"},
			expectError: true,
			errorSubstr: "lease-ttl must be positive",
		},
		{
			name:        "negative lease ttl from flag",
			args:        []string{"-lease-ttl", "-5s"},
			expectError: true,
			errorSubstr: "lease-ttl must be positive",
		},
		{
			name:        "valid lease ttl from env",
			envVars:     map[string]string{"POLLWATCH_LEASE_TTL": "5s"},
			expectError: false,
		},
		{
			name:        "invalid lease ttl format from env",
			envVars:     map[string]string{"POLLWATCH_LEASE_TTL": "invalid"},
			expectError: true,
			errorSubstr: "invalid POLLWATCH_LEASE_TTL",
		},
		{
			name:        "invalid lease ttl format from flag",
			args:        []string{"-lease-ttl", "invalid"},
			expectError: true,
			errorSubstr: "invalid lease-ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				os.Setenv(k, v)
				defer os.Unsetenv(k)
			}

			cfg, err := LoadConfig(tt.args)

			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.errorSubstr)
				}
				if !strings.Contains(err.Error(), tt.errorSubstr) {
					t.Fatalf("expected error containing %q, got %q", tt.errorSubstr, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.LeaseTTL <= 0 {
				t.Errorf("expected positive lease ttl, got %v", cfg.LeaseTTL)
			}
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig([]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LeaseTTL != defaultLeaseTTL {
		t.Errorf("LeaseTTL = %v, want default %v", cfg.LeaseTTL, defaultLeaseTTL)
	}
	if cfg.Addr != defaultAddr {
		t.Errorf("Addr = %v, want default %v", cfg.Addr, defaultAddr)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("RedisAddr = %q, want empty (single-instance mode by default)", cfg.RedisAddr)
	}
	if cfg.MCP {
		t.Error("MCP should default to false")
	}
}

func TestLoadConfigRejectsEmptyAddr(t *testing.T) {
	_, err := LoadConfig([]string{"-addr", "  "})
	if err == nil {
		t.Fatal("expected an error for an empty addr")
	}
}

func TestLoadConfigMCPFlag(t *testing.T) {
	cfg, err := LoadConfig([]string{"-mcp"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.MCP {
		t.Error("expected MCP to be true when -mcp is passed")
	}
}

func TestLoadConfigInvalidMCPEnv(t *testing.T) {
	os.Setenv("POLLWATCH_MCP", "not-a-bool")
	defer os.Unsetenv("POLLWATCH_MCP")

	_, err := LoadConfig(nil)
	if err == nil || !strings.Contains(err.Error(), "invalid POLLWATCH_MCP") {
		t.Fatalf("expected an invalid POLLWATCH_MCP error, got %v", err)
	}
}

func TestLoadConfigResolvesRelativePaths(t *testing.T) {
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}

	cfg, err := LoadConfig([]string{"-db", "relative.db", "-manifest", "relative.json"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(cfg.DBPath, cwd) {
		t.Errorf("DBPath = %q, want prefix %q", cfg.DBPath, cwd)
	}
	if !strings.HasPrefix(cfg.ManifestPath, cwd) {
		t.Errorf("ManifestPath = %q, want prefix %q", cfg.ManifestPath, cwd)
	}
}
