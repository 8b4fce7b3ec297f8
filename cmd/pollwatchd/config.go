package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAddr     = "127.0.0.1:8099"
	defaultLeaseTTL = 15 * time.Second
)

// Config is pollwatchd's resolved runtime configuration.
type Config struct {
	DBPath       string
	ManifestPath string
	Addr         string
	RedisAddr    string
	LeaseTTL     time.Duration
	MCP          bool
}

// LoadConfig resolves configuration from environment variables, then flags
// (flags win), matching this codebase's env-then-flag-override precedence.
func LoadConfig(args []string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	defaultDBPath := filepath.Join(cwd, "pollwatch.db")
	defaultManifestPath := filepath.Join(cwd, "polls.json")

	dbPath := envOrDefault("POLLWATCH_DB_PATH", defaultDBPath)
	manifestPath := envOrDefault("POLLWATCH_MANIFEST_PATH", defaultManifestPath)
	addr := envOrDefault("POLLWATCH_ADDR", defaultAddr)
	redisAddr := os.Getenv("POLLWATCH_REDIS_ADDR")
	leaseTTL := defaultLeaseTTL
	if v := os.Getenv("POLLWATCH_LEASE_TTL"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid POLLWATCH_LEASE_TTL: %w", err)
		}
		leaseTTL = parsed
	}
	mcp := false
	if v := os.Getenv("POLLWATCH_MCP"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid POLLWATCH_MCP: %w", err)
		}
		mcp = parsed
	}

	flagSet := flag.NewFlagSet("pollwatchd", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagDB := flagSet.String("db", dbPath, "path to SQLite tick history database")
	flagManifest := flagSet.String("manifest", manifestPath, "path to the poll manifest JSON")
	flagAddr := flagSet.String("addr", addr, "HTTP listen address")
	flagRedisAddr := flagSet.String("redis-addr", redisAddr, "Redis address for leader election (empty: single-instance mode)")
	flagLeaseTTL := flagSet.String("lease-ttl", leaseTTL.String(), "leader election lease TTL")
	flagMCP := flagSet.Bool("mcp", mcp, "serve MCP on stdio alongside HTTP")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
			return Config{}, err
		}
		return Config{}, err
	}

	leaseTTLParsed, err := time.ParseDuration(*flagLeaseTTL)
	if err != nil {
		return Config{}, fmt.Errorf("invalid lease-ttl: %w", err)
	}

	config := Config{
		DBPath:       resolvePath(*flagDB, cwd),
		ManifestPath: resolvePath(*flagManifest, cwd),
		Addr:         strings.TrimSpace(*flagAddr),
		RedisAddr:    strings.TrimSpace(*flagRedisAddr),
		LeaseTTL:     leaseTTLParsed,
		MCP:          *flagMCP,
	}

	if config.Addr == "" {
		return Config{}, errors.New("addr cannot be empty")
	}
	if config.LeaseTTL <= 0 {
		return Config{}, errors.New("lease-ttl must be positive")
	}

	return config, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}
