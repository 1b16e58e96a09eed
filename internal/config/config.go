// Package config loads taskgraph configuration from GRAPH_* environment
// variables and an optional config file.
package config

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults.
const (
	DefaultAgent    = "default-agent"
	DefaultClaimTTL = 60 * time.Second
	DefaultUIPort   = 4747
)

// Config holds the resolved runtime configuration.
type Config struct {
	// Agent is the opaque identity attached to every mutation.
	Agent string
	// DBPath is the absolute path of the database file.
	DBPath string
	// ClaimTTL bounds how long a soft claim stays active.
	ClaimTTL time.Duration
	// UIPort is the read-only HTTP dashboard port.
	UIPort int
	// LogLevel is one of debug|info|warn|error.
	LogLevel string
	// LogFile receives the server log; stdout belongs to the stdio
	// transport and must stay clean.
	LogFile string
}

// Load resolves configuration. Precedence: GRAPH_* environment variables,
// then ~/.graph/config.yaml, then defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if home, err := os.UserHomeDir(); err == nil {
		configPath := filepath.Join(home, ".graph", "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}
		}
	}

	v.SetEnvPrefix("GRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("agent", DefaultAgent)
	v.SetDefault("db", "")
	v.SetDefault("claim-ttl", "")
	v.SetDefault("ui-port", DefaultUIPort)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-file", "")

	cfg := &Config{
		Agent:    v.GetString("agent"),
		DBPath:   v.GetString("db"),
		UIPort:   v.GetInt("ui-port"),
		LogLevel: v.GetString("log-level"),
		LogFile:  v.GetString("log-file"),
	}

	cfg.ClaimTTL = parseClaimTTL(v.GetString("claim-ttl"))

	if cfg.Agent == "" {
		cfg.Agent = DefaultAgent
	}

	if cfg.DBPath == "" {
		path, err := DefaultDBPath()
		if err != nil {
			return nil, err
		}
		cfg.DBPath = path
	}

	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(filepath.Dir(cfg.DBPath), "taskgraph.log")
	}

	return cfg, nil
}

// parseClaimTTL accepts either a duration ("90s", "2m") or a bare number of
// seconds, matching how agents usually export GRAPH_CLAIM_TTL.
func parseClaimTTL(raw string) time.Duration {
	if raw == "" {
		return DefaultClaimTTL
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	var secs int
	if _, err := fmt.Sscanf(raw, "%d", &secs); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return DefaultClaimTTL
}

// DefaultDBPath derives a per-working-directory database path under
// ~/.graph/db/<hash>/graph.db, so each workspace gets its own graph without
// any explicit configuration.
func DefaultDBPath() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to resolve working directory: %w", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	sum := sha256.Sum256([]byte(cwd))
	hash := fmt.Sprintf("%x", sum[:8])
	return filepath.Join(home, ".graph", "db", hash, "graph.db"), nil
}
