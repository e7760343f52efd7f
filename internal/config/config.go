// Package config loads ghost configuration from an optional YAML file with
// environment-variable overrides.
//
// Precedence (highest to lowest):
//  1. GHOST_* environment variables (GHOST_MODEL, GHOST_BASE_URL, ...)
//  2. YAML config file (~/.config/ghost/config.yaml by default)
//  3. Hardcoded defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "GHOST_"

// Config holds runtime settings for the agent.
type Config struct {
	Model          string   `koanf:"model"`
	BaseURL        string   `koanf:"base_url"`
	TimeoutSec     int      `koanf:"timeout_sec"`
	CmdTimeoutSec  int      `koanf:"cmd_timeout_sec"`
	LogLevel       string   `koanf:"log_level"`
	LogFormat      string   `koanf:"log_format"`
	AllowedCmds    []string `koanf:"allowed_cmds"`
	MemoryLimit    int      `koanf:"memory_limit"`
	IterationLimit int      `koanf:"iteration_limit"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Model:          "vibethinker:1.5b",
		BaseURL:        "",
		TimeoutSec:     60,
		CmdTimeoutSec:  30,
		LogLevel:       "info",
		LogFormat:      "console",
		AllowedCmds:    []string{"python", "python3", "python.exe", "pytest", "git", "pip", "ruff", "go"},
		MemoryLimit:    3,
		IterationLimit: 8,
	}
}

// Load reads configuration. A .env file in the working directory is loaded
// first so GHOST_* variables set there behave like real environment
// variables. configPath may be empty to use the default location; a missing
// file is not an error.
func Load(configPath string) (Config, error) {
	_ = godotenv.Load() // best effort; absence is normal

	k := koanf.New(".")
	cfg := Default()

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			configPath = filepath.Join(home, ".config", "ghost", "config.yaml")
		}
	}
	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err == nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", configPath, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return Config{}, fmt.Errorf("load env config: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// envTransform maps GHOST_BASE_URL to base_url and so on.
func envTransform(key string) string {
	return strings.ToLower(strings.TrimPrefix(key, envPrefix))
}
