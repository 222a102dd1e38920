// Package config loads environment and file based configuration.
//
// Precedence follows the original deployment layout: environment
// variables (plus an optional .env file) win, then a config.yaml next to
// the binary, then config.example.yaml as a documented fallback. Remote
// credentials that are missing, placeholders, or malformed silently put
// the application in offline mode; they are never an error.
package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/auth"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the tools app.
type Config struct {
	// Remote backend credentials. Invalid or placeholder values mean
	// offline mode, not an error.
	RemoteURL string `env:"ROXSTAR_REMOTE_URL"`
	RemoteKey string `env:"ROXSTAR_REMOTE_KEY"`

	// RemoteEnabled gates remote sync. Defaults to on; only an explicit
	// false disables it.
	RemoteEnabled bool `env:"ROXSTAR_REMOTE_ENABLED" envDefault:"true"`

	// DataDir holds the local bbolt database. Defaults to ~/.roxstar/.
	DataDir string `env:"ROXSTAR_DATA_DIR"`

	// SeedPath points at the household text asset carrying the fixed
	// shopping list and the credential whitelist.
	SeedPath string `env:"ROXSTAR_SEED_PATH"`

	// ListenAddr is the HTTP API listen address.
	ListenAddr string `env:"ROXSTAR_LISTEN_ADDR" envDefault:":8420"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// ConfigFile overrides the config file fallback chain.
	ConfigFile string `env:"ROXSTAR_CONFIG_FILE"`

	// Whitelist is only settable through the config file; the asset
	// whitelist from SeedPath is used when this is empty.
	Whitelist []auth.Credential `env:"-"`
}

// fileConfig is the on-disk YAML shape, mirroring the original
// config.json layout.
type fileConfig struct {
	Remote struct {
		Enabled *bool  `yaml:"enabled"`
		URL     string `yaml:"url"`
		Key     string `yaml:"key"`
	} `yaml:"remote"`
	Whitelist []auth.Credential `yaml:"whitelist"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables, then fills gaps
// from the config file fallback chain.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyFile()

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("determining home directory: %w", err)
		}

		cfg.DataDir = filepath.Join(home, ".roxstar")
	}

	return cfg, nil
}

// applyFile merges the first readable config file into unset fields.
// File errors are swallowed: a broken or absent config file means
// offline defaults, matching the original fallback chain.
func (c *Config) applyFile() {
	candidates := []string{"config.yaml", "config.example.yaml"}
	if c.ConfigFile != "" {
		candidates = []string{c.ConfigFile}
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			continue
		}

		if c.RemoteURL == "" {
			c.RemoteURL = fc.Remote.URL
		}

		if c.RemoteKey == "" {
			c.RemoteKey = fc.Remote.Key
		}

		if fc.Remote.Enabled != nil && !*fc.Remote.Enabled {
			c.RemoteEnabled = false
		}

		if len(c.Whitelist) == 0 {
			c.Whitelist = fc.Whitelist
		}

		return
	}
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// placeholderRe matches unexpanded template placeholders like ${REMOTE_KEY}.
var placeholderRe = regexp.MustCompile(`^\s*\$\{[A-Za-z0-9_]+\}\s*$`)

// badTokenRe matches obvious sample credentials left in place.
var badTokenRe = regexp.MustCompile(`(?i)YOUR_|REPLACE|CHANGEME|EXAMPLE`)

// minKeyLen is the minimum length of a plausible signed key. Anon keys
// are JWTs and real ones are well past this size.
const minKeyLen = 80

// RemoteConfigured reports whether the remote credentials look usable.
// A false result means the app runs fully offline; it is never an error.
func (c *Config) RemoteConfigured() bool {
	if !c.RemoteEnabled {
		return false
	}

	rawURL := strings.TrimSpace(c.RemoteURL)
	key := strings.TrimSpace(c.RemoteKey)

	if rawURL == "" || key == "" {
		return false
	}

	if placeholderRe.MatchString(rawURL) || placeholderRe.MatchString(key) {
		return false
	}

	if badTokenRe.MatchString(rawURL) || badTokenRe.MatchString(key) {
		return false
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}

	return looksLikeSignedKey(key)
}

// looksLikeSignedKey reports whether the key has the shape of a signed
// token: three dot-separated segments and a realistic length.
func looksLikeSignedKey(key string) bool {
	return len(key) > minKeyLen && len(strings.Split(key, ".")) == 3
}
