// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/proxy-relay/config.toml",
	"configs/config.toml",
}

// Relay selector modes.
const (
	ModeAuto     = "auto"
	ModeExplicit = "explicit"
	ModePool     = "pool"
)

// Browser-like request defaults; some sites reject requests without them.
const (
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	DefaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	DefaultAcceptLanguage = "en-US,en;q=0.9"
	DefaultIPCheckURL     = "https://api.ipify.org?format=json"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config    string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host      string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port      int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Mode      string `kong:"help='Proxy selector mode: auto|explicit|pool (overrides config).',env='RELAY_MODE'"`
	ProxyUser string `kong:"help='Default username for [[pool]] entries without credentials; never sent to caller-supplied proxies.',env='PROXY_USER'"`
	ProxyPass string `kong:"help='Default password for [[pool]] entries without credentials; never sent to caller-supplied proxies.',env='PROXY_PASS'"`
	LogLevel  string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Relay   RelayConfig   `toml:"relay"`
	Pool    []PoolEntry   `toml:"pool"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`

	// FrameAncestors, when set, is sent as the CSP frame-ancestors directive.
	FrameAncestors string `toml:"frame_ancestors"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// RelayConfig holds upstream fetch settings.
type RelayConfig struct {
	Mode               string `toml:"mode"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	MaxBodyBytes       int64  `toml:"max_body_bytes"`
	IdleConnections    int    `toml:"idle_connections"`
	UserAgent          string `toml:"user_agent"`
	Accept             string `toml:"accept"`
	AcceptLanguage     string `toml:"accept_language"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	IPCheckURL         string `toml:"ip_check_url"`

	// Shared proxy credentials for [[pool]] entries that carry none of their
	// own. Never sent to caller-supplied proxies.
	ProxyUser string `toml:"proxy_user"`
	ProxyPass string `toml:"proxy_pass"`
}

// PoolEntry is one upstream proxy in the [[pool]] table.
type PoolEntry struct {
	Scheme   string  `toml:"scheme"`
	Host     string  `toml:"host"`
	Port     int     `toml:"port"`
	Username string  `toml:"username"`
	Password string  `toml:"password"`
	Label    string  `toml:"label"`
	Weight   float64 `toml:"weight"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/proxy-relay/config.toml then configs/config.toml, and falls back to
// built-in defaults (auto mode with an empty pool) if neither exists.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Mode != "" {
		c.Relay.Mode = cli.Mode
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.ProxyUser != "" {
		c.Relay.ProxyUser = cli.ProxyUser
		c.Relay.ProxyPass = cli.ProxyPass
	}
	if c.Relay.ProxyUser != "" {
		for i := range c.Pool {
			if c.Pool[i].Username == "" {
				c.Pool[i].Username = c.Relay.ProxyUser
				c.Pool[i].Password = c.Relay.ProxyPass
			}
		}
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Relay.TimeoutSeconds < 0 {
		return fmt.Errorf("relay.timeout_seconds must be non-negative; got %d", c.Relay.TimeoutSeconds)
	}
	if c.Relay.MaxBodyBytes < 0 {
		return fmt.Errorf("relay.max_body_bytes must be non-negative; got %d", c.Relay.MaxBodyBytes)
	}
	if c.Relay.IdleConnections < 0 {
		return fmt.Errorf("relay.idle_connections must be non-negative; got %d", c.Relay.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	switch strings.ToLower(c.Relay.Mode) {
	case ModeAuto, ModeExplicit, ModePool, "":
		// valid
	default:
		return fmt.Errorf("relay.mode must be one of: auto, explicit, pool; got %q", c.Relay.Mode)
	}
	if strings.EqualFold(c.Relay.Mode, ModePool) && len(c.Pool) == 0 {
		return fmt.Errorf("relay.mode %q requires at least one [[pool]] entry", ModePool)
	}

	if c.Relay.ProxyPass != "" && c.Relay.ProxyUser == "" {
		return errors.New("relay.proxy_pass set without relay.proxy_user")
	}

	if c.Relay.IPCheckURL != "" {
		u, err := url.Parse(c.Relay.IPCheckURL)
		if err != nil {
			return fmt.Errorf("relay.ip_check_url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("relay.ip_check_url must use http or https; got %q", c.Relay.IPCheckURL)
		}
	}

	if err := c.validatePool(); err != nil {
		return err
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/proxy", "/proxies", "/healthz", "/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

func (c *Config) validatePool() error {
	seen := make(map[string]int, len(c.Pool))
	for i, p := range c.Pool {
		if p.Host == "" {
			return fmt.Errorf("pool[%d].host is required", i)
		}
		if p.Port < 1 || p.Port > 65535 {
			return fmt.Errorf("pool[%d].port must be 1–65535; got %d", i, p.Port)
		}
		switch strings.ToLower(p.Scheme) {
		case "", "http", "https", "socks5":
			// valid
		default:
			return fmt.Errorf("pool[%d].scheme must be one of: http, https, socks5; got %q", i, p.Scheme)
		}
		if p.Weight < 0 {
			return fmt.Errorf("pool[%d].weight must be non-negative; got %v", i, p.Weight)
		}
		if p.Password != "" && p.Username == "" {
			return fmt.Errorf("pool[%d].password set without username", i)
		}
		key := fmt.Sprintf("%s:%d", strings.ToLower(p.Host), p.Port)
		if j, dup := seen[key]; dup {
			return fmt.Errorf("pool[%d] duplicates pool[%d] (%s)", i, j, key)
		}
		seen[key] = i
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8000).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 64 * 1024 // JSON relay requests only
	}
	c.Relay.Mode = strings.ToLower(c.Relay.Mode)
	if c.Relay.Mode == "" {
		c.Relay.Mode = ModeAuto
	}
	if c.Relay.TimeoutSeconds == 0 {
		c.Relay.TimeoutSeconds = 15
	}
	if c.Relay.MaxBodyBytes == 0 {
		c.Relay.MaxBodyBytes = 20 * 1024 * 1024 // 20 MB
	}
	if c.Relay.IdleConnections == 0 {
		c.Relay.IdleConnections = 4
	}
	if c.Relay.UserAgent == "" {
		c.Relay.UserAgent = DefaultUserAgent
	}
	if c.Relay.Accept == "" {
		c.Relay.Accept = DefaultAccept
	}
	if c.Relay.AcceptLanguage == "" {
		c.Relay.AcceptLanguage = DefaultAcceptLanguage
	}
	if c.Relay.IPCheckURL == "" {
		c.Relay.IPCheckURL = DefaultIPCheckURL
	}
	for i := range c.Pool {
		c.Pool[i].Scheme = strings.ToLower(c.Pool[i].Scheme)
		if c.Pool[i].Scheme == "" {
			c.Pool[i].Scheme = "http"
		}
		if c.Pool[i].Weight == 0 {
			c.Pool[i].Weight = 1
		}
		if c.Pool[i].Label == "" {
			c.Pool[i].Label = fmt.Sprintf("Proxy %d - %s:%d", i+1, c.Pool[i].Host, c.Pool[i].Port)
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or
// others. The pool table holds proxy credentials.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
