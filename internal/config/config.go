// Package config loads Tollgate settings from defaults, an optional YAML
// file, an optional .env file and TOLLGATE_* environment variables, in that
// order of increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/SmitUplenchwar2687/Tollgate/internal/logging"
	"github.com/SmitUplenchwar2687/Tollgate/internal/policy"
	"github.com/SmitUplenchwar2687/Tollgate/internal/store"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the top-level configuration for a Tollgate process.
type Config struct {
	Server   ServerConfig              `yaml:"server"`
	Store    StoreConfig               `yaml:"store"`
	Identity IdentityConfig            `yaml:"identity"`
	Admin    AdminConfig               `yaml:"admin"`
	Logging  LoggingConfig             `yaml:"logging"`
	Policies map[string]PolicyOverride `yaml:"policies"`
	Routes   []policy.Rule             `yaml:"routes"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// UpstreamURL is where admitted requests are proxied. When empty the
	// server answers admitted requests itself.
	UpstreamURL     string        `yaml:"upstream_url"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects and tunes the counter store. The Redis backend is
// used when RedisURL is set.
type StoreConfig struct {
	RedisURL         string        `yaml:"redis_url"`
	KeyPrefix        string        `yaml:"key_prefix"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
	PoolSize         int           `yaml:"pool_size"`
	MaxRetries       int           `yaml:"max_retries"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	RedisCluster     bool          `yaml:"redis_cluster"`
	// RequirePing refuses to start when Redis is unreachable. Off by
	// default: the gateway starts and fails open until Redis recovers.
	RequirePing      bool          `yaml:"require_ping"`
}

// IdentityConfig names the trusted header carrying the authenticated user.
type IdentityConfig struct {
	UserHeader string `yaml:"user_header"`
}

// AdminConfig gates the admin API. An empty token disables it.
type AdminConfig struct {
	Token string `yaml:"token"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PolicyOverride changes selected fields of a named policy. Unset fields keep
// the built-in value. Overrides for names outside the built-in catalogue
// define new policies and must set window and max_requests.
type PolicyOverride struct {
	Window                *time.Duration `yaml:"window,omitempty"`
	MaxRequests           *int           `yaml:"max_requests,omitempty"`
	Message               *string        `yaml:"message,omitempty"`
	CountSuccessResponses *bool          `yaml:"count_success_responses,omitempty"`
	CountFailureResponses *bool          `yaml:"count_failure_responses,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			KeyPrefix:        "tollgate:rl:",
			OperationTimeout: 250 * time.Millisecond,
			PoolSize:         20,
			MaxRetries:       0,
			DialTimeout:      2 * time.Second,
			SweepInterval:    time.Minute,
		},
		Identity: IdentityConfig{UserHeader: "X-User-ID"},
		Logging:  LoggingConfig{Level: "info", Format: logging.FormatText},
	}
}

// Load builds the effective configuration: defaults, then path (if not
// empty), then .env, then the process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := LoadDotEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadFile reads a YAML config file and merges it with defaults.
// Fields not specified in the file retain their default values.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Environment variables read by ApplyEnv.
const (
	EnvAddr          = "TOLLGATE_ADDR"
	EnvUpstreamURL   = "TOLLGATE_UPSTREAM_URL"
	EnvRedisURL      = "TOLLGATE_REDIS_URL"
	EnvAdminToken    = "TOLLGATE_ADMIN_TOKEN"
	EnvLogLevel      = "TOLLGATE_LOG_LEVEL"
	EnvLogFormat     = "TOLLGATE_LOG_FORMAT"
	EnvSweepInterval = "TOLLGATE_SWEEP_INTERVAL"
	EnvStoreTimeout  = "TOLLGATE_STORE_TIMEOUT"
	EnvUserHeader    = "TOLLGATE_USER_HEADER"
)

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	strs := []struct {
		name string
		dst  *string
	}{
		{EnvAddr, &c.Server.Addr},
		{EnvUpstreamURL, &c.Server.UpstreamURL},
		{EnvRedisURL, &c.Store.RedisURL},
		{EnvAdminToken, &c.Admin.Token},
		{EnvLogLevel, &c.Logging.Level},
		{EnvLogFormat, &c.Logging.Format},
		{EnvUserHeader, &c.Identity.UserHeader},
	}
	for _, s := range strs {
		if v, ok := lookup(s.name); ok {
			*s.dst = strings.TrimSpace(v)
		}
	}

	durs := []struct {
		name string
		dst  *time.Duration
	}{
		{EnvSweepInterval, &c.Store.SweepInterval},
		{EnvStoreTimeout, &c.Store.OperationTimeout},
	}
	for _, d := range durs {
		v, ok := lookup(d.name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalid, d.name, err)
		}
		*d.dst = parsed
	}
	return nil
}

// Validate checks that the config is valid.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("%w: server.addr is required", ErrInvalid)
	}
	if c.Server.UpstreamURL != "" {
		u, err := url.Parse(c.Server.UpstreamURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: server.upstream_url %q must be an absolute URL", ErrInvalid, c.Server.UpstreamURL)
		}
	}
	if c.Store.OperationTimeout <= 0 {
		return fmt.Errorf("%w: store.operation_timeout must be positive, got %s", ErrInvalid, c.Store.OperationTimeout)
	}
	if c.Store.SweepInterval <= 0 {
		return fmt.Errorf("%w: store.sweep_interval must be positive, got %s", ErrInvalid, c.Store.SweepInterval)
	}
	if c.Store.PoolSize < 0 {
		return fmt.Errorf("%w: store.pool_size must not be negative", ErrInvalid)
	}
	if c.Store.RedisURL != "" && !strings.HasPrefix(c.Store.RedisURL, "redis://") && !strings.HasPrefix(c.Store.RedisURL, "rediss://") {
		return fmt.Errorf("%w: store.redis_url must use redis:// or rediss://", ErrInvalid)
	}
	if strings.TrimSpace(c.Identity.UserHeader) == "" {
		return fmt.Errorf("%w: identity.user_header is required", ErrInvalid)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging.level: %w", ErrInvalid, err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("%w: logging.format %q, must be one of: text, json", ErrInvalid, c.Logging.Format)
	}

	policies, err := c.ResolvePolicies()
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(policies))
	for _, p := range policies {
		known[p.Name] = true
	}
	for i, r := range c.Routes {
		if !known[r.Policy] {
			return fmt.Errorf("%w: routes[%d] names unknown policy %q", ErrInvalid, i, r.Policy)
		}
		if len(r.Contains) == 0 {
			return fmt.Errorf("%w: routes[%d] has no substrings", ErrInvalid, i)
		}
	}
	return nil
}

// StoreConfig returns the counter store settings.
func (c Config) StoreConfig() store.Config {
	return store.Config{
		RedisURL:         c.Store.RedisURL,
		KeyPrefix:        c.Store.KeyPrefix,
		OperationTimeout: c.Store.OperationTimeout,
		PoolSize:         c.Store.PoolSize,
		MaxRetries:       c.Store.MaxRetries,
		DialTimeout:      c.Store.DialTimeout,
		RedisCluster:     c.Store.RedisCluster,
		RequirePing:      c.Store.RequirePing,
	}
}

// ResolvePolicies applies the overrides to the built-in catalogue.
func (c Config) ResolvePolicies() ([]policy.Policy, error) {
	policies := policy.Defaults()
	index := make(map[string]int, len(policies))
	for i, p := range policies {
		index[p.Name] = i
	}

	names := make([]string, 0, len(c.Policies))
	for name := range c.Policies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		o := c.Policies[name]
		i, ok := index[name]
		if !ok {
			if o.Window == nil || o.MaxRequests == nil {
				return nil, fmt.Errorf("%w: policies.%s: new policies need window and max_requests", ErrInvalid, name)
			}
			policies = append(policies, policy.Policy{
				Name:                  name,
				Message:               "Too many requests, please try again later.",
				CountSuccessResponses: true,
				CountFailureResponses: true,
			})
			i = len(policies) - 1
			index[name] = i
		}
		o.apply(&policies[i])
		if err := policies[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: policies.%s: %w", ErrInvalid, name, err)
		}
	}
	return policies, nil
}

func (o PolicyOverride) apply(p *policy.Policy) {
	if o.Window != nil {
		p.Window = *o.Window
	}
	if o.MaxRequests != nil {
		p.MaxRequests = *o.MaxRequests
	}
	if o.Message != nil {
		p.Message = *o.Message
	}
	if o.CountSuccessResponses != nil {
		p.CountSuccessResponses = *o.CountSuccessResponses
	}
	if o.CountFailureResponses != nil {
		p.CountFailureResponses = *o.CountFailureResponses
	}
}

// Redacted returns a copy safe to print: secrets masked, credentials
// stripped from the Redis URL.
func (c Config) Redacted() Config {
	out := c
	if out.Admin.Token != "" {
		out.Admin.Token = "redacted"
	}
	if u, err := url.Parse(out.Store.RedisURL); err == nil && u.User != nil {
		if _, hasPassword := u.User.Password(); !hasPassword {
			return out
		}
		u.User = url.UserPassword(u.User.Username(), "redacted")
		out.Store.RedisURL = u.String()
	}
	return out
}

// WriteExample writes an example config file to the given path.
func WriteExample(path string) error {
	example := `# Tollgate configuration. Every field is optional.
server:
  addr: ":8080"
  # upstream_url: "http://localhost:9000"
  read_timeout: 15s
  write_timeout: 30s
  shutdown_timeout: 10s

store:
  # Leave empty for the in-process store; set to share counters across replicas.
  redis_url: ""
  key_prefix: "tollgate:rl:"
  operation_timeout: 250ms
  pool_size: 20
  max_retries: 0
  dial_timeout: 2s
  sweep_interval: 1m
  # Treat redis_url as a cluster seed; add more seeds with ?addr=host:port.
  redis_cluster: false
  # Refuse to start while Redis is unreachable instead of failing open.
  require_ping: false

identity:
  user_header: "X-User-ID"

admin:
  # Bearer token for /admin/rate-limits. Empty disables the admin API.
  token: ""

logging:
  level: info
  format: text

policies:
  auth:
    window: 15m
    max_requests: 5
    count_success_responses: false
  # reports:
  #   window: 1m
  #   max_requests: 30

routes:
  # Evaluated before the built-in rules.
  # - contains: ["reports"]
  #   policy: reports
`
	return os.WriteFile(path, []byte(example), 0o644)
}
