package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Tollgate/internal/config"
	"github.com/SmitUplenchwar2687/Tollgate/internal/policy"
)

// overrideOptions are flags that take precedence over file and environment.
type overrideOptions struct {
	addr          string
	upstreamURL   string
	redisURL      string
	adminToken    string
	logLevel      string
	logFormat     string
	userHeader    string
	sweepInterval time.Duration
	storeTimeout  time.Duration
}

func (o *overrideOptions) addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.redisURL, "redis-url", "", "redis URL; empty uses the in-process store")
	cmd.Flags().DurationVar(&o.storeTimeout, "store-timeout", 250*time.Millisecond, "timeout for each counter store call")
}

func (o *overrideOptions) addServeFlags(cmd *cobra.Command) {
	o.addStoreFlags(cmd)
	cmd.Flags().StringVar(&o.addr, "addr", ":8080", "address to listen on")
	cmd.Flags().StringVar(&o.upstreamURL, "upstream", "", "URL admitted requests are proxied to")
	cmd.Flags().StringVar(&o.adminToken, "admin-token", "", "bearer token for the admin API; empty disables it")
	cmd.Flags().StringVar(&o.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&o.logFormat, "log-format", "text", "log format (text, json)")
	cmd.Flags().StringVar(&o.userHeader, "user-header", "X-User-ID", "trusted header carrying the authenticated user id")
	cmd.Flags().DurationVar(&o.sweepInterval, "sweep-interval", time.Minute, "how often expired in-process counters are evicted")
}

// apply copies explicitly set flags onto cfg.
func (o *overrideOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if changed("addr") {
		cfg.Server.Addr = o.addr
	}
	if changed("upstream") {
		cfg.Server.UpstreamURL = o.upstreamURL
	}
	if changed("redis-url") {
		cfg.Store.RedisURL = o.redisURL
	}
	if changed("store-timeout") {
		cfg.Store.OperationTimeout = o.storeTimeout
	}
	if changed("admin-token") {
		cfg.Admin.Token = o.adminToken
	}
	if changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if changed("log-format") {
		cfg.Logging.Format = o.logFormat
	}
	if changed("user-header") {
		cfg.Identity.UserHeader = o.userHeader
	}
	if changed("sweep-interval") {
		cfg.Store.SweepInterval = o.sweepInterval
	}
}

// loadConfig resolves file, environment and flags, then validates.
func loadConfig(cmd *cobra.Command, path string, o *overrideOptions) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	if o != nil {
		o.apply(cmd, &cfg)
		if err := cfg.Validate(); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func buildSelector(cfg config.Config) (*policy.Selector, error) {
	policies, err := cfg.ResolvePolicies()
	if err != nil {
		return nil, err
	}
	reg, err := policy.NewRegistry(policies...)
	if err != nil {
		return nil, err
	}
	return policy.NewSelector(reg, cfg.Routes...), nil
}
