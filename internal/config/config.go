// Package config assembles runtime settings for the worksuite services.
//
// Sources are applied in order: built-in defaults, an optional TOML file,
// WORKSUITE_* environment variables, then command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WORKSUITE_"

// Config holds runtime settings for cmd/api and cmd/migrate.
type Config struct {
	HTTPAddr string `toml:"http_addr"`
	GRPCAddr string `toml:"grpc_addr"`

	DatabaseDSN string `toml:"database_dsn"`
	RedisURL    string `toml:"redis_url"`

	TokenSecret  string        `toml:"token_secret"`
	TokenTTL     time.Duration `toml:"token_ttl"`
	SessionTTL   time.Duration `toml:"session_ttl"`
	MagicLinkTTL time.Duration `toml:"magic_link_ttl"`
	LinkBaseURL  string        `toml:"link_base_url"`

	// MailWebhookURL receives magic link deliveries as JSON. Outside dev
	// mode it is the only delivery channel.
	MailWebhookURL   string `toml:"mail_webhook_url"`
	MailWebhookToken string `toml:"mail_webhook_token"`

	AdminEmail    string `toml:"admin_email"`
	AdminPassword string `toml:"admin_password"`

	LogLevel string `toml:"log_level"`
	DevMode  bool   `toml:"dev_mode"`

	RateLimitRPS   float64 `toml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst"`
	MaxBodyBytes   int64   `toml:"max_body_bytes"`

	// TrustedProxies lists peer addresses or CIDRs whose X-Forwarded-For
	// header is believed when keying the rate limiter.
	TrustedProxies []string `toml:"trusted_proxies"`
}

// LoadDefaults populates c with development defaults. TokenSecret is left
// empty so a production deployment cannot start without one.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":8080"
	c.GRPCAddr = ""
	c.DatabaseDSN = ""
	c.RedisURL = ""
	c.TokenSecret = ""
	c.TokenTTL = 30 * 24 * time.Hour
	c.SessionTTL = 30 * 24 * time.Hour
	c.MagicLinkTTL = 15 * time.Minute
	c.LinkBaseURL = "http://localhost:8080/auth/verify"
	c.LogLevel = "info"
	c.RateLimitRPS = 20
	c.RateLimitBurst = 40
	c.MaxBodyBytes = 1 << 20
}

// Load builds a Config from defaults, the TOML file named by -config or
// WORKSUITE_CONFIG, the environment and args.
func Load(args []string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := &Config{}
	cfg.LoadDefaults()

	path := configPath(args, getenv)
	if path != "" {
		if err := cfg.LoadTOML(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.ParseFlags(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTOML overlays values from the TOML file at path.
func (c *Config) LoadTOML(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnv overlays WORKSUITE_* variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	str("HTTP_ADDR", &c.HTTPAddr)
	str("GRPC_ADDR", &c.GRPCAddr)
	str("PG_DSN", &c.DatabaseDSN)
	str("REDIS_URL", &c.RedisURL)
	str("TOKEN_SECRET", &c.TokenSecret)
	str("LINK_BASE_URL", &c.LinkBaseURL)
	str("MAIL_WEBHOOK_URL", &c.MailWebhookURL)
	str("MAIL_WEBHOOK_TOKEN", &c.MailWebhookToken)
	str("ADMIN_EMAIL", &c.AdminEmail)
	str("ADMIN_PASSWORD", &c.AdminPassword)
	str("LOG_LEVEL", &c.LogLevel)

	var errs []error
	dur := func(name string, dst *time.Duration) {
		v := getenv(EnvPrefix + name)
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = d
	}
	dur("TOKEN_TTL", &c.TokenTTL)
	dur("SESSION_TTL", &c.SessionTTL)
	dur("MAGIC_LINK_TTL", &c.MagicLinkTTL)

	if v := getenv(EnvPrefix + "TRUSTED_PROXIES"); v != "" {
		c.TrustedProxies = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.TrustedProxies = append(c.TrustedProxies, p)
			}
		}
	}

	if v := getenv(EnvPrefix + "DEV_MODE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sDEV_MODE: %w", EnvPrefix, err))
		} else {
			c.DevMode = b
		}
	}
	if v := getenv(EnvPrefix + "RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sRATE_LIMIT_RPS: %w", EnvPrefix, err))
		} else {
			c.RateLimitRPS = f
		}
	}
	if v := getenv(EnvPrefix + "RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sRATE_LIMIT_BURST: %w", EnvPrefix, err))
		} else {
			c.RateLimitBurst = n
		}
	}
	return errors.Join(errs...)
}

// ParseFlags overlays command-line flags. Unknown flags are an error.
func (c *Config) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("worksuite", flag.ContinueOnError)
	fs.String("config", "", "path to a TOML config file")
	fs.StringVar(&c.HTTPAddr, "http", c.HTTPAddr, "HTTP listen address")
	fs.StringVar(&c.GRPCAddr, "grpc", c.GRPCAddr, "gRPC health listen address (empty disables)")
	fs.StringVar(&c.DatabaseDSN, "dsn", c.DatabaseDSN, "PostgreSQL DSN (empty uses in-memory store)")
	fs.StringVar(&c.RedisURL, "redis", c.RedisURL, "Redis URL (empty uses in-memory sessions)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
	fs.BoolVar(&c.DevMode, "dev", c.DevMode, "development mode")
	fs.DurationVar(&c.TokenTTL, "token-ttl", c.TokenTTL, "access token lifetime")
	fs.DurationVar(&c.SessionTTL, "session-ttl", c.SessionTTL, "session lifetime")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.TokenSecret == "" {
		if !c.DevMode {
			errs = append(errs, errors.New("token secret is required (set WORKSUITE_TOKEN_SECRET)"))
		}
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token ttl must be positive"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("session ttl must be positive"))
	}
	if c.MagicLinkTTL <= 0 {
		errs = append(errs, errors.New("magic link ttl must be positive"))
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		errs = append(errs, errors.New("admin email and password must be set together"))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("rate limit settings must not be negative"))
	}
	if c.MailWebhookURL == "" && !c.DevMode {
		errs = append(errs, errors.New("mail webhook url is required outside dev mode (set WORKSUITE_MAIL_WEBHOOK_URL)"))
	}
	if _, err := ParsePrefixes(c.TrustedProxies); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func configPath(args []string, getenv func(string) string) string {
	for i, a := range args {
		switch {
		case a == "-config" || a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "-config="):
			return strings.TrimPrefix(a, "-config=")
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return getenv(EnvPrefix + "CONFIG")
}

// ParsePrefixes parses addresses and CIDRs. A bare address becomes a
// single-host prefix.
func ParsePrefixes(values []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
