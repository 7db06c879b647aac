// Package config loads the server configuration from a config file, the
// environment and command line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-training/workspace-mcp/pkg/store"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. WORKSPACE_MCP_PORT.
const EnvPrefix = "WORKSPACE_MCP"

// Keys, as they appear in config.json.
const (
	KeyWorkspaceURL       = "workspace-url"
	KeyAuthenticationURL  = "authentication_url"
	KeyPort               = "port"
	KeyMCPURL             = "mcp_url"
	KeyToken              = "token"
	KeyIssuer             = "issuer"
	KeyCodeTTL            = "code_ttl"
	KeyTokenTTL           = "token_ttl"
	KeyContinuationSecret = "continuation_secret"
	KeyUpstreamTimeout    = "upstream_timeout"
	KeyLoginRate          = "login_rate"
	KeyLoginBurst         = "login_burst"
	KeyStore              = "store"
	KeyRedisAddr          = "redis.addr"
	KeyRedisPassword      = "redis.password"
	KeyRedisDB            = "redis.db"
	KeyLogLevel           = "log_level"
	KeyMaxDownloadBytes   = "max_download_bytes"
	KeySweepInterval      = "sweep_interval"
	KeyTrustedProxies     = "trusted_proxies"
	KeyGrantRetention     = "grant_retention"
	KeyAdminTools         = "admin_tools"
)

var (
	// ErrMissingWorkspaceURL is returned when workspace-url is not set.
	ErrMissingWorkspaceURL = errors.New("workspace-url is required")
	// ErrMissingAuthenticationURL is returned when serving HTTP without authentication_url.
	ErrMissingAuthenticationURL = errors.New("authentication_url is required to serve the OAuth endpoints")
)

// Redis holds the redis connection settings used when store is "redis".
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Config is the complete server configuration.
type Config struct {
	WorkspaceURL      string `mapstructure:"workspace-url"`
	AuthenticationURL string `mapstructure:"authentication_url"`
	Port              int    `mapstructure:"port"`
	MCPURL            string `mapstructure:"mcp_url"`
	// Token is used for workspace calls when neither the tool arguments nor
	// the request carry one.
	Token string `mapstructure:"token"`

	Issuer             string        `mapstructure:"issuer"`
	CodeTTL            time.Duration `mapstructure:"code_ttl"`
	TokenTTL           time.Duration `mapstructure:"token_ttl"`
	ContinuationSecret string        `mapstructure:"continuation_secret"`
	UpstreamTimeout    time.Duration `mapstructure:"upstream_timeout"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	GrantRetention     time.Duration `mapstructure:"grant_retention"`
	LoginRate          float64       `mapstructure:"login_rate"`
	LoginBurst         int           `mapstructure:"login_burst"`
	// TrustedProxies are the reverse proxies whose X-Forwarded-For is used
	// to find the client address. Empty trusts none.
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	Store string `mapstructure:"store"`
	Redis Redis  `mapstructure:"redis"`

	LogLevel         string `mapstructure:"log_level"`
	MaxDownloadBytes int64  `mapstructure:"max_download_bytes"`
	// AdminTools exposes list_oauth_clients over HTTP.
	AdminTools bool `mapstructure:"admin_tools"`
}

// New returns a viper instance with defaults and environment binding set.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyWorkspaceURL, "")
	v.SetDefault(KeyAuthenticationURL, "")
	v.SetDefault(KeyPort, 5000)
	v.SetDefault(KeyMCPURL, "127.0.0.1")
	v.SetDefault(KeyToken, "")
	v.SetDefault(KeyIssuer, "")
	v.SetDefault(KeyCodeTTL, "120s")
	v.SetDefault(KeyTokenTTL, "1h")
	v.SetDefault(KeyContinuationSecret, "")
	v.SetDefault(KeyUpstreamTimeout, "10s")
	v.SetDefault(KeySweepInterval, "1m")
	v.SetDefault(KeyGrantRetention, "5m")
	v.SetDefault(KeyAdminTools, false)
	v.SetDefault(KeyLoginRate, 5.0)
	v.SetDefault(KeyLoginBurst, 10)
	v.SetDefault(KeyTrustedProxies, []string{})
	v.SetDefault(KeyStore, string(store.StoreTypeMemory))
	v.SetDefault(KeyRedisAddr, "localhost:6379")
	v.SetDefault(KeyRedisPassword, "")
	v.SetDefault(KeyRedisDB, 0)
	v.SetDefault(KeyLogLevel, "")
	v.SetDefault(KeyMaxDownloadBytes, 10<<20)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path into v and decodes the result. An empty path looks for
// config.json in the working directory and carries on without it.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.WorkspaceURL = strings.TrimSpace(cfg.WorkspaceURL)
	cfg.AuthenticationURL = strings.TrimSpace(cfg.AuthenticationURL)
	return &cfg, nil
}

// Validate checks the settings shared by both transports.
func (c *Config) Validate() error {
	if c.WorkspaceURL == "" {
		return ErrMissingWorkspaceURL
	}
	if err := checkURL(KeyWorkspaceURL, c.WorkspaceURL); err != nil {
		return err
	}
	if c.MaxDownloadBytes <= 0 {
		return fmt.Errorf("%s must be positive", KeyMaxDownloadBytes)
	}
	return nil
}

// ValidateServe checks the settings the HTTP server needs on top of Validate.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.AuthenticationURL == "" {
		return ErrMissingAuthenticationURL
	}
	if err := checkURL(KeyAuthenticationURL, c.AuthenticationURL); err != nil {
		return err
	}
	if c.Issuer != "" {
		if err := checkURL(KeyIssuer, c.Issuer); err != nil {
			return err
		}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%s %d out of range", KeyPort, c.Port)
	}
	if c.CodeTTL <= 0 || c.TokenTTL <= 0 || c.UpstreamTimeout <= 0 {
		return fmt.Errorf("%s, %s and %s must be positive", KeyCodeTTL, KeyTokenTTL, KeyUpstreamTimeout)
	}
	if c.GrantRetention < 0 {
		return fmt.Errorf("%s must not be negative", KeyGrantRetention)
	}
	if c.LoginRate <= 0 || c.LoginBurst <= 0 {
		return fmt.Errorf("%s and %s must be positive", KeyLoginRate, KeyLoginBurst)
	}
	for _, p := range c.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return fmt.Errorf("invalid %s entry %q", KeyTrustedProxies, p)
			}
		}
	}
	if !store.StoreType(strings.ToLower(c.Store)).IsValid() {
		return fmt.Errorf("unsupported %s %q", KeyStore, c.Store)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.MCPURL, strconv.Itoa(c.Port))
}

// IssuerURL returns the configured issuer, or one derived from the listen
// address.
func (c *Config) IssuerURL() string {
	if c.Issuer != "" {
		return strings.TrimRight(c.Issuer, "/")
	}
	return "http://" + c.Addr()
}

// StoreConfig converts the store settings for store.NewStore.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Type:      store.ParseStoreType(c.Store),
		Retention: c.GrantRetention,
		Redis: store.RedisOptions{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		},
	}
}

func checkURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("invalid %s %q: must be an absolute http(s) URL", key, raw)
	}
	return nil
}
