package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-training/workspace-mcp/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `{"workspace-url": "https://p3.example.org/services/Workspace"}`)

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "https://p3.example.org/services/Workspace", cfg.WorkspaceURL)
	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, "127.0.0.1", cfg.MCPURL)
	assert.Equal(t, 120*time.Second, cfg.CodeTTL)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, 10*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 5.0, cfg.LoginRate)
	assert.Equal(t, 10, cfg.LoginBurst)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, int64(10<<20), cfg.MaxDownloadBytes)
	assert.Equal(t, 5*time.Minute, cfg.GrantRetention)
	assert.Empty(t, cfg.TrustedProxies)
	assert.False(t, cfg.AdminTools)
	assert.Equal(t, "127.0.0.1:5000", cfg.Addr())
	assert.Equal(t, "http://127.0.0.1:5000", cfg.IssuerURL())
	assert.NoError(t, cfg.Validate())
	assert.ErrorIs(t, cfg.ValidateServe(), ErrMissingAuthenticationURL)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `{
		"workspace-url": "https://p3.example.org/services/Workspace",
		"authentication_url": "https://user.example.org/authenticate",
		"port": 8057,
		"mcp_url": "0.0.0.0",
		"token": "un=svc|sig=x",
		"issuer": "https://mcp.example.org/",
		"code_ttl": "60s",
		"store": "redis",
		"redis": {"addr": "redis:6379", "db": 2},
		"grant_retention": "2m",
		"trusted_proxies": ["10.0.0.1", "172.16.0.0/12"],
		"admin_tools": true
	}`)

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateServe())

	assert.Equal(t, 8057, cfg.Port)
	assert.Equal(t, "0.0.0.0:8057", cfg.Addr())
	assert.Equal(t, "un=svc|sig=x", cfg.Token)
	assert.Equal(t, "https://mcp.example.org", cfg.IssuerURL())
	assert.Equal(t, time.Minute, cfg.CodeTTL)

	sc := cfg.StoreConfig()
	assert.Equal(t, store.StoreTypeRedis, sc.Type)
	assert.Equal(t, "redis:6379", sc.Redis.Addr)
	assert.Equal(t, 2, sc.Redis.DB)
	assert.Equal(t, 2*time.Minute, sc.Retention)
	assert.Equal(t, []string{"10.0.0.1", "172.16.0.0/12"}, cfg.TrustedProxies)
	assert.True(t, cfg.AdminTools)
}

func TestLoad_Env(t *testing.T) {
	path := writeConfig(t, `{"workspace-url": "https://p3.example.org/services/Workspace", "port": 8057}`)
	t.Setenv("WORKSPACE_MCP_PORT", "9000")
	t.Setenv("WORKSPACE_MCP_WORKSPACE_URL", "https://other.example.org/Workspace")
	t.Setenv("WORKSPACE_MCP_REDIS_ADDR", "cache:6380")
	t.Setenv("WORKSPACE_MCP_CODE_TTL", "90s")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "https://other.example.org/Workspace", cfg.WorkspaceURL)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, 90*time.Second, cfg.CodeTTL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			WorkspaceURL:      "https://p3.example.org/services/Workspace",
			AuthenticationURL: "https://user.example.org/authenticate",
			Port:              5000,
			CodeTTL:           time.Minute,
			TokenTTL:          time.Hour,
			UpstreamTimeout:   time.Second,
			LoginRate:         5,
			LoginBurst:        10,
			Store:             "memory",
			MaxDownloadBytes:  1,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"redis store", func(c *Config) { c.Store = "Redis" }, true},
		{"no workspace url", func(c *Config) { c.WorkspaceURL = "" }, false},
		{"relative workspace url", func(c *Config) { c.WorkspaceURL = "/Workspace" }, false},
		{"bad auth url", func(c *Config) { c.AuthenticationURL = "ftp://x" }, false},
		{"bad issuer", func(c *Config) { c.Issuer = "not a url" }, false},
		{"port", func(c *Config) { c.Port = 70000 }, false},
		{"code ttl", func(c *Config) { c.CodeTTL = 0 }, false},
		{"login rate", func(c *Config) { c.LoginRate = 0 }, false},
		{"store", func(c *Config) { c.Store = "etcd" }, false},
		{"download limit", func(c *Config) { c.MaxDownloadBytes = 0 }, false},
		{"negative retention", func(c *Config) { c.GrantRetention = -time.Second }, false},
		{"trusted proxies", func(c *Config) { c.TrustedProxies = []string{"10.0.0.1", "192.168.0.0/16"} }, true},
		{"bad trusted proxy", func(c *Config) { c.TrustedProxies = []string{"proxy.local"} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.ValidateServe()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
