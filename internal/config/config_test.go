package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, ":9091", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "sandbox", cfg.SMS.Username)
	assert.Equal(t, 10*time.Second, cfg.SMS.Timeout)
	// no auth configured yet
	assert.Error(t, cfg.Validate())
}

func TestLoad_EnvAndFlags(t *testing.T) {
	t.Setenv("ORDERSMS_HTTP__ADDR", ":8000")
	t.Setenv("ORDERSMS_HTTP__ALLOWED_HOSTS", "api.example.test, localhost")
	t.Setenv("ORDERSMS_STORAGE__DRIVER", "bolt")
	t.Setenv("ORDERSMS_STORAGE__DSN", "from-env.db")
	t.Setenv("ORDERSMS_AUTH__STATIC_TOKENS", "t1,t2")
	t.Setenv("ORDERSMS_SMS__API_KEY", "key")
	t.Setenv("ORDERSMS_SMS__TIMEOUT", "3s")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--storage.dsn=from-flag.db"}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.HTTP.Addr, "unchanged flag must not override env")
	assert.Equal(t, []string{"api.example.test", "localhost"}, cfg.HTTP.AllowedHosts)
	assert.Equal(t, "bolt", cfg.Storage.Driver)
	assert.Equal(t, "from-flag.db", cfg.Storage.DSN)
	assert.Equal(t, []string{"t1", "t2"}, cfg.Auth.StaticTokens)
	assert.Equal(t, "key", cfg.SMS.APIKey)
	assert.Equal(t, 3*time.Second, cfg.SMS.Timeout)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Auth.StaticTokens = []string{"t"}
	require.NoError(t, valid.Validate())

	cases := map[string]func(*Config){
		"unknown driver":   func(c *Config) { c.Storage.Driver = "postgres" },
		"empty dsn":        func(c *Config) { c.Storage.DSN = "" },
		"no auth":          func(c *Config) { c.Auth.StaticTokens = nil },
		"issuer no aud":    func(c *Config) { c.Auth.OIDCIssuer = "https://id.example.test" },
		"shutdown timeout": func(c *Config) { c.HTTP.ShutdownTimeout = 0 },
		"sms timeout":      func(c *Config) { c.SMS.Timeout = -time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			cfg.Auth.StaticTokens = []string{"t"}
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	mem := valid
	mem.Storage = Storage{Driver: "memory"}
	assert.NoError(t, mem.Validate())
}
