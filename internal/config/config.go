// Package config загружает настройки сервиса: значения по умолчанию,
// затем переменные окружения ORDERSMS_*, затем явно заданные флаги.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"ordersms/internal/repository"
)

const EnvPrefix = "ORDERSMS_"

type HTTP struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	AllowedHosts    []string      `koanf:"allowed_hosts"`
}

type Storage struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type Auth struct {
	OIDCIssuer   string   `koanf:"oidc_issuer"`
	OIDCAudience string   `koanf:"oidc_audience"`
	StaticTokens []string `koanf:"static_tokens"`
}

type SMS struct {
	URL      string        `koanf:"url"`
	APIKey   string        `koanf:"api_key"`
	Username string        `koanf:"username"`
	SenderID string        `koanf:"sender_id"`
	Timeout  time.Duration `koanf:"timeout"`
}

type Config struct {
	HTTP    HTTP    `koanf:"http"`
	Storage Storage `koanf:"storage"`
	Log     Log     `koanf:"log"`
	Auth    Auth    `koanf:"auth"`
	SMS     SMS     `koanf:"sms"`
}

func Default() Config {
	return Config{
		HTTP: HTTP{Addr: ":9091", ShutdownTimeout: 5 * time.Second},
		Storage: Storage{
			Driver: repository.DriverSQLite,
			DSN:    "file:ordersms.db?_foreign_keys=on&_busy_timeout=5000",
		},
		Log: Log{Level: "info", Format: "json"},
		SMS: SMS{Username: "sandbox", Timeout: 10 * time.Second},
	}
}

// list-valued keys accept comma-separated environment values
var listKeys = map[string]bool{
	"http.allowed_hosts": true,
	"auth.static_tokens": true,
}

// RegisterFlags объявляет флаги, перекрывающие окружение. Имя флага совпадает с ключом.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("http.addr", d.HTTP.Addr, "listen address")
	fs.String("storage.driver", d.Storage.Driver, "storage driver: sqlite, bolt or memory")
	fs.String("storage.dsn", d.Storage.DSN, "storage DSN or file path")
	fs.String("log.level", d.Log.Level, "log level: debug, info, warn, error")
	fs.String("log.format", d.Log.Format, "log format: json or console")
}

// Load собирает Config; flags может быть nil
func Load(flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, fmt.Errorf("load flags: %w", err)
		}
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// envKey: ORDERSMS_SMS__API_KEY -> sms.api_key
func envKey(name, value string) (string, any) {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if listKeys[key] {
		var items []string
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				items = append(items, v)
			}
		}
		return key, items
	}
	return key, value
}

func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case repository.DriverSQLite, repository.DriverBolt, repository.DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Storage.Driver != repository.DriverMemory && c.Storage.DSN == "" {
		errs = append(errs, errors.New("storage.dsn: required"))
	}
	if c.Auth.OIDCIssuer == "" && len(c.Auth.StaticTokens) == 0 {
		errs = append(errs, errors.New("auth: configure auth.oidc_issuer or auth.static_tokens"))
	}
	if c.Auth.OIDCIssuer != "" && c.Auth.OIDCAudience == "" {
		errs = append(errs, errors.New("auth.oidc_audience: required with auth.oidc_issuer"))
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("http.shutdown_timeout: must be positive"))
	}
	if c.SMS.Timeout <= 0 {
		errs = append(errs, errors.New("sms.timeout: must be positive"))
	}
	if c.SMS.URL != "" && c.SMS.Username == "" {
		errs = append(errs, errors.New("sms.username: required with sms.url"))
	}
	return errors.Join(errs...)
}
