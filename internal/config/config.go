// Package config loads the server configuration: a YAML file layered over
// defaults, then .env and process environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/rl1809/cart-sync/internal/core/pricing"
)

type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	PoolSize   int           `yaml:"pool_size"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type CatalogConfig struct {
	URL          string        `yaml:"url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

type OrdersConfig struct {
	Endpoint            string        `yaml:"endpoint"`
	CheckoutTimeout     time.Duration `yaml:"checkout_timeout"`
	SubscriptionTimeout time.Duration `yaml:"subscription_timeout"`
	LeadTimeout         time.Duration `yaml:"lead_timeout"`
	QueueSize           int           `yaml:"queue_size"`
	Workers             int           `yaml:"workers"`
}

type PostalConfig struct {
	BaseURL string        `yaml:"base_url"`
	Country string        `yaml:"country"`
	Timeout time.Duration `yaml:"timeout"`
}

type WorkspaceConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// AdminConfig guards the catalog admin routes; they stay unmounted without a token.
type AdminConfig struct {
	Token string `yaml:"token"`
}

type Config struct {
	HTTPAddr    string              `yaml:"http_addr"`
	GRPCAddr    string              `yaml:"grpc_addr"`
	LogLevel    string              `yaml:"log_level"`
	Development bool                `yaml:"development"`
	Redis       RedisConfig         `yaml:"redis"`
	MySQL       MySQLConfig         `yaml:"mysql"`
	Catalog     CatalogConfig       `yaml:"catalog"`
	Orders      OrdersConfig        `yaml:"orders"`
	Postal      PostalConfig        `yaml:"postal"`
	Workspace   WorkspaceConfig     `yaml:"workspace"`
	Admin       AdminConfig         `yaml:"admin"`
	Frequencies []pricing.Frequency `yaml:"frequencies"`
}

func Default() *Config {
	return &Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":50051",
		LogLevel: "info",
		Redis: RedisConfig{
			PoolSize:   100,
			SessionTTL: 30 * 24 * time.Hour,
		},
		MySQL: MySQLConfig{
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Catalog: CatalogConfig{
			PollInterval: 60 * time.Second,
			Timeout:      10 * time.Second,
		},
		Orders: OrdersConfig{
			CheckoutTimeout:     12 * time.Second,
			SubscriptionTimeout: 12 * time.Second,
			LeadTimeout:         10 * time.Second,
			QueueSize:           1000,
			Workers:             4,
		},
		Postal: PostalConfig{
			BaseURL: "https://api.zippopotam.us",
			Country: "se",
			Timeout: 5 * time.Second,
		},
		Workspace: WorkspaceConfig{
			IdleTimeout:   30 * time.Minute,
			SweepInterval: time.Minute,
		},
	}
}

// Load builds the configuration. A missing file at path is not an error;
// an empty path skips the file entirely.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"REDIS_ADDR":     &c.Redis.Addr,
		"MYSQL_DSN":      &c.MySQL.DSN,
		"CATALOG_URL":    &c.Catalog.URL,
		"ORDER_ENDPOINT": &c.Orders.Endpoint,
		"HTTP_ADDR":      &c.HTTPAddr,
		"GRPC_ADDR":      &c.GRPCAddr,
		"LOG_LEVEL":      &c.LogLevel,
		"ADMIN_TOKEN":    &c.Admin.Token,
	}
	for name, target := range overrides {
		if v, ok := os.LookupEnv(name); ok {
			*target = strings.TrimSpace(v)
		}
	}
}

func (c *Config) normalize() {
	if len(c.Frequencies) == 0 {
		c.Frequencies = pricing.DefaultFrequencies
		return
	}
	freqs := make([]pricing.Frequency, 0, len(c.Frequencies))
	for _, f := range c.Frequencies {
		freqs = append(freqs, f.Normalize())
	}
	c.Frequencies = freqs
}

func (c *Config) Validate() error {
	if c.HTTPAddr == "" && c.GRPCAddr == "" {
		return errors.New("config: at least one of http_addr or grpc_addr is required")
	}
	if c.Catalog.PollInterval <= 0 {
		return fmt.Errorf("config: catalog.poll_interval must be positive, got %s", c.Catalog.PollInterval)
	}
	timeouts := map[string]time.Duration{
		"checkout_timeout":     c.Orders.CheckoutTimeout,
		"subscription_timeout": c.Orders.SubscriptionTimeout,
		"lead_timeout":         c.Orders.LeadTimeout,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("config: orders.%s must be positive, got %s", name, d)
		}
	}
	if c.Orders.Workers < 1 {
		return fmt.Errorf("config: orders.workers must be at least 1, got %d", c.Orders.Workers)
	}
	seen := make(map[string]bool, len(c.Frequencies))
	for _, f := range c.Frequencies {
		if f.ID == "" {
			return errors.New("config: frequency without id")
		}
		if seen[f.ID] {
			return fmt.Errorf("config: duplicate frequency %q", f.ID)
		}
		seen[f.ID] = true
	}
	return nil
}

// NewLogger builds the process logger at the configured level.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("config: log_level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
