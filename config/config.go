/*
config.go - Server configuration

SOURCES (later wins):
  1. Defaults below
  2. Optional YAML file (-config flag or CO2_CONFIG)
  3. Environment variables with the CO2_ prefix, nested keys joined by "_"
     e.g. CO2_HTTP_ADDR, CO2_TANK_CAPACITY, CO2_REDIS_ADDR

A .env file in the working directory is loaded into the environment first
by cmd/server, so it behaves like any other CO2_ variable.
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/warp/co2-ledger/ledger"
)

type Config struct {
	App struct {
		Env      string
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"app"`

	HTTP struct {
		Addr            string
		AllowedOrigins  []string      `mapstructure:"allowed_origins"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		EnableScenarios bool          `mapstructure:"enable_scenarios"`
	} `mapstructure:"http"`

	DB struct {
		Path string
	} `mapstructure:"db"`

	// Redis is optional. With an empty address the server uses the
	// in-process tank lock.
	Redis struct {
		Addr    string
		LockTTL time.Duration `mapstructure:"lock_ttl"`
	} `mapstructure:"redis"`

	Tank struct {
		ID               string
		Name             string
		Capacity         string
		MinimumThreshold string `mapstructure:"minimum_threshold"`
		InitialLevel     string `mapstructure:"initial_level"`
		DebitFillings    bool   `mapstructure:"debit_fillings"`
	} `mapstructure:"tank"`

	Shrinkage struct {
		Filling string
		Tank    string
	} `mapstructure:"shrinkage"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	// Reconcile.Interval of zero turns the background check off.
	Reconcile struct {
		Interval time.Duration
	} `mapstructure:"reconcile"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("http.shutdown_timeout", 30*time.Second)
	v.SetDefault("http.enable_scenarios", false)
	v.SetDefault("db.path", "co2.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.lock_ttl", 30*time.Second)
	v.SetDefault("tank.id", string(ledger.DefaultTankID))
	v.SetDefault("tank.name", "Main CO2 tank")
	v.SetDefault("tank.capacity", "1000")
	v.SetDefault("tank.minimum_threshold", "20")
	v.SetDefault("tank.initial_level", "0")
	v.SetDefault("tank.debit_fillings", true)
	v.SetDefault("shrinkage.filling", ledger.DefaultFillingShrinkage.String())
	v.SetDefault("shrinkage.tank", ledger.DefaultTankShrinkage.String())
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("reconcile.interval", time.Hour)
}

// Load reads configuration. path may be empty.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CO2")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c Config) validate() error {
	var errs []error
	for key, s := range map[string]string{
		"tank.capacity":          c.Tank.Capacity,
		"tank.minimum_threshold": c.Tank.MinimumThreshold,
		"tank.initial_level":     c.Tank.InitialLevel,
		"shrinkage.filling":      c.Shrinkage.Filling,
		"shrinkage.tank":         c.Shrinkage.Tank,
	} {
		d, err := decimal.NewFromString(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a number", key, s))
			continue
		}
		if d.IsNegative() {
			errs = append(errs, fmt.Errorf("%s: must not be negative", key))
		}
	}
	if c.Reconcile.Interval < 0 {
		errs = append(errs, errors.New("reconcile.interval: must not be negative"))
	}
	if c.DB.Path == "" {
		errs = append(errs, errors.New("db.path: required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	capacity := decimal.RequireFromString(c.Tank.Capacity)
	if !capacity.IsPositive() {
		return errors.New("tank.capacity: must be positive")
	}
	if decimal.RequireFromString(c.Tank.InitialLevel).GreaterThan(capacity) {
		return errors.New("tank.initial_level: exceeds capacity")
	}
	return nil
}

// TankConfig returns the seed for ledger.TankLedger.EnsureTank.
func (c Config) TankConfig() ledger.TankConfig {
	return ledger.TankConfig{
		Name:             c.Tank.Name,
		Capacity:         decimal.RequireFromString(c.Tank.Capacity),
		MinimumThreshold: decimal.RequireFromString(c.Tank.MinimumThreshold),
		InitialLevel:     decimal.RequireFromString(c.Tank.InitialLevel),
	}
}

func (c Config) Rates() ledger.Rates {
	return ledger.Rates{
		Filling: decimal.RequireFromString(c.Shrinkage.Filling),
		Tank:    decimal.RequireFromString(c.Shrinkage.Tank),
	}
}
