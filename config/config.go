package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/tcp-load-balancer/internal/backend"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	OverflowBlock = "block"
	OverflowDrop  = "drop"
)

type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	Environment string `mapstructure:"environment"`
	Workers     int    `mapstructure:"workers"`
}

type BackendsConfig struct {
	File string `mapstructure:"file"`
}

type DispatchConfig struct {
	QueueSize int    `mapstructure:"queue_size"`
	Overflow  string `mapstructure:"overflow"`
}

type UpstreamConfig struct {
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type PoolConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Prewarm bool `mapstructure:"prewarm"`
	Verify  bool `mapstructure:"verify"`
}

type BreakerConfig struct {
	Threshold    int           `mapstructure:"threshold"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

type RelayConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Backends BackendsConfig `mapstructure:"backends"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// Load builds the configuration from defaults, an optional config.yaml,
// environment variables and the command-line args, in increasing order of
// precedence. It returns pflag.ErrHelp when args ask for usage.
func Load(args []string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.workers", 4)
	v.SetDefault("backends.file", "hosts.txt")
	v.SetDefault("dispatch.queue_size", 100)
	v.SetDefault("dispatch.overflow", OverflowBlock)
	v.SetDefault("upstream.dial_timeout", "0s")
	v.SetDefault("pool.enabled", true)
	v.SetDefault("pool.prewarm", false)
	v.SetDefault("pool.verify", false)
	v.SetDefault("breaker.threshold", 0)
	v.SetDefault("breaker.reset_timeout", "30s")
	v.SetDefault("relay.buffer_size", 32*1024)
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.file", "load_balancer.log")
	v.SetDefault("metrics.address", "")

	flags := newFlagSet()
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	for key, name := range map[string]string{
		"server.port":    "port",
		"backends.file":  "hosts",
		"server.workers": "workers",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	file, _ := flags.GetString("config")
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Debug("config file not found, using defaults, environment variables and flags")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("load-balancer", pflag.ContinueOnError)
	flags.IntP("port", "p", 8080, "port to listen on")
	flags.StringP("hosts", "h", "hosts.txt", "file with one backend host:port per line")
	flags.IntP("workers", "w", 4, "number of worker threads")
	flags.StringP("config", "c", "", "path to a config file")
	return flags
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.Backends),
		validation.Field(&c.Dispatch),
		validation.Field(&c.Upstream),
		validation.Field(&c.Breaker),
		validation.Field(&c.Relay),
		validation.Field(&c.Logging),
		validation.Field(&c.Metrics),
	)
}

func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&s.Environment,
			validation.Required,
			validation.In(EnvDev, EnvStaging, EnvProd),
		),
		validation.Field(&s.Workers, validation.Required, validation.Min(1)),
	)
}

func (b BackendsConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.File, validation.Required),
	)
}

func (d DispatchConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.QueueSize, validation.Required, validation.Min(1)),
		validation.Field(&d.Overflow,
			validation.Required,
			validation.In(OverflowBlock, OverflowDrop),
		),
	)
}

func (u UpstreamConfig) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.DialTimeout, validation.Min(time.Duration(0))),
	)
}

func (b BreakerConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Threshold, validation.Min(0)),
		validation.Field(&b.ResetTimeout,
			validation.When(b.Threshold > 0, validation.Required, validation.Min(time.Millisecond)),
		),
	)
}

func (r RelayConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.BufferSize, validation.Required, validation.Min(512)),
	)
}

func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level,
			validation.Required,
			validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
		),
		validation.Field(&l.File, validation.Required),
	)
}

func (m MetricsConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Address, validation.When(m.Address != "", validation.By(validateListenAddress))),
	)
}

func validateListenAddress(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	return backend.ValidateListenAddress(addr)
}
