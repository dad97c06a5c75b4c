package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"pricewatcher/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	RateFeed  RateFeedConfig  `mapstructure:"ratefeed"`
	Chainlink ChainlinkConfig `mapstructure:"chainlink"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Server    ServerConfig    `mapstructure:"server"`
	Swap      SwapConfig      `mapstructure:"swap"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs sampling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// RateFeedConfig selects and parameterises the spot price source.
type RateFeedConfig struct {
	Source              string        `mapstructure:"source"`
	BaseURL             string        `mapstructure:"base_url"`
	APIKey              string        `mapstructure:"api_key"`
	QuoteCurrency       string        `mapstructure:"quote_currency"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	Chains              []string      `mapstructure:"chains"`
	RecordZeroOnFailure bool          `mapstructure:"record_zero_on_failure"`
}

// ChainlinkConfig covers the on-chain aggregator source.
type ChainlinkConfig struct {
	RPCURL         string            `mapstructure:"rpc_url"`
	Feeds          map[string]string `mapstructure:"feeds"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// CacheConfig parameterises the optional redis spot-price cache.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// AlertingConfig defines alert thresholds and mail routing.
type AlertingConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	MovementThresholdPct float64       `mapstructure:"movement_threshold_pct"`
	MovementWindow       time.Duration `mapstructure:"movement_window"`
	ReceiverEmail        string        `mapstructure:"receiver_email"`
	SMTP                 SMTPConfig    `mapstructure:"smtp"`
}

// SMTPConfig carries mail transport credentials.
type SMTPConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ServerConfig tunes the HTTP API.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Listen          string        `mapstructure:"listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SwapConfig parameterises the eth-to-btc quote endpoint.
type SwapConfig struct {
	FeePct float64 `mapstructure:"fee_pct"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricewatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// The upstream cron trigger this replaces was malformed; the cadence is an
	// explicit interval here.
	v.SetDefault("scheduler.interval", "60s")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70726377))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("ratefeed.source", "coingecko")
	v.SetDefault("ratefeed.base_url", "https://pro-api.coingecko.com/api/v3")
	v.SetDefault("ratefeed.quote_currency", "usd")
	v.SetDefault("ratefeed.request_timeout", "10s")
	v.SetDefault("ratefeed.chains", []string{"ethereum", "polygon"})
	v.SetDefault("ratefeed.record_zero_on_failure", false)

	v.SetDefault("chainlink.request_timeout", "10s")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", "30s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.movement_threshold_pct", 3.0)
	v.SetDefault("alerting.movement_window", "1h")
	v.SetDefault("alerting.smtp.port", 587)
	v.SetDefault("alerting.smtp.timeout", "10s")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("swap.fee_pct", 3.0)

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if len(c.RateFeed.Chains) == 0 {
		return fmt.Errorf("ratefeed.chains must name at least one chain")
	}
	switch c.RateFeed.Source {
	case "coingecko":
	case "chainlink":
		if c.Chainlink.RPCURL == "" {
			return fmt.Errorf("chainlink.rpc_url is required when ratefeed.source is chainlink")
		}
	default:
		return fmt.Errorf("ratefeed.source must be coingecko or chainlink, got %q", c.RateFeed.Source)
	}
	if c.Alerting.MovementThresholdPct < 0 {
		return fmt.Errorf("alerting.movement_threshold_pct cannot be negative")
	}
	if c.Alerting.MovementWindow <= 0 {
		return fmt.Errorf("alerting.movement_window must be greater than zero")
	}
	if c.Alerting.Enabled {
		if c.Alerting.SMTP.Host == "" {
			return fmt.Errorf("alerting.smtp.host is required when alerting is enabled")
		}
		if c.Alerting.ReceiverEmail == "" {
			return fmt.Errorf("alerting.receiver_email is required when alerting is enabled")
		}
	}
	if c.Swap.FeePct < 0 || c.Swap.FeePct >= 100 {
		return fmt.Errorf("swap.fee_pct must be within [0, 100)")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
