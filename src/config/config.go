package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"stock-exchange/src/engine"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	LogFile   string `mapstructure:"LOG_FILE"`

	Symbols         []string `mapstructure:"SYMBOLS"`
	SelfTradePolicy string   `mapstructure:"SELF_TRADE_POLICY"`
	InvariantChecks bool     `mapstructure:"INVARIANT_CHECKS"`
	TradeFeedBuffer int      `mapstructure:"TRADE_FEED_BUFFER"`

	RateLimitDisabled      bool          `mapstructure:"RATE_LIMIT_DISABLED"`
	RateLimitMax           int           `mapstructure:"RATE_LIMIT_MAX"`
	RateLimitWindow        time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`
	MaxConcurrentRequests  int64         `mapstructure:"MAX_CONCURRENT_REQUESTS"`
	MaintenanceMode        bool          `mapstructure:"MAINTENANCE_MODE"`
	RequestLoggingDisabled bool          `mapstructure:"REQUEST_LOGGING_DISABLED"`

	OrderBookDefaultDepth int `mapstructure:"ORDERBOOK_DEFAULT_DEPTH"`
	OrderBookMaxDepth     int `mapstructure:"ORDERBOOK_MAX_DEPTH"`
	MetricsMaxLatencies   int `mapstructure:"METRICS_MAX_LATENCIES"`

	PublisherDriver string   `mapstructure:"PUBLISHER_DRIVER"` // none, kafka, sarama
	KafkaBrokers    []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic      string   `mapstructure:"KAFKA_TOPIC"`
	EventFormat     string   `mapstructure:"EVENT_FORMAT"` // json, proto
	JournalDir      string   `mapstructure:"JOURNAL_DIR"`
	RedisAddr       string   `mapstructure:"REDIS_ADDR"`
}

var keys = []string{
	"PORT", "SHUTDOWN_TIMEOUT",
	"LOG_LEVEL", "LOG_FORMAT", "LOG_FILE",
	"SYMBOLS", "SELF_TRADE_POLICY", "INVARIANT_CHECKS", "TRADE_FEED_BUFFER",
	"RATE_LIMIT_DISABLED", "RATE_LIMIT_MAX", "RATE_LIMIT_WINDOW",
	"MAX_CONCURRENT_REQUESTS", "MAINTENANCE_MODE", "REQUEST_LOGGING_DISABLED",
	"ORDERBOOK_DEFAULT_DEPTH", "ORDERBOOK_MAX_DEPTH", "METRICS_MAX_LATENCIES",
	"PUBLISHER_DRIVER", "KAFKA_BROKERS", "KAFKA_TOPIC", "EVENT_FORMAT",
	"JOURNAL_DIR", "REDIS_ADDR",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", 10*time.Second)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("SYMBOLS", []string{"AAPL", "MSFT", "GOOG", "AMZN", "TSLA"})
	v.SetDefault("SELF_TRADE_POLICY", string(engine.SelfTradeAllow))
	v.SetDefault("INVARIANT_CHECKS", false)
	v.SetDefault("TRADE_FEED_BUFFER", 4096)
	v.SetDefault("RATE_LIMIT_DISABLED", false)
	v.SetDefault("RATE_LIMIT_MAX", 100)
	v.SetDefault("RATE_LIMIT_WINDOW", time.Second)
	v.SetDefault("MAX_CONCURRENT_REQUESTS", 0)
	v.SetDefault("MAINTENANCE_MODE", false)
	v.SetDefault("REQUEST_LOGGING_DISABLED", false)
	v.SetDefault("ORDERBOOK_DEFAULT_DEPTH", 10)
	v.SetDefault("ORDERBOOK_MAX_DEPTH", 1000)
	v.SetDefault("METRICS_MAX_LATENCIES", 10000)
	v.SetDefault("PUBLISHER_DRIVER", "none")
	v.SetDefault("KAFKA_BROKERS", []string{"localhost:9092"})
	v.SetDefault("KAFKA_TOPIC", "trades")
	v.SetDefault("EVENT_FORMAT", "json")
	v.SetDefault("JOURNAL_DIR", "")
	v.SetDefault("REDIS_ADDR", "")
}

// Load reads defaults, then an optional config file (CONFIG_FILE or
// ./config.yaml), then environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Symbols = splitList(cfg.Symbols)
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitList flattens comma separated env values ("AAPL,MSFT") into items.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return errors.New("config: at least one symbol must be listed")
	}
	if _, err := engine.ParseSelfTradePolicy(c.SelfTradePolicy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.PublisherDriver {
	case "none", "kafka", "sarama":
	default:
		return fmt.Errorf("config: unknown publisher driver %q", c.PublisherDriver)
	}
	switch c.EventFormat {
	case "json", "proto":
	default:
		return fmt.Errorf("config: unknown event format %q", c.EventFormat)
	}
	if c.PublisherDriver != "none" && len(c.KafkaBrokers) == 0 {
		return errors.New("config: KAFKA_BROKERS required when a publisher driver is set")
	}
	if c.RateLimitMax <= 0 || c.RateLimitWindow <= 0 {
		return errors.New("config: rate limit max and window must be positive")
	}
	if c.OrderBookDefaultDepth <= 0 || c.OrderBookMaxDepth < c.OrderBookDefaultDepth {
		return errors.New("config: invalid order book depth limits")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("config: SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}
