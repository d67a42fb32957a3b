// Package config loads the server configuration from a YAML file, COMPUTEX_*
// environment variables and built-in defaults, in that order of precedence
// from last to first.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"computex/internal/common"
	"computex/internal/exchange"
	"computex/internal/fees"
	"computex/internal/safety"

	"github.com/holiman/uint256"
	"github.com/spf13/viper"
)

const envPrefix = "COMPUTEX"

type Breaker struct {
	PriceChangeThresholdBps uint64        `mapstructure:"price_change_threshold_bps"`
	VolumeThreshold         string        `mapstructure:"volume_threshold"` // Resource units
	Cooldown                time.Duration `mapstructure:"cooldown"`
}

type Feed struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
}

type Metrics struct {
	Address string `mapstructure:"address"` // Empty disables the endpoint
}

type Kafka struct {
	Brokers []string `mapstructure:"brokers"` // Empty disables publishing
	Topic   string   `mapstructure:"topic"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type Config struct {
	Operator               string        `mapstructure:"operator"`
	FeeCollector           string        `mapstructure:"fee_collector"`
	PoolAccount            string        `mapstructure:"pool_account"`
	DefaultPoolFeeBps      uint64        `mapstructure:"default_pool_fee_bps"`
	MakerFeeBps            uint64        `mapstructure:"maker_fee_bps"`
	TakerFeeBps            uint64        `mapstructure:"taker_fee_bps"`
	MarketOrderTTL         time.Duration `mapstructure:"market_order_ttl"`
	MarketOrderSlippageBps uint64        `mapstructure:"market_order_slippage_bps"`
	InboxSize              int           `mapstructure:"inbox_size"`

	Breaker Breaker `mapstructure:"breaker"`
	Feed    Feed    `mapstructure:"feed"`
	Metrics Metrics `mapstructure:"metrics"`
	Kafka   Kafka   `mapstructure:"kafka"`
	Log     Log     `mapstructure:"log"`

	// Token balances, in whole tokens, to seed the in-memory ledger with.
	Genesis map[string]string `mapstructure:"genesis"`
}

func setDefaults(v *viper.Viper) {
	def := exchange.DefaultConfig()
	v.SetDefault("operator", string(def.Operator))
	v.SetDefault("fee_collector", string(def.FeeCollector))
	v.SetDefault("pool_account", string(def.PoolAccount))
	v.SetDefault("default_pool_fee_bps", def.DefaultPoolFeeBps)
	v.SetDefault("maker_fee_bps", def.Fees.MakerBps)
	v.SetDefault("taker_fee_bps", def.Fees.TakerBps)
	v.SetDefault("market_order_ttl", def.MarketOrderTTL)
	v.SetDefault("market_order_slippage_bps", def.MarketOrderSlippageBps)
	v.SetDefault("inbox_size", def.InboxSize)

	v.SetDefault("breaker.price_change_threshold_bps", def.Breaker.PriceChangeThresholdBps)
	v.SetDefault("breaker.volume_threshold", "0")
	v.SetDefault("breaker.cooldown", def.Breaker.Cooldown)

	v.SetDefault("feed.address", "0.0.0.0")
	v.SetDefault("feed.port", 9001)
	v.SetDefault("metrics.address", ":9100")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "computex.events")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads path if given, otherwise a config.yaml in the working directory
// when one exists.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load for binaries, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic("couldn't load configuration, cannot start: " + err.Error())
	}
	return cfg
}

func (c *Config) Validate() error {
	ex, err := c.Exchange()
	if err != nil {
		return err
	}
	if err := ex.Validate(); err != nil {
		return err
	}
	if c.Feed.Port < 0 || c.Feed.Port > 65535 {
		return fmt.Errorf("%w: feed port %d", common.ErrInvalidArgument, c.Feed.Port)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("%w: kafka topic is required with brokers", common.ErrInvalidArgument)
	}
	_, err = c.GenesisBalances()
	return err
}

// Exchange maps the file settings onto the engine configuration.
func (c *Config) Exchange() (exchange.Config, error) {
	volume := common.Zero()
	if s := strings.TrimSpace(c.Breaker.VolumeThreshold); s != "" {
		var err error
		if volume, err = uint256.FromDecimal(s); err != nil {
			return exchange.Config{}, fmt.Errorf("%w: breaker volume threshold %q: %v",
				common.ErrInvalidArgument, s, err)
		}
	}

	return exchange.Config{
		Operator:               common.Account(c.Operator),
		FeeCollector:           common.Account(c.FeeCollector),
		PoolAccount:            common.Account(c.PoolAccount),
		DefaultPoolFeeBps:      c.DefaultPoolFeeBps,
		Fees:                   fees.Schedule{MakerBps: c.MakerFeeBps, TakerBps: c.TakerFeeBps},
		MarketOrderTTL:         c.MarketOrderTTL,
		MarketOrderSlippageBps: c.MarketOrderSlippageBps,
		InboxSize:              c.InboxSize,
		Breaker: safety.CircuitBreaker{
			PriceChangeThresholdBps: c.Breaker.PriceChangeThresholdBps,
			VolumeThreshold:         volume,
			Cooldown:                c.Breaker.Cooldown,
		},
	}, nil
}

// GenesisBalances parses the genesis section into 18-decimal amounts.
func (c *Config) GenesisBalances() (map[common.Account]*uint256.Int, error) {
	out := make(map[common.Account]*uint256.Int, len(c.Genesis))
	for acct, s := range c.Genesis {
		amount, err := common.ParseUnits(s)
		if err != nil {
			return nil, fmt.Errorf("genesis balance of %s: %w", acct, err)
		}
		out[common.Account(acct)] = amount
	}
	return out, nil
}
