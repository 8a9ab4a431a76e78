// Package config loads engine settings from an optional YAML file and the
// environment. Environment variables always win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// Config holds every tunable of the engine.
type Config struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	Season Season `yaml:"season"`
	Prices Prices `yaml:"prices"`
	Ledger Ledger `yaml:"ledger"`
	Feed   Feed   `yaml:"feed"`
	Auth   Auth   `yaml:"auth"`

	AdminGroup      string        `yaml:"admin_group"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	LeaderboardSize int           `yaml:"leaderboard_size"`
}

// Season identifies the active competition period.
type Season struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	StartingCash string `yaml:"starting_cash"`
}

// Prices tunes the price cache.
type Prices struct {
	Freshness    time.Duration `yaml:"freshness"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// Ledger tunes the optimistic commit retry loop.
type Ledger struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// Feed configures upstream market data.
type Feed struct {
	QuoteURL     string   `yaml:"quote_url"`
	APIKey       string   `yaml:"api_key"`
	NATSURL      string   `yaml:"nats_url"`
	NATSSubject  string   `yaml:"nats_subject"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	KafkaGroup   string   `yaml:"kafka_group"`
}

// Auth turns on bearer token signature checks. With neither key set the
// engine trusts claims already verified by the gateway.
type Auth struct {
	HMACSecret    string `yaml:"hmac_secret"`
	PublicKeyFile string `yaml:"public_key_file"` // PEM, RSA or ECDSA
	Issuer        string `yaml:"issuer"`
	Audience      string `yaml:"audience"`
}

// Verified reports whether a signing key is configured.
func (a Auth) Verified() bool {
	return a.HMACSecret != "" || a.PublicKeyFile != ""
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:     8080,
		LogLevel: "info",
		Season: Season{
			ID:           "season-1",
			Name:         "Season 1",
			StartingCash: "100000",
		},
		Prices: Prices{
			Freshness:    15 * time.Second,
			FetchTimeout: 2 * time.Second,
		},
		Ledger: Ledger{
			MaxAttempts:  5,
			InitialDelay: 20 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
		},
		Feed: Feed{
			NATSSubject: "prices.>",
			KafkaTopic:  "market.ticks",
			KafkaGroup:  "trade-engine",
		},
		AdminGroup:      "Admin",
		SweepInterval:   5 * time.Second,
		LeaderboardSize: 50,
	}
}

// Load reads path (if non-empty), then applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvAsInt("PORT", c.Port)
	c.LogLevel = getEnvAsString("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnvAsString("LOG_FILE", c.LogFile)
	c.DatabaseURL = getEnvAsString("DATABASE_URL", c.DatabaseURL)
	c.RedisURL = getEnvAsString("REDIS_URL", c.RedisURL)

	c.Season.ID = getEnvAsString("SEASON_ID", c.Season.ID)
	c.Season.Name = getEnvAsString("SEASON_NAME", c.Season.Name)
	c.Season.StartingCash = getEnvAsString("STARTING_CASH", c.Season.StartingCash)

	c.Prices.Freshness = getEnvAsDuration("PRICE_FRESHNESS", c.Prices.Freshness)
	c.Prices.FetchTimeout = getEnvAsDuration("PRICE_FETCH_TIMEOUT", c.Prices.FetchTimeout)

	c.Ledger.MaxAttempts = getEnvAsInt("LEDGER_MAX_ATTEMPTS", c.Ledger.MaxAttempts)
	c.Ledger.InitialDelay = getEnvAsDuration("LEDGER_INITIAL_DELAY", c.Ledger.InitialDelay)
	c.Ledger.MaxDelay = getEnvAsDuration("LEDGER_MAX_DELAY", c.Ledger.MaxDelay)

	c.Feed.QuoteURL = getEnvAsString("FEED_QUOTE_URL", c.Feed.QuoteURL)
	c.Feed.APIKey = getEnvAsString("FEED_API_KEY", c.Feed.APIKey)
	c.Feed.NATSURL = getEnvAsString("NATS_URL", c.Feed.NATSURL)
	c.Feed.NATSSubject = getEnvAsString("NATS_SUBJECT", c.Feed.NATSSubject)
	if brokers := getEnvAsString("KAFKA_BROKERS", ""); brokers != "" {
		c.Feed.KafkaBrokers = splitList(brokers)
	}
	c.Feed.KafkaTopic = getEnvAsString("KAFKA_TOPIC", c.Feed.KafkaTopic)
	c.Feed.KafkaGroup = getEnvAsString("KAFKA_GROUP", c.Feed.KafkaGroup)

	c.Auth.HMACSecret = getEnvAsString("AUTH_HMAC_SECRET", c.Auth.HMACSecret)
	c.Auth.PublicKeyFile = getEnvAsString("AUTH_PUBLIC_KEY_FILE", c.Auth.PublicKeyFile)
	c.Auth.Issuer = getEnvAsString("AUTH_ISSUER", c.Auth.Issuer)
	c.Auth.Audience = getEnvAsString("AUTH_AUDIENCE", c.Auth.Audience)

	c.AdminGroup = getEnvAsString("ADMIN_GROUP", c.AdminGroup)
	c.SweepInterval = getEnvAsDuration("SWEEP_INTERVAL", c.SweepInterval)
	c.LeaderboardSize = getEnvAsInt("LEADERBOARD_SIZE", c.LeaderboardSize)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Season.ID == "" {
		errs = append(errs, errors.New("season id is required"))
	}
	if cash, err := c.StartingCash(); err != nil || cash.IsNegative() {
		errs = append(errs, fmt.Errorf("starting cash %q must be a non-negative decimal", c.Season.StartingCash))
	}
	if c.Prices.Freshness <= 0 || c.Prices.FetchTimeout <= 0 {
		errs = append(errs, errors.New("price freshness and fetch timeout must be positive"))
	}
	if c.Ledger.MaxAttempts < 1 {
		errs = append(errs, errors.New("ledger max attempts must be at least 1"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep interval must be positive"))
	}
	if c.Auth.HMACSecret != "" && c.Auth.PublicKeyFile != "" {
		errs = append(errs, errors.New("auth: set either hmac_secret or public_key_file, not both"))
	}
	return errors.Join(errs...)
}

// StartingCash parses the season baseline.
func (c *Config) StartingCash() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Season.StartingCash)
}

// HTTPAddr returns the HTTP listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
