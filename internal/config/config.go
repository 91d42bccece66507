// Package config loads the oracle node's runtime configuration from
// environment variables (via godotenv) layered under viper defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds every tunable named in spec §6.
type Config struct {
	HTTPAddr string

	DatabaseURL string

	OracleName         string
	AbstractCurrencies []string

	BytesLimitPerIPPerSecond     int
	MessagesLimitPerIPPerSecond  int
	MaxInboundMessageBytes       int
	InactivityTimeout            time.Duration
	ChannelUpdateIntervalSigned  time.Duration
	ChannelUpdateIntervalPlain   time.Duration
	ChannelUpdateIntervalOHLC    time.Duration
	FlushInterval                time.Duration
	RoutingFreshnessThreshold    time.Duration
	MinPublishers                int
	MaxCheckpointLimit           int
	SSEKeepAliveInterval         time.Duration

	SignerPrivateKeyHex string
}

// Defaults mirror the values enumerated in spec §6.
func Defaults() Config {
	return Config{
		HTTPAddr:                    ":8080",
		OracleName:                  "PRAGMA",
		AbstractCurrencies:          []string{"USD", "USDT", "BTC"},
		BytesLimitPerIPPerSecond:    262144,
		MessagesLimitPerIPPerSecond: 64,
		MaxInboundMessageBytes:      1048576,
		InactivityTimeout:           30 * time.Second,
		ChannelUpdateIntervalSigned: 100 * time.Millisecond,
		ChannelUpdateIntervalPlain:  500 * time.Millisecond,
		ChannelUpdateIntervalOHLC:   30 * time.Second,
		FlushInterval:               50 * time.Millisecond,
		RoutingFreshnessThreshold:   60 * time.Second,
		MinPublishers:               3,
		MaxCheckpointLimit:          1000,
		SSEKeepAliveInterval:        30 * time.Second,
	}
}

// Load reads a .env file (if present), then layers environment variables
// over the spec defaults using viper. Missing .env files are not an error:
// the teacher's config.Load does the same (walletserver/config wraps
// godotenv but keeps running when it isn't found in dev/test).
func Load(envFile string) (Config, error) {
	cfg := Defaults()

	if err := godotenv.Load(envFile); err != nil {
		logrus.WithError(err).Debug("no .env file loaded, continuing with process environment")
	}

	v := viper.New()
	v.SetEnvPrefix("ORACLE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("http_addr", cfg.HTTPAddr)
	v.SetDefault("oracle_name", cfg.OracleName)
	v.SetDefault("abstract_currencies", strings.Join(cfg.AbstractCurrencies, ","))
	v.SetDefault("bytes_limit_per_ip_per_second", cfg.BytesLimitPerIPPerSecond)
	v.SetDefault("messages_limit_per_ip_per_second", cfg.MessagesLimitPerIPPerSecond)
	v.SetDefault("max_inbound_message_bytes", cfg.MaxInboundMessageBytes)
	v.SetDefault("min_publishers", cfg.MinPublishers)
	v.SetDefault("max_checkpoint_limit", cfg.MaxCheckpointLimit)
	v.SetDefault("database_url", "")
	v.SetDefault("signer_private_key_hex", "")

	cfg.HTTPAddr = v.GetString("http_addr")
	cfg.DatabaseURL = v.GetString("database_url")
	cfg.OracleName = v.GetString("oracle_name")
	if csv := v.GetString("abstract_currencies"); csv != "" {
		cfg.AbstractCurrencies = strings.Split(csv, ",")
	}
	cfg.BytesLimitPerIPPerSecond = v.GetInt("bytes_limit_per_ip_per_second")
	cfg.MessagesLimitPerIPPerSecond = v.GetInt("messages_limit_per_ip_per_second")
	cfg.MaxInboundMessageBytes = v.GetInt("max_inbound_message_bytes")
	cfg.MinPublishers = v.GetInt("min_publishers")
	cfg.MaxCheckpointLimit = v.GetInt("max_checkpoint_limit")
	cfg.SignerPrivateKeyHex = v.GetString("signer_private_key_hex")

	if cfg.OracleName == "" {
		return cfg, fmt.Errorf("config: ORACLE_ORACLE_NAME must not be empty")
	}

	return cfg, nil
}

// NewLogger returns the process-wide structured logger, configured the way
// orbas1-Synnergy's walletserver wires logrus: JSON in production, text in
// dev, one instance passed by reference rather than a package global used
// directly by callers.
func NewLogger(debug bool) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	if debug {
		l.SetLevel(logrus.DebugLevel)
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}
