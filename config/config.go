package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/warriorguo/blockflow/poller"
	"github.com/warriorguo/blockflow/store/postgres"
	"github.com/warriorguo/blockflow/types"
	"github.com/warriorguo/blockflow/utils"
)

const (
	EnvPrefix = "BLOCKFLOW"

	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Store  StoreConfig  `mapstructure:"store"`
	Client ClientConfig `mapstructure:"client"`
	Poller PollerConfig `mapstructure:"poller"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	APIKeys        []string `mapstructure:"api_keys"`
	UsageLimit     int      `mapstructure:"usage_limit"`
	WarningPercent float64  `mapstructure:"warning_percent"`
	PersistResults bool     `mapstructure:"persist_results"`
}

type StoreConfig struct {
	// Type is one of memory, postgres or redis.
	Type     string         `mapstructure:"type"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	// DSN overrides the individual fields when set.
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type ClientConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type GmailConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	AccessToken       string  `mapstructure:"access_token"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type SubscriptionConfig struct {
	ID            string   `mapstructure:"id"`
	WorkflowID    string   `mapstructure:"workflow_id"`
	Account       string   `mapstructure:"account"`
	TriggerPath   string   `mapstructure:"trigger_path"`
	Secret        string   `mapstructure:"secret"`
	IncludeLabels []string `mapstructure:"include_labels"`
	ExcludeLabels []string `mapstructure:"exclude_labels"`
	SingleItem    bool     `mapstructure:"single_item"`
}

type PollerConfig struct {
	Interval              time.Duration        `mapstructure:"interval"`
	Concurrency           int                  `mapstructure:"concurrency"`
	MaxProcessedIDs       int                  `mapstructure:"max_processed_ids"`
	SearchLimit           int                  `mapstructure:"search_limit"`
	RetryFailedDeliveries bool                 `mapstructure:"retry_failed_deliveries"`
	Gmail                 GmailConfig          `mapstructure:"gmail"`
	Subscriptions         []SubscriptionConfig `mapstructure:"subscriptions"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// Format is json or text.
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.api_keys", []string{})
	v.SetDefault("server.usage_limit", 0)
	v.SetDefault("server.warning_percent", 80)
	v.SetDefault("server.persist_results", true)

	v.SetDefault("store.type", StoreMemory)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.user", "postgres")
	v.SetDefault("store.postgres.password", "")
	v.SetDefault("store.postgres.database", "blockflow")
	v.SetDefault("store.postgres.sslmode", "disable")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "blockflow:")

	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.api_key", "")
	v.SetDefault("client.timeout", 30*time.Second)

	v.SetDefault("poller.interval", time.Minute)
	v.SetDefault("poller.concurrency", 8)
	v.SetDefault("poller.max_processed_ids", 100)
	v.SetDefault("poller.search_limit", 10)
	v.SetDefault("poller.retry_failed_deliveries", false)
	v.SetDefault("poller.gmail.base_url", "https://gmail.googleapis.com/gmail/v1")
	v.SetDefault("poller.gmail.access_token", "")
	v.SetDefault("poller.gmail.requests_per_second", 5)
	v.SetDefault("poller.gmail.burst", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

/**
 * Load reads the configuration from path, or from blockflow.yaml in the
 * working directory and $HOME/.blockflow when path is empty. A .env file
 * in the working directory is loaded first, then every key can be
 * overridden by a BLOCKFLOW_ variable, e.g. BLOCKFLOW_STORE_TYPE.
 */
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Annotatef(err, "failed to load .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("blockflow")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.blockflow")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Annotatef(err, "failed to read configuration file")
		}
		log.Debug("no configuration file, using defaults")
	} else {
		log.Debugf("configuration loaded from %s", v.ConfigFileUsed())
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errors.Annotatef(err, "failed to decode configuration")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Annotatef(err, "invalid configuration")
	}
	return config, nil
}

func (c *Config) Validate() error {
	switch c.Store.Type {
	case StoreMemory, StoreRedis:
	case StorePostgres:
		if _, err := c.Store.Postgres.options(); err != nil {
			return errors.Trace(err)
		}
	default:
		return errors.NotValidf("store type %q", c.Store.Type)
	}
	if c.Client.Timeout <= 0 {
		return errors.NotValidf("client timeout %v", c.Client.Timeout)
	}
	if c.Poller.Interval <= 0 {
		return errors.NotValidf("poller interval %v", c.Poller.Interval)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.NotValidf("log level %q", c.Log.Level)
	}
	if !utils.Contains([]string{"json", "text"}, c.Log.Format) {
		return errors.NotValidf("log format %q", c.Log.Format)
	}
	for i, sub := range c.Poller.Subscriptions {
		if sub.ID == "" || sub.TriggerPath == "" {
			return errors.NotValidf("subscription %d without id or trigger_path", i)
		}
	}
	return nil
}

func (p PostgresConfig) options() (*types.PostgresConfig, error) {
	if p.DSN == "" {
		return &types.PostgresConfig{
			Host:     p.Host,
			Port:     p.Port,
			User:     p.User,
			Password: p.Password,
			Database: p.Database,
			SSLMode:  p.SSLMode,
		}, nil
	}
	parsed, err := postgres.ParseDSN(p.DSN)
	if err != nil {
		return nil, errors.Annotatef(err, "postgres dsn")
	}
	return &types.PostgresConfig{
		Host:     parsed.Host,
		Port:     parsed.Port,
		User:     parsed.User,
		Password: parsed.Password,
		Database: parsed.Database,
		SSLMode:  parsed.SSLMode,
	}, nil
}

// EngineOptions selects the store backend and result persistence.
func (c *Config) EngineOptions() (*types.EngineOptions, error) {
	opts := types.NewEngineOptions()
	opts.PersistResults = c.Server.PersistResults
	switch c.Store.Type {
	case StorePostgres:
		pg, err := c.Store.Postgres.options()
		if err != nil {
			return nil, errors.Trace(err)
		}
		opts.PostgresConfig = pg
	case StoreRedis:
		opts.RedisConfig = &types.RedisConfig{
			Addr:     c.Store.Redis.Addr,
			Password: c.Store.Redis.Password,
			DB:       c.Store.Redis.DB,
			Prefix:   c.Store.Redis.Prefix,
		}
	default:
		opts.MemStore = true
	}
	return opts, nil
}

func (c *Config) ServerOptions() []types.ServerOption {
	return []types.ServerOption{
		types.WithAPIKeys(c.Server.APIKeys...),
		types.WithUsageLimit(c.Server.UsageLimit),
		types.WithWarningPercent(c.Server.WarningPercent),
	}
}

func (c *Config) ClientOptions() []types.ClientOption {
	return []types.ClientOption{
		types.WithBaseURL(c.Client.BaseURL),
		types.WithAPIKey(c.Client.APIKey),
		types.WithTimeout(c.Client.Timeout),
	}
}

func (c *Config) ReconcilerOptions() []types.ReconcilerOption {
	options := []types.ReconcilerOption{
		types.WithPollConcurrency(c.Poller.Concurrency),
		types.WithMaxProcessedIDs(c.Poller.MaxProcessedIDs),
		types.WithSearchLimit(c.Poller.SearchLimit),
	}
	if c.Poller.RetryFailedDeliveries {
		options = append(options, types.EnableRetryFailedDeliveries())
	}
	return options
}

func (c *Config) Subscriptions() []*poller.Subscription {
	subs := make([]*poller.Subscription, 0, len(c.Poller.Subscriptions))
	for _, sub := range c.Poller.Subscriptions {
		subs = append(subs, &poller.Subscription{
			ID:            sub.ID,
			WorkflowID:    sub.WorkflowID,
			Account:       sub.Account,
			TriggerPath:   sub.TriggerPath,
			Secret:        sub.Secret,
			IncludeLabels: append([]string(nil), sub.IncludeLabels...),
			ExcludeLabels: append([]string(nil), sub.ExcludeLabels...),
			SingleItem:    sub.SingleItem,
		})
	}
	return subs
}

// ConfigureLogging applies the level and formatter to the standard logger.
func (c *Config) ConfigureLogging() {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if c.Log.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
