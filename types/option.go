package types

import (
	"net/http"
	"time"

	"github.com/mcuadros/go-defaults"
)

func NewEngineOptions() *EngineOptions {
	opts := &EngineOptions{}
	defaults.SetDefaults(opts)
	return opts
}

type EngineOptions struct {
	/**
	 * default: 1000
	 * hard cap on back-edge traversals of any declared loop, a loop
	 * declaring a lower iterations value uses its own.
	 */
	MaxLoopIterations int `default:"1000"`
	/**
	 * default: 30s
	 * deadline of a single block invocation.
	 */
	BlockTimeout time.Duration `default:"30s"`
	/**
	 * default: false
	 * store every execution result under the execution prefix.
	 */
	PersistResults bool `default:"false"`
	/**
	 * default: false, only set it to true when doing testing or developing.
	 */
	MemStore bool `default:"false"`

	// PostgreSQL store configuration
	// If more than one backend is set, PostgresConfig takes precedence over RedisConfig
	PostgresConfig *PostgresConfig
	RedisConfig    *RedisConfig
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // disable, require, verify-ca, verify-full
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key, defaults to "blockflow:".
	Prefix string
}

type EngineOption func(*EngineOptions)

func WithMaxLoopIterations(n int) EngineOption {
	return func(opts *EngineOptions) {
		opts.MaxLoopIterations = n
	}
}

func WithBlockTimeout(d time.Duration) EngineOption {
	return func(opts *EngineOptions) {
		opts.BlockTimeout = d
	}
}

func EnablePersistResults() EngineOption {
	return func(opts *EngineOptions) {
		opts.PersistResults = true
	}
}

func EnableMemStore() EngineOption {
	return func(opts *EngineOptions) {
		opts.MemStore = true
	}
}

// WithPostgresConfig configures the engine to persist into PostgreSQL
func WithPostgresConfig(config *PostgresConfig) EngineOption {
	return func(opts *EngineOptions) {
		opts.PostgresConfig = config
	}
}

func WithRedisConfig(config *RedisConfig) EngineOption {
	return func(opts *EngineOptions) {
		opts.RedisConfig = config
	}
}

func NewClientOptions() *ClientOptions {
	opts := &ClientOptions{}
	defaults.SetDefaults(opts)
	return opts
}

type ClientOptions struct {
	BaseURL string `default:"http://localhost:3000/api"`
	APIKey  string
	/**
	 * default: 30s
	 * every request is bounded by this deadline, a call running into it
	 * fails with a TransportError reporting Timeout().
	 */
	Timeout   time.Duration `default:"30s"`
	UserAgent string        `default:"blockflow-go"`
	// HTTPClient overrides the client used for every request.
	HTTPClient *http.Client
}

type ClientOption func(*ClientOptions)

func WithBaseURL(url string) ClientOption {
	return func(opts *ClientOptions) {
		opts.BaseURL = url
	}
}

func WithAPIKey(key string) ClientOption {
	return func(opts *ClientOptions) {
		opts.APIKey = key
	}
}

func WithTimeout(d time.Duration) ClientOption {
	return func(opts *ClientOptions) {
		opts.Timeout = d
	}
}

func WithUserAgent(ua string) ClientOption {
	return func(opts *ClientOptions) {
		opts.UserAgent = ua
	}
}

func WithHTTPClient(c *http.Client) ClientOption {
	return func(opts *ClientOptions) {
		opts.HTTPClient = c
	}
}

func NewControllerOptions() *ControllerOptions {
	opts := &ControllerOptions{}
	defaults.SetDefaults(opts)
	return opts
}

type ControllerOptions struct {
	/**
	 * default: 5
	 * the quota is checked before the first run, after every
	 * QuotaCheckInterval-th run and after the final run.
	 */
	QuotaCheckInterval int `default:"5"`
	// default: 60s, lifetime of a cached usage snapshot.
	QuotaTTL time.Duration `default:"60s"`
	/**
	 * default: true
	 * send aggregate run statistics after a completed batch.
	 */
	RecordStats bool `default:"true"`
}

type ControllerOption func(*ControllerOptions)

func WithQuotaCheckInterval(n int) ControllerOption {
	return func(opts *ControllerOptions) {
		opts.QuotaCheckInterval = n
	}
}

func WithQuotaTTL(d time.Duration) ControllerOption {
	return func(opts *ControllerOptions) {
		opts.QuotaTTL = d
	}
}

func DisableRecordStats() ControllerOption {
	return func(opts *ControllerOptions) {
		opts.RecordStats = false
	}
}

func NewReconcilerOptions() *ReconcilerOptions {
	opts := &ReconcilerOptions{}
	defaults.SetDefaults(opts)
	return opts
}

type ReconcilerOptions struct {
	// default: 100, the processed-id set keeps the most recent ids.
	MaxProcessedIDs int `default:"100"`
	// default: 10, upper bound of items returned by a fallback search.
	SearchLimit int `default:"10"`
	// default: 8, subscriptions polled at once by PollAll.
	Concurrency int `default:"8"`
	/**
	 * default: false
	 * when false every attempted item is recorded as processed, a failed
	 * delivery is never retried. When true only delivered items are
	 * recorded and the next tick retries the others.
	 */
	RetryFailedDeliveries bool `default:"false"`
}

type ReconcilerOption func(*ReconcilerOptions)

func WithMaxProcessedIDs(n int) ReconcilerOption {
	return func(opts *ReconcilerOptions) {
		opts.MaxProcessedIDs = n
	}
}

func WithSearchLimit(n int) ReconcilerOption {
	return func(opts *ReconcilerOptions) {
		opts.SearchLimit = n
	}
}

func WithPollConcurrency(n int) ReconcilerOption {
	return func(opts *ReconcilerOptions) {
		opts.Concurrency = n
	}
}

func EnableRetryFailedDeliveries() ReconcilerOption {
	return func(opts *ReconcilerOptions) {
		opts.RetryFailedDeliveries = true
	}
}

func NewServerOptions() *ServerOptions {
	opts := &ServerOptions{}
	defaults.SetDefaults(opts)
	return opts
}

type ServerOptions struct {
	// Service names the metrics of the server.
	Service string `default:"blockflow"`
	/**
	 * requests must carry one of these keys as a bearer token, an empty
	 * list disables authentication.
	 */
	APIKeys []string
	/**
	 * default: 0
	 * executions allowed before the server answers 429, 0 is unlimited.
	 */
	UsageLimit int `default:"0"`
	// default: 80, usage percentage from which the snapshot reports a warning.
	WarningPercent float64 `default:"80"`
	BodyLimit      int     `default:"10485760"`
}

type ServerOption func(*ServerOptions)

func WithAPIKeys(keys ...string) ServerOption {
	return func(opts *ServerOptions) {
		opts.APIKeys = append(opts.APIKeys, keys...)
	}
}

func WithUsageLimit(limit int) ServerOption {
	return func(opts *ServerOptions) {
		opts.UsageLimit = limit
	}
}

func WithWarningPercent(percent float64) ServerOption {
	return func(opts *ServerOptions) {
		opts.WarningPercent = percent
	}
}

func WithService(service string) ServerOption {
	return func(opts *ServerOptions) {
		opts.Service = service
	}
}
