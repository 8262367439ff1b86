package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEngineOptionsDefaults(t *testing.T) {
	opts := NewEngineOptions()

	assert.Equal(t, 1000, opts.MaxLoopIterations)
	assert.Equal(t, 30*time.Second, opts.BlockTimeout)
	assert.False(t, opts.PersistResults)
	assert.False(t, opts.MemStore)
	assert.Nil(t, opts.PostgresConfig)
}

func TestWithPostgresConfig(t *testing.T) {
	config := &PostgresConfig{
		Host:     "dbhost",
		Port:     5433,
		User:     "user",
		Password: "pass",
		Database: "db",
		SSLMode:  "require",
	}

	opts := NewEngineOptions()
	opt := WithPostgresConfig(config)
	opt(opts)

	assert.NotNil(t, opts.PostgresConfig)
	assert.Equal(t, "dbhost", opts.PostgresConfig.Host)
	assert.Equal(t, 5433, opts.PostgresConfig.Port)
	assert.Equal(t, "user", opts.PostgresConfig.User)
	assert.Equal(t, "pass", opts.PostgresConfig.Password)
	assert.Equal(t, "db", opts.PostgresConfig.Database)
	assert.Equal(t, "require", opts.PostgresConfig.SSLMode)
}

func TestMultipleEngineOptions(t *testing.T) {
	opts := NewEngineOptions()

	EnableMemStore()(opts)
	WithRedisConfig(&RedisConfig{Addr: "localhost:6379"})(opts)
	WithMaxLoopIterations(50)(opts)
	WithBlockTimeout(time.Second)(opts)
	EnablePersistResults()(opts)

	assert.True(t, opts.MemStore)
	assert.Equal(t, "localhost:6379", opts.RedisConfig.Addr)
	assert.Equal(t, 50, opts.MaxLoopIterations)
	assert.Equal(t, time.Second, opts.BlockTimeout)
	assert.True(t, opts.PersistResults)
}

func TestClientOptions(t *testing.T) {
	opts := NewClientOptions()
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, "blockflow-go", opts.UserAgent)
	assert.NotEmpty(t, opts.BaseURL)

	WithBaseURL("http://example.test/api")(opts)
	WithAPIKey("secret")(opts)
	WithTimeout(5 * time.Second)(opts)

	assert.Equal(t, "http://example.test/api", opts.BaseURL)
	assert.Equal(t, "secret", opts.APIKey)
	assert.Equal(t, 5*time.Second, opts.Timeout)
}

func TestControllerAndReconcilerOptions(t *testing.T) {
	c := NewControllerOptions()
	assert.Equal(t, 5, c.QuotaCheckInterval)
	assert.Equal(t, 60*time.Second, c.QuotaTTL)
	assert.True(t, c.RecordStats)
	DisableRecordStats()(c)
	assert.False(t, c.RecordStats)

	r := NewReconcilerOptions()
	assert.Equal(t, 100, r.MaxProcessedIDs)
	assert.Equal(t, 10, r.SearchLimit)
	assert.False(t, r.RetryFailedDeliveries)
	EnableRetryFailedDeliveries()(r)
	assert.True(t, r.RetryFailedDeliveries)
}

func TestServerOptions(t *testing.T) {
	opts := NewServerOptions()
	assert.Equal(t, "blockflow", opts.Service)
	assert.Equal(t, 0, opts.UsageLimit)
	assert.Equal(t, float64(80), opts.WarningPercent)
	assert.Equal(t, 10*1024*1024, opts.BodyLimit)
	assert.Empty(t, opts.APIKeys)

	WithAPIKeys("a", "b")(opts)
	WithAPIKeys("c")(opts)
	WithUsageLimit(100)(opts)
	WithWarningPercent(90)(opts)
	WithService("flows")(opts)
	assert.Equal(t, []string{"a", "b", "c"}, opts.APIKeys)
	assert.Equal(t, 100, opts.UsageLimit)
	assert.Equal(t, float64(90), opts.WarningPercent)
	assert.Equal(t, "flows", opts.Service)
}
