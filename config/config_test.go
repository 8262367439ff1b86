package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "blockflow.yaml")
	require.Nil(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	config, err := Load(writeConfig(t, "{}\n"))
	require.Nil(t, err)

	assert.Equal(t, ":8080", config.Server.Addr)
	assert.Equal(t, StoreMemory, config.Store.Type)
	assert.Equal(t, 30*time.Second, config.Client.Timeout)
	assert.Equal(t, time.Minute, config.Poller.Interval)
	assert.Equal(t, 100, config.Poller.MaxProcessedIDs)
	assert.Equal(t, "info", config.Log.Level)

	opts, err := config.EngineOptions()
	require.Nil(t, err)
	assert.True(t, opts.MemStore)
	assert.True(t, opts.PersistResults)
	assert.Nil(t, opts.PostgresConfig)
	assert.Nil(t, opts.RedisConfig)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
  api_keys: ["k1", "k2"]
  usage_limit: 50
store:
  type: redis
  redis:
    addr: "cache:6379"
    db: 2
client:
  base_url: "https://flows.example.com/api"
  timeout: 5s
poller:
  interval: 30s
  retry_failed_deliveries: true
  subscriptions:
    - id: inbox
      workflow_id: wf-1
      trigger_path: gmail-inbox
      include_labels: [INBOX]
      exclude_labels: [SPAM]
      single_item: true
log:
  level: debug
  format: json
`)
	config, err := Load(path)
	require.Nil(t, err)

	assert.Equal(t, ":9000", config.Server.Addr)
	assert.Equal(t, []string{"k1", "k2"}, config.Server.APIKeys)
	assert.Equal(t, 5*time.Second, config.Client.Timeout)
	assert.Equal(t, 30*time.Second, config.Poller.Interval)

	opts, err := config.EngineOptions()
	require.Nil(t, err)
	require.NotNil(t, opts.RedisConfig)
	assert.Equal(t, "cache:6379", opts.RedisConfig.Addr)
	assert.Equal(t, 2, opts.RedisConfig.DB)
	assert.False(t, opts.MemStore)

	subs := config.Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, "wf-1", subs[0].WorkflowID)
	assert.Equal(t, "gmail-inbox", subs[0].TriggerPath)
	assert.Equal(t, []string{"INBOX"}, subs[0].IncludeLabels)
	assert.True(t, subs[0].SingleItem)

	assert.Len(t, config.ServerOptions(), 3)
	assert.Len(t, config.ReconcilerOptions(), 4)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("BLOCKFLOW_STORE_TYPE", "postgres")
	t.Setenv("BLOCKFLOW_STORE_POSTGRES_DSN", "host=db port=5433 user=flow password=s dbname=flows sslmode=require")
	t.Setenv("BLOCKFLOW_CLIENT_API_KEY", "from-env")

	config, err := Load(writeConfig(t, "client:\n  api_key: from-file\n"))
	require.Nil(t, err)
	assert.Equal(t, "from-env", config.Client.APIKey)

	opts, err := config.EngineOptions()
	require.Nil(t, err)
	require.NotNil(t, opts.PostgresConfig)
	assert.Equal(t, "db", opts.PostgresConfig.Host)
	assert.Equal(t, 5433, opts.PostgresConfig.Port)
	assert.Equal(t, "flows", opts.PostgresConfig.Database)
	assert.Equal(t, "require", opts.PostgresConfig.SSLMode)
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "store:\n  type: mongo\n"))
	assert.NotNil(t, err)

	_, err = Load(writeConfig(t, "log:\n  level: loud\n"))
	assert.NotNil(t, err)

	_, err = Load(writeConfig(t, "poller:\n  subscriptions:\n    - id: x\n"))
	assert.NotNil(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NotNil(t, err)
}

func TestConfigureLogging(t *testing.T) {
	defer log.SetLevel(log.GetLevel())
	defer log.SetFormatter(log.StandardLogger().Formatter)

	config, err := Load(writeConfig(t, "log:\n  level: warn\n  format: json\n"))
	require.Nil(t, err)
	config.ConfigureLogging()
	assert.Equal(t, log.WarnLevel, log.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)
}
