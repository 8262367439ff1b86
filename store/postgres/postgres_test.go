package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warriorguo/blockflow/store"
	"github.com/warriorguo/blockflow/types"
)

// getTestConfig returns a test configuration
// You can set environment variables to override defaults:
// - POSTGRES_HOST
// - POSTGRES_PORT
// - POSTGRES_USER
// - POSTGRES_PASSWORD
// - POSTGRES_DB
func getTestConfig() *Config {
	config := DefaultConfig()
	config.Table = "blockflow_store_test"

	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		config.Host = host
	}
	if port := os.Getenv("POSTGRES_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &config.Port)
	}
	if user := os.Getenv("POSTGRES_USER"); user != "" {
		config.User = user
	}
	if password := os.Getenv("POSTGRES_PASSWORD"); password != "" {
		config.Password = password
	}
	if db := os.Getenv("POSTGRES_DB"); db != "" {
		config.Database = db
	}

	return config
}

// skipIfNoPostgres skips the test if PostgreSQL is not available
func skipIfNoPostgres(t *testing.T) store.Store {
	s, err := NewPostgresStore(context.Background(), getTestConfig())
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
		return nil
	}
	t.Cleanup(func() {
		store.Close(s)
	})
	return s
}

func TestPostgresStore_SetGetRemove(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()

	assert.Nil(t, s.Set(ctx, "/test/", "key1", []byte("value1")))
	assert.Nil(t, s.Set(ctx, "/test/", "key1", []byte("value2")))

	value, err := s.Get(ctx, "/test/", "key1")
	assert.Nil(t, err)
	assert.Equal(t, []byte("value2"), value)

	value, err = s.Get(ctx, "/test/", "non-existent")
	assert.Nil(t, err)
	assert.Nil(t, value)

	assert.Nil(t, s.Remove(ctx, "/test/", "key1"))
	value, err = s.Get(ctx, "/test/", "key1")
	assert.Nil(t, err)
	assert.Nil(t, value)

	// Remove non-existent key should not error
	assert.Nil(t, s.Remove(ctx, "/test/", "non-existent"))
}

func TestPostgresStore_List(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()

	for _, key := range []string{"key3", "key1", "key2"} {
		assert.Nil(t, s.Set(ctx, "/test/", key, []byte(key)))
	}
	assert.Nil(t, s.Set(ctx, "/other/", "key1", []byte("other1")))
	defer func() {
		for _, key := range []string{"key1", "key2", "key3"} {
			s.Remove(ctx, "/test/", key)
		}
		s.Remove(ctx, "/other/", "key1")
	}()

	keys := make([]string, 0)
	assert.Nil(t, s.List(ctx, "/test/", func(key string) bool {
		keys = append(keys, key)
		return true
	}))
	assert.Equal(t, []string{"key1", "key2", "key3"}, keys)

	count := 0
	assert.Nil(t, s.List(ctx, "/test/", func(key string) bool {
		count++
		return count < 2
	}))
	assert.Equal(t, 2, count)

	keys = keys[:0]
	assert.Nil(t, s.List(ctx, "/non-existent/", func(key string) bool {
		keys = append(keys, key)
		return true
	}))
	assert.Empty(t, keys)
}

func TestPostgresStore_BinaryData(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()

	binaryData := []byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0xFD}
	assert.Nil(t, s.Set(ctx, "/test/", "binary", binaryData))

	value, err := s.Get(ctx, "/test/", "binary")
	assert.Nil(t, err)
	assert.Equal(t, binaryData, value)

	assert.Nil(t, s.Remove(ctx, "/test/", "binary"))
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		modify func(c *Config)
		valid  bool
	}{
		{"default", func(c *Config) {}, true},
		{"empty host", func(c *Config) { c.Host = "" }, false},
		{"bad port", func(c *Config) { c.Port = 0 }, false},
		{"empty user", func(c *Config) { c.User = "" }, false},
		{"empty database", func(c *Config) { c.Database = "" }, false},
		{"bad sslmode", func(c *Config) { c.SSLMode = "invalid" }, false},
		{"empty sslmode", func(c *Config) { c.SSLMode = "" }, true},
		{"injected table", func(c *Config) { c.Table = "store; DROP TABLE x" }, false},
		{"empty table", func(c *Config) { c.Table = "" }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			config := DefaultConfig()
			tc.modify(config)
			err := config.Validate()
			if tc.valid {
				assert.Nil(t, err)
			} else {
				assert.NotNil(t, err)
			}
		})
	}

	config := DefaultConfig()
	config.SSLMode = ""
	config.Table = ""
	assert.Nil(t, config.Validate())
	assert.Equal(t, "disable", config.SSLMode)
	assert.Equal(t, DefaultTable, config.Table)
}

func TestConfig_DSN(t *testing.T) {
	config := &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "testuser",
		Password: "testpass",
		Database: "testdb",
		SSLMode:  "disable",
	}

	expected := "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable"
	assert.Equal(t, expected, config.DSN())
}

func TestParseDSN(t *testing.T) {
	dsn := "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=require"
	config, err := ParseDSN(dsn)
	assert.Nil(t, err)
	assert.Equal(t, "localhost", config.Host)
	assert.Equal(t, 5432, config.Port)
	assert.Equal(t, "testuser", config.User)
	assert.Equal(t, "testpass", config.Password)
	assert.Equal(t, "testdb", config.Database)
	assert.Equal(t, "require", config.SSLMode)
	assert.Equal(t, DefaultTable, config.Table)
}

func TestFromOptions(t *testing.T) {
	config := FromOptions(&types.PostgresConfig{Host: "db", Port: 6543, User: "u", Password: "p"})
	assert.Equal(t, "db", config.Host)
	assert.Equal(t, 6543, config.Port)
	assert.Equal(t, "u", config.User)
	assert.Equal(t, "p", config.Password)
	assert.Equal(t, "blockflow", config.Database)
	assert.Equal(t, "disable", config.SSLMode)

	assert.Equal(t, DefaultConfig(), FromOptions(nil))
}
