package redis

import (
	"context"
	"sort"
	"time"

	"github.com/juju/errors"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/blockflow/store"
	"github.com/warriorguo/blockflow/types"
)

var (
	_ store.Store = &redisStore{}
)

const (
	DefaultNamespace = "blockflow:"
)

type Config struct {
	// URL takes precedence over Addr, Password and DB when set.
	URL      string
	Addr     string
	Password string
	DB       int
	// Namespace is put in front of every prefix.
	Namespace string
}

func DefaultConfig() *Config {
	return &Config{
		Addr:      "localhost:6379",
		Namespace: DefaultNamespace,
	}
}

func FromOptions(opts *types.RedisConfig) *Config {
	config := DefaultConfig()
	if opts == nil {
		return config
	}
	if opts.Addr != "" {
		config.Addr = opts.Addr
	}
	config.Password = opts.Password
	config.DB = opts.DB
	if opts.Prefix != "" {
		config.Namespace = opts.Prefix
	}
	return config
}

func (c *Config) clientOptions() (*goredis.Options, error) {
	if c.URL != "" {
		opts, err := goredis.ParseURL(c.URL)
		if err != nil {
			return nil, errors.Annotatef(err, "invalid redis url")
		}
		return opts, nil
	}
	if c.Addr == "" {
		return nil, errors.NotValidf("empty redis addr")
	}
	return &goredis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}, nil
}

/**
 * redisStore keeps every prefix in one hash, the store keys are the
 * hash fields. That gives List the exact-prefix semantics of the other
 * backends without scanning the keyspace.
 */
type redisStore struct {
	client    *goredis.Client
	namespace string
	owned     bool
}

func NewRedisStore(ctx context.Context, config *Config) (store.Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	opts, err := config.clientOptions()
	if err != nil {
		return nil, errors.Trace(err)
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Annotatef(err, "failed to ping redis %s", opts.Addr)
	}
	log.Infof("redis store connected to %s", opts.Addr)

	return &redisStore{client: client, namespace: config.Namespace, owned: true}, nil
}

// NewRedisStoreWithClient shares client, Close leaves it open.
func NewRedisStoreWithClient(client *goredis.Client, namespace string) (store.Store, error) {
	if client == nil {
		return nil, errors.New("client cannot be nil")
	}
	return &redisStore{client: client, namespace: namespace}, nil
}

func (r *redisStore) hashKey(prefix string) string {
	return r.namespace + prefix
}

func (r *redisStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	value, err := r.client.HGet(ctx, r.hashKey(prefix), key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "failed to get value for prefix=%s, key=%s", prefix, key)
	}
	return value, nil
}

func (r *redisStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	if err := r.client.HSet(ctx, r.hashKey(prefix), key, value).Err(); err != nil {
		return errors.Annotatef(err, "failed to set value for prefix=%s, key=%s", prefix, key)
	}
	return nil
}

func (r *redisStore) Remove(ctx context.Context, prefix, key string) error {
	if err := r.client.HDel(ctx, r.hashKey(prefix), key).Err(); err != nil {
		return errors.Annotatef(err, "failed to remove value for prefix=%s, key=%s", prefix, key)
	}
	return nil
}

func (r *redisStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	keys, err := r.client.HKeys(ctx, r.hashKey(prefix)).Result()
	if err != nil {
		return errors.Annotatef(err, "failed to list keys for prefix=%s", prefix)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !iterator(key) {
			break
		}
	}
	return nil
}

func (r *redisStore) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}
