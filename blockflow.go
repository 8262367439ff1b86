package blockflow

import (
	"context"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/blockflow/client"
	"github.com/warriorguo/blockflow/runtime"
	"github.com/warriorguo/blockflow/server"
	"github.com/warriorguo/blockflow/store"
	"github.com/warriorguo/blockflow/store/mem"
	"github.com/warriorguo/blockflow/store/postgres"
	"github.com/warriorguo/blockflow/store/redis"
	"github.com/warriorguo/blockflow/types"
)

/**
 * NewStore opens the backend selected by opts.
 * PostgresConfig takes precedence over RedisConfig, the memory store is
 * used when neither is set.
 */
func NewStore(ctx context.Context, opts *types.EngineOptions) (store.Store, error) {
	if opts == nil {
		opts = types.NewEngineOptions()
	}
	switch {
	case opts.PostgresConfig != nil:
		s, err := postgres.NewPostgresStore(ctx, postgres.FromOptions(opts.PostgresConfig))
		if err != nil {
			return nil, errors.Annotatef(err, "failed to create PostgreSQL store")
		}
		return s, nil
	case opts.RedisConfig != nil:
		s, err := redis.NewRedisStore(ctx, redis.FromOptions(opts.RedisConfig))
		if err != nil {
			return nil, errors.Annotatef(err, "failed to create Redis store")
		}
		return s, nil
	}
	if !opts.MemStore {
		log.Debug("no store configured, falling back to memory")
	}
	return mem.NewMemStore(), nil
}

// NewEngine creates a local engine on the store selected by options.
func NewEngine(ctx context.Context, options ...types.EngineOption) (*runtime.Engine, error) {
	opts := types.NewEngineOptions()
	for _, option := range options {
		option(opts)
	}
	return NewEngineWithOptions(ctx, opts)
}

func NewEngineWithOptions(ctx context.Context, opts *types.EngineOptions) (*runtime.Engine, error) {
	s, err := NewStore(ctx, opts)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return runtime.NewEngine(s, opts), nil
}

func NewClient(options ...types.ClientOption) *client.Client {
	return client.NewClient(options...)
}

// NewServer serves engine over HTTP, sharing the engine store.
func NewServer(engine *runtime.Engine, options ...types.ServerOption) (*server.Server, error) {
	if engine.Store() == nil {
		return nil, errors.NotValidf("engine without store")
	}
	return server.New(engine, engine.Store(), options...), nil
}
