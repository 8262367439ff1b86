package store

import (
	"context"
	"encoding/json"

	"github.com/juju/errors"
)

type Store interface {
	/**
	 * Get returns nil without error for an unexists prefix + key
	 */
	Get(ctx context.Context, prefix, key string) ([]byte, error)
	Set(ctx context.Context, prefix, key string, value []byte) error
	/**
	 * Remove a prefix and key
	 * remove an unexists prefix + key would NOT return error
	 */
	Remove(ctx context.Context, prefix, key string) error

	/**
	 * List visits the keys stored under exactly prefix in key order
	 * until iterator returns false.
	 */
	List(ctx context.Context, prefix string, iterator func(key string) bool) error
}

type Closer interface {
	Close() error
}

// Close releases s when the backend holds connections.
func Close(s Store) error {
	if closer, ok := s.(Closer); ok {
		return closer.Close()
	}
	return nil
}

// SetJSON stores v encoded as JSON.
func SetJSON(ctx context.Context, s Store, prefix, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Annotatef(err, "encode %s%s", prefix, key)
	}
	return errors.Trace(s.Set(ctx, prefix, key, b))
}

/**
 * GetJSON decodes the value at prefix + key into v.
 * It returns a NotFound error when nothing is stored there.
 */
func GetJSON(ctx context.Context, s Store, prefix, key string, v any) error {
	b, err := s.Get(ctx, prefix, key)
	if err != nil {
		return errors.Trace(err)
	}
	if b == nil {
		return errors.NotFoundf("%s%s", prefix, key)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errors.Annotatef(err, "decode %s%s", prefix, key)
	}
	return nil
}
