package mem

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"

	"github.com/warriorguo/blockflow/store"
)

func TestMemStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	value, err := s.Get(ctx, "/workflow/", "missing")
	assert.Nil(t, err)
	assert.Nil(t, value)

	assert.Nil(t, s.Set(ctx, "/workflow/", "b", []byte("2")))
	assert.Nil(t, s.Set(ctx, "/workflow/", "a", []byte("1")))
	assert.Nil(t, s.Set(ctx, "/workflow/x/", "c", []byte("3")))

	keys := make([]string, 0)
	assert.Nil(t, s.List(ctx, "/workflow/", func(key string) bool {
		keys = append(keys, key)
		return true
	}))
	assert.Equal(t, []string{"a", "b"}, keys)

	count := 0
	assert.Nil(t, s.List(ctx, "/workflow/", func(key string) bool {
		count++
		return false
	}))
	assert.Equal(t, 1, count)

	assert.Nil(t, s.Remove(ctx, "/workflow/", "a"))
	assert.Nil(t, s.Remove(ctx, "/workflow/", "a"))
	value, err = s.Get(ctx, "/workflow/", "a")
	assert.Nil(t, err)
	assert.Nil(t, value)
}

func TestMemStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	raw := []byte("abc")
	assert.Nil(t, s.Set(ctx, "/p/", "k", raw))
	raw[0] = 'x'

	value, _ := s.Get(ctx, "/p/", "k")
	assert.Equal(t, []byte("abc"), value)
}

func TestMemStoreErrHandler(t *testing.T) {
	s := NewMemStoreWithErrHandler(func() error {
		return errors.New("backend down")
	})
	assert.NotNil(t, s.Set(context.Background(), "/p/", "k", []byte("v")))
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	assert.Nil(t, store.SetJSON(ctx, s, "/records/", "one", &record{Name: "one", Count: 1}))

	out := &record{}
	assert.Nil(t, store.GetJSON(ctx, s, "/records/", "one", out))
	assert.Equal(t, "one", out.Name)
	assert.Equal(t, 1, out.Count)

	err := store.GetJSON(ctx, s, "/records/", "two", out)
	assert.True(t, errors.Is(err, errors.NotFound))
	assert.Nil(t, store.Close(s))
}
