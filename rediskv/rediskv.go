// Package rediskv is a kv.Backend stored in Redis.
//
// Items of a store live under 3 Redis keys derived from Namespace:
//
//	<ns>:items  hash of key -> value
//	<ns>:order  sorted set of keys, scored by insertion sequence
//	<ns>:seq    insertion sequence counter
//
// Many stores with different namespaces can share a Redis database.
package rediskv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kjk/easystore/kv"
)

const (
	DefaultNamespace = "easystore"
	DefaultTimeout   = 5 * time.Second
)

// Options configures a new Store.
type Options struct {
	Client redis.UniversalClient
	// prefix of Redis keys, DefaultNamespace if empty
	Namespace string
	// timeout of a single operation, DefaultTimeout if 0
	Timeout time.Duration
}

// Store is a Redis kv.Backend.
type Store struct {
	client   redis.UniversalClient
	itemsKey string
	orderKey string
	seqKey   string
	timeout  time.Duration
}

var (
	_ kv.Backend   = &Store{}
	_ kv.KeyLister = &Store{}
)

// New creates a new Store.
func New(opts Options) *Store {
	ns := opts.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{
		client:   opts.Client,
		itemsKey: ns + ":items",
		orderKey: ns + ":order",
		seqKey:   ns + ":seq",
		timeout:  timeout,
	}
}

// Open connects to the Redis server at url (redis://[user:pass@]host:port/db)
// and checks the connection.
func Open(url string, namespace string) (*Store, error) {
	return OpenWithTimeout(url, namespace, 0)
}

func OpenWithTimeout(url string, namespace string, timeout time.Duration) (*Store, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("rediskv: parse url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	s := New(Options{Client: client, Namespace: namespace, Timeout: timeout})
	ctx, cancel := s.ctx()
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("rediskv: ping %s: %w", redisOpts.Addr, err)
	}
	return s, nil
}

// Close closes the Redis client
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Store) GetItem(key string) (string, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	v, err := s.client.HGet(ctx, s.itemsKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("rediskv get %s: %w", key, err)
	}
	return v, true, nil
}

// SetItem writes the value. The key is added to the order set only if it's
// not there yet, so an overwrite keeps its position.
func (s *Store) SetItem(key string, value string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	seq, err := s.client.Incr(ctx, s.seqKey).Result()
	if err != nil {
		return fmt.Errorf("rediskv set %s: %w", key, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAddNX(ctx, s.orderKey, redis.Z{Score: float64(seq), Member: key})
		pipe.HSet(ctx, s.itemsKey, key, value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rediskv set %s: %w", key, err)
	}
	return nil
}

func (s *Store) RemoveItem(key string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.itemsKey, key)
		pipe.ZRem(ctx, s.orderKey, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rediskv remove %s: %w", key, err)
	}
	return nil
}

func (s *Store) Key(index int) (string, bool, error) {
	// negative index means "from the end" to Redis
	if index < 0 {
		return "", false, nil
	}
	ctx, cancel := s.ctx()
	defer cancel()
	keys, err := s.client.ZRange(ctx, s.orderKey, int64(index), int64(index)).Result()
	if err != nil {
		return "", false, fmt.Errorf("rediskv key at %d: %w", index, err)
	}
	if len(keys) == 0 {
		return "", false, nil
	}
	return keys[0], true, nil
}

func (s *Store) Len() (int, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	n, err := s.client.ZCard(ctx, s.orderKey).Result()
	if err != nil {
		return 0, fmt.Errorf("rediskv len: %w", err)
	}
	return int(n), nil
}

func (s *Store) Keys() ([]string, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	keys, err := s.client.ZRange(ctx, s.orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("rediskv keys: %w", err)
	}
	return keys, nil
}
