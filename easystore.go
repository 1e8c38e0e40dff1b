// Package easystore stores typed values in a string key-value store
// (browser localStorage, a file, SQLite, Redis, S3 or anything implementing
// kv.Backend) without the caller having to serialize them or remember
// their types.
//
// Values are written as tagged JSON (see package tagged) and converted back
// to native values on read:
//
//	s := easystore.Instance()
//	s.SetPrefix("myapp")
//	err := s.SetItem("visits", 3, nil)
//	v, err := s.GetItem("visits", 0, nil) // float64(3)
//	n, err := easystore.GetAs(s, "visits", 0, nil) // int(3)
//
// Values that were not written by easystore are returned as plain strings.
package easystore

import (
	"fmt"
	"sync"

	"github.com/kjk/easystore/kv"
	"github.com/kjk/easystore/tagged"
	"github.com/kjk/easystore/transform"
)

// PrefixSeparator joins the prefix and the key
const PrefixSeparator = "_"

// Store reads and writes typed values in a kv.Backend.
// It doesn't cache anything: every call goes to the backend.
type Store struct {
	backend kv.Backend

	mu     sync.RWMutex
	prefix string
}

// Item is an entry for SetItems
type Item struct {
	Key   string
	Value any
	// optional, applied to the encoded string before it's written
	Transform transform.Func
}

// Query is an entry for GetItems
type Query struct {
	Key     string
	Default any
	// optional, applied to the stored string before it's decoded
	Transform transform.Func
}

// Entry is a key and its decoded value
type Entry struct {
	Key   string
	Value any
}

func New(b kv.Backend) *Store {
	return &Store{backend: b}
}

func (s *Store) Backend() kv.Backend {
	return s.backend
}

// SetPrefix namespaces keys: with prefix "app" key "x" is stored as "app_x".
// It applies to every key-scoped operation (not to GetAllItems and
// GetAllKeys). Set it once, before the store is used. "" means no prefix.
func (s *Store) SetPrefix(prefix string) {
	s.mu.Lock()
	s.prefix = prefix
	s.mu.Unlock()
}

func (s *Store) storeKey(key string) string {
	s.mu.RLock()
	prefix := s.prefix
	s.mu.RUnlock()
	if prefix == "" {
		return key
	}
	return prefix + PrefixSeparator + key
}

// SetItem encodes value, applies post (if not nil) and writes it under key.
// Returns an error wrapping tagged.ErrUnsupportedType for values that can't
// be stored.
func (s *Store) SetItem(key string, value any, post transform.Func) error {
	str, err := tagged.Encode(value)
	if err != nil {
		return fmt.Errorf("easystore: set %q: %w", key, err)
	}
	if str, err = post.Apply(str); err != nil {
		return fmt.Errorf("easystore: set %q: transform: %w", key, err)
	}
	if err = s.backend.SetItem(s.storeKey(key), str); err != nil {
		return fmt.Errorf("easystore: set %q: %w", key, err)
	}
	return nil
}

// SetItems calls SetItem for each item, in order. It stops at the first error;
// items written before it stay written.
func (s *Store) SetItems(items []Item) error {
	for _, it := range items {
		if err := s.SetItem(it.Key, it.Value, it.Transform); err != nil {
			return err
		}
	}
	return nil
}

// getRaw returns the stored string for an already derived key,
// with pre applied. ok is false if the key is missing or empty.
func (s *Store) getRaw(storeKey string, pre transform.Func) (string, bool, error) {
	str, ok, err := s.backend.GetItem(storeKey)
	if err != nil {
		return "", false, err
	}
	if !ok || str == "" {
		return "", false, nil
	}
	if str, err = pre.Apply(str); err != nil {
		return "", false, fmt.Errorf("transform: %w", err)
	}
	return str, true, nil
}

// get reads storeKey. Errors mention key, the key as the caller gave it.
func (s *Store) get(key string, storeKey string, def any, pre transform.Func) (any, error) {
	str, ok, err := s.getRaw(storeKey, pre)
	if err != nil {
		return nil, fmt.Errorf("easystore: get %q: %w", key, err)
	}
	if !ok {
		return def, nil
	}
	return tagged.DecodeKey(storeKey, str), nil
}

// GetItem returns the value stored under key, or def if there is none.
// def is returned as is. pre (if not nil) is applied to the stored string
// before decoding. A stored string that isn't a tagged value is returned
// unchanged.
func (s *Store) GetItem(key string, def any, pre transform.Func) (any, error) {
	return s.get(key, s.storeKey(key), def, pre)
}

// GetItems returns values for queries, in the same order
func (s *Store) GetItems(queries []Query) ([]any, error) {
	res := make([]any, 0, len(queries))
	for _, q := range queries {
		v, err := s.GetItem(q.Key, q.Default, q.Transform)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}

// GetAs is GetItem that decodes into T, e.g. GetAs[int64] keeps integer
// precision and GetAs[map[string]struct{}] reads a Set.
func GetAs[T any](s *Store, key string, def T, pre transform.Func) (T, error) {
	storeKey := s.storeKey(key)
	str, ok, err := s.getRaw(storeKey, pre)
	if err != nil {
		return def, fmt.Errorf("easystore: get %q: %w", key, err)
	}
	if !ok {
		return def, nil
	}
	var res T
	if err = tagged.DecodeInto(str, &res); err != nil {
		return def, fmt.Errorf("easystore: get %q: %w", key, err)
	}
	return res, nil
}

// GetAllItems returns every item in the backend, including items of other
// prefixes. Keys are the full backend keys and values are read under them.
func (s *Store) GetAllItems(pre transform.Func) ([]Entry, error) {
	keys, err := kv.Keys(s.backend)
	if err != nil {
		return nil, fmt.Errorf("easystore: list keys: %w", err)
	}
	res := make([]Entry, 0, len(keys))
	for _, key := range keys {
		v, err := s.get(key, key, nil, pre)
		if err != nil {
			return nil, err
		}
		res = append(res, Entry{Key: key, Value: v})
	}
	return res, nil
}

// GetAllKeys returns every key in the backend, including keys of other prefixes
func (s *Store) GetAllKeys() ([]string, error) {
	keys, err := kv.Keys(s.backend)
	if err != nil {
		return nil, fmt.Errorf("easystore: list keys: %w", err)
	}
	return keys, nil
}

// HasKey returns true if there's an item for key
func (s *Store) HasKey(key string) (bool, error) {
	_, ok, err := s.backend.GetItem(s.storeKey(key))
	if err != nil {
		return false, fmt.Errorf("easystore: has %q: %w", key, err)
	}
	return ok, nil
}

// RemoveItem removes key. Removing a missing key is a no-op.
func (s *Store) RemoveItem(key string) error {
	if err := s.backend.RemoveItem(s.storeKey(key)); err != nil {
		return fmt.Errorf("easystore: remove %q: %w", key, err)
	}
	return nil
}

// RemoveItems removes keys in order, stopping at the first error
func (s *Store) RemoveItems(keys []string) error {
	for _, key := range keys {
		if err := s.RemoveItem(key); err != nil {
			return err
		}
	}
	return nil
}
