// Package kv defines the string key-value store that easystore persists to,
// modeled on the Web Storage API (localStorage), and an in-memory
// implementation of it.
package kv

// Backend is a string-keyed store of string values.
// Key(i) for 0 <= i < Len() enumerates every key, including keys written by
// other users of the same store.
type Backend interface {
	// GetItem returns the value for key. ok is false if there's no entry.
	GetItem(key string) (value string, ok bool, err error)
	SetItem(key string, value string) error
	// RemoveItem deletes key. Removing a missing key is not an error.
	RemoveItem(key string) error
	// Key returns the key at index. ok is false if index is out of range.
	Key(index int) (key string, ok bool, err error)
	Len() (int, error)
}

// KeyLister is implemented by backends that can list all keys in one call
// more cheaply than via Len() and Key()
type KeyLister interface {
	Keys() ([]string, error)
}

// Keys returns all keys in b
func Keys(b Backend) ([]string, error) {
	if kl, ok := b.(KeyLister); ok {
		return kl.Keys()
	}
	n, err := b.Len()
	if err != nil {
		return nil, err
	}
	res := make([]string, 0, n)
	for i := 0; i < n; i++ {
		key, ok, err := b.Key(i)
		if err != nil {
			return nil, err
		}
		// store shrank while we were iterating
		if !ok {
			break
		}
		res = append(res, key)
	}
	return res, nil
}
