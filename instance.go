package easystore

import (
	"sync"

	"github.com/kjk/easystore/kv"
)

var (
	instance     *Store
	instanceOnce sync.Once

	// DefaultBackend creates the backend of Instance(). Replace it before the
	// first call to Instance() to use a different store.
	// It's localStorage in the browser (GOOS=js) and memory otherwise.
	DefaultBackend func() kv.Backend = defaultBackend
)

// Instance returns the process-wide Store, creating it on first use.
// Use New() to manage your own Store instead.
func Instance() *Store {
	instanceOnce.Do(func() {
		instance = New(DefaultBackend())
	})
	return instance
}
