//go:build js && wasm

package easystore

import (
	"github.com/kjk/easystore/jskv"
	"github.com/kjk/easystore/kv"
	"github.com/kjk/easystore/log"
)

func defaultBackend() kv.Backend {
	b, err := jskv.LocalStorage()
	if err != nil {
		log.Errorf("localStorage is not available, using memory: %s", err)
		return kv.NewMemory()
	}
	return b
}
