//go:build !(js && wasm)

package easystore

import "github.com/kjk/easystore/kv"

func defaultBackend() kv.Backend {
	return kv.NewMemory()
}
