// Package jskv is a kv.Backend over the browser's Web Storage.
// It's only available when compiled with GOOS=js GOARCH=wasm.
package jskv
