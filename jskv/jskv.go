//go:build js && wasm

package jskv

import (
	"errors"
	"fmt"
	"syscall/js"

	"github.com/kjk/easystore/kv"
)

var ErrNoStorage = errors.New("jskv: storage is not available")

// Storage wraps a JavaScript Storage object
type Storage struct {
	v js.Value
}

var _ kv.Backend = &Storage{}

func open(name string) (*Storage, error) {
	v := js.Global().Get(name)
	if v.IsUndefined() || v.IsNull() {
		return nil, fmt.Errorf("%w: %s", ErrNoStorage, name)
	}
	return &Storage{v: v}, nil
}

// LocalStorage returns window.localStorage
func LocalStorage() (*Storage, error) {
	return open("localStorage")
}

// SessionStorage returns window.sessionStorage
func SessionStorage() (*Storage, error) {
	return open("sessionStorage")
}

// call invokes a Storage method, converting a thrown exception
// (e.g. QuotaExceededError from setItem) to an error
func (s *Storage) call(method string, args ...any) (res js.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			if jsErr, ok := r.(js.Error); ok {
				err = fmt.Errorf("jskv: %s: %w", method, jsErr)
				return
			}
			panic(r)
		}
	}()
	return s.v.Call(method, args...), nil
}

func (s *Storage) GetItem(key string) (string, bool, error) {
	v, err := s.call("getItem", key)
	if err != nil {
		return "", false, err
	}
	if v.IsNull() {
		return "", false, nil
	}
	return v.String(), true, nil
}

func (s *Storage) SetItem(key string, value string) error {
	_, err := s.call("setItem", key, value)
	return err
}

func (s *Storage) RemoveItem(key string) error {
	_, err := s.call("removeItem", key)
	return err
}

// Key returns the key at index. Browsers don't guarantee key order.
func (s *Storage) Key(index int) (string, bool, error) {
	if index < 0 {
		return "", false, nil
	}
	v, err := s.call("key", index)
	if err != nil {
		return "", false, err
	}
	if v.IsNull() {
		return "", false, nil
	}
	return v.String(), true, nil
}

func (s *Storage) Len() (int, error) {
	return s.v.Get("length").Int(), nil
}
