// Package kvtest is a conformance suite for kv.Backend implementations.
package kvtest

import (
	"sort"
	"testing"

	"github.com/alecthomas/assert"

	"github.com/kjk/easystore/kv"
)

type Options struct {
	// if true, keys must be enumerated in order of first insertion
	InsertionOrder bool
}

// Run runs the suite. open must return a new, empty backend for each call.
func Run(t *testing.T, open func(t *testing.T) kv.Backend, opts Options) {
	t.Run("Empty", func(t *testing.T) {
		testEmpty(t, open(t))
	})
	t.Run("SetGet", func(t *testing.T) {
		testSetGet(t, open(t))
	})
	t.Run("Remove", func(t *testing.T) {
		testRemove(t, open(t))
	})
	t.Run("Enumerate", func(t *testing.T) {
		testEnumerate(t, open(t), opts)
	})
}

func get(t *testing.T, b kv.Backend, key string) (string, bool) {
	t.Helper()
	v, ok, err := b.GetItem(key)
	assert.NoError(t, err)
	return v, ok
}

func length(t *testing.T, b kv.Backend) int {
	t.Helper()
	n, err := b.Len()
	assert.NoError(t, err)
	return n
}

func testEmpty(t *testing.T, b kv.Backend) {
	assert.Equal(t, 0, length(t, b))
	_, ok, err := b.Key(0)
	assert.NoError(t, err)
	assert.False(t, ok)
	_, ok = get(t, b, "missing")
	assert.False(t, ok)
	keys, err := kv.Keys(b)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(keys))
}

func testSetGet(t *testing.T, b kv.Backend) {
	values := map[string]string{
		"a":          "1",
		"app_x":      `{"type":"Number","value":1}`,
		"with space": "multi\nline\nvalue\n",
		"ünïcode":    "日本語",
		"empty":      "",
		"a/b":        "slash",
	}
	for k, v := range values {
		assert.NoError(t, b.SetItem(k, v))
	}
	for k, v := range values {
		got, ok := get(t, b, k)
		assert.True(t, ok, k)
		assert.Equal(t, v, got, k)
	}
	assert.Equal(t, len(values), length(t, b))

	// overwrite doesn't add a key
	assert.NoError(t, b.SetItem("a", "2"))
	got, _ := get(t, b, "a")
	assert.Equal(t, "2", got)
	assert.Equal(t, len(values), length(t, b))
}

func testRemove(t *testing.T, b kv.Backend) {
	assert.NoError(t, b.SetItem("a", "1"))
	assert.NoError(t, b.SetItem("b", "2"))
	assert.NoError(t, b.RemoveItem("a"))
	_, ok := get(t, b, "a")
	assert.False(t, ok)
	assert.NoError(t, b.RemoveItem("a"))
	assert.NoError(t, b.RemoveItem("never-set"))
	assert.Equal(t, 1, length(t, b))
	key, ok, err := b.Key(0)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", key)

	// re-adding a removed key works
	assert.NoError(t, b.SetItem("a", "3"))
	got, ok := get(t, b, "a")
	assert.True(t, ok)
	assert.Equal(t, "3", got)
	assert.Equal(t, 2, length(t, b))
}

func testEnumerate(t *testing.T, b kv.Backend, opts Options) {
	exp := []string{"k3", "k1", "k2", "k0"}
	for _, k := range exp {
		assert.NoError(t, b.SetItem(k, "v-"+k))
	}
	// overwrite must not move the key
	assert.NoError(t, b.SetItem("k1", "again"))

	n := length(t, b)
	assert.Equal(t, len(exp), n)
	var byIndex []string
	for i := 0; i < n; i++ {
		key, ok, err := b.Key(i)
		assert.NoError(t, err)
		assert.True(t, ok, "index %d", i)
		byIndex = append(byIndex, key)
	}
	_, ok, err := b.Key(n)
	assert.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = b.Key(-1)
	assert.NoError(t, err)
	assert.False(t, ok)

	keys, err := kv.Keys(b)
	assert.NoError(t, err)
	assert.Equal(t, byIndex, keys)

	if opts.InsertionOrder {
		assert.Equal(t, exp, keys)
		return
	}
	sorted := append([]string{}, exp...)
	sort.Strings(sorted)
	sort.Strings(keys)
	assert.Equal(t, sorted, keys)
}
