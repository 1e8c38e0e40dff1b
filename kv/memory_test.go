package kv_test

import (
	"testing"

	"github.com/alecthomas/assert"

	"github.com/kjk/easystore/kv"
	"github.com/kjk/easystore/kv/kvtest"
)

func TestMemoryConformance(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Backend {
		return kv.NewMemory()
	}, kvtest.Options{InsertionOrder: true})
}

func TestMemoryZeroValue(t *testing.T) {
	var m kv.Memory
	assert.NoError(t, m.SetItem("a", "1"))
	v, ok, err := m.GetItem("a")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestMemoryClear(t *testing.T) {
	m := kv.NewMemory()
	assert.NoError(t, m.SetItem("a", "1"))
	m.Clear()
	n, err := m.Len()
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

// onlyIndexed hides Memory's KeyLister so kv.Keys has to go through Key()
type onlyIndexed struct {
	m *kv.Memory
}

func (o onlyIndexed) GetItem(key string) (string, bool, error) { return o.m.GetItem(key) }
func (o onlyIndexed) SetItem(key, value string) error          { return o.m.SetItem(key, value) }
func (o onlyIndexed) RemoveItem(key string) error              { return o.m.RemoveItem(key) }
func (o onlyIndexed) Key(i int) (string, bool, error)          { return o.m.Key(i) }
func (o onlyIndexed) Len() (int, error)                        { return o.m.Len() }

func TestKeysWithoutLister(t *testing.T) {
	b := onlyIndexed{kv.NewMemory()}
	for _, k := range []string{"x", "y", "z"} {
		assert.NoError(t, b.SetItem(k, k))
	}
	keys, err := kv.Keys(b)
	assert.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, keys)
}
