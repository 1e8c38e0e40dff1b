package kv

import "sync"

// Memory is an in-memory Backend. Keys are kept in order of first insertion.
// It's safe for concurrent use.
type Memory struct {
	mu    sync.Mutex
	items map[string]string
	keys  []string
}

var (
	_ Backend   = &Memory{}
	_ KeyLister = &Memory{}
)

func NewMemory() *Memory {
	return &Memory{
		items: map[string]string{},
	}
}

func (m *Memory) GetItem(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *Memory) SetItem(key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = map[string]string{}
	}
	if _, exists := m.items[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.items[key] = value
	return nil
}

func (m *Memory) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[key]; !exists {
		return nil
	}
	delete(m.items, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) Key(index int) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.keys) {
		return "", false, nil
	}
	return m.keys[index], true, nil
}

func (m *Memory) Len() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys), nil
}

func (m *Memory) Keys() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.keys...), nil
}

// Clear removes all items
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = map[string]string{}
	m.keys = nil
}
