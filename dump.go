package easystore

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/pretty"

	"github.com/kjk/easystore/kv"
	"github.com/kjk/easystore/tagged"
	"github.com/kjk/easystore/transform"
)

type dumpEntry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Dump returns all items in the backend as pretty-printed JSON array of
// {"key": ..., "value": ...}, in backend key order. Tagged values are shown
// as stored, other values as JSON strings. pre is applied to each
// stored string first.
func (s *Store) Dump(pre transform.Func) ([]byte, error) {
	keys, err := kv.Keys(s.backend)
	if err != nil {
		return nil, fmt.Errorf("easystore: dump: %w", err)
	}
	entries := make([]dumpEntry, 0, len(keys))
	for _, key := range keys {
		str, ok, err := s.backend.GetItem(key)
		if err != nil {
			return nil, fmt.Errorf("easystore: dump %q: %w", key, err)
		}
		if !ok {
			// removed while we were iterating
			continue
		}
		if str != "" {
			if str, err = pre.Apply(str); err != nil {
				return nil, fmt.Errorf("easystore: dump %q: transform: %w", key, err)
			}
		}
		var raw []byte
		if tagged.IsTagged(str) {
			raw = []byte(str)
		} else if raw, err = json.Marshal(str); err != nil {
			return nil, err
		}
		entries = append(entries, dumpEntry{Key: key, Value: raw})
	}
	d, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	return pretty.Pretty(d), nil
}
