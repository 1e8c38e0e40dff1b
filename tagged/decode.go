package tagged

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/kjk/easystore/log"
)

type rawWire struct {
	Type  string
	Value json.RawMessage
}

// parseTagged is the detection heuristic: s must be a JSON object with a
// string "type" field and a "value" field (null is fine).
// A foreign string that happens to have this shape is read as tagged.
func parseTagged(s string) (*rawWire, bool) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &m); err != nil || m == nil {
		return nil, false
	}
	rawType, ok := m["type"]
	if !ok {
		return nil, false
	}
	rawType = bytes.TrimSpace(rawType)
	if len(rawType) == 0 || rawType[0] != '"' {
		return nil, false
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil {
		return nil, false
	}
	val, ok := m["value"]
	if !ok {
		return nil, false
	}
	return &rawWire{Type: typ, Value: val}, true
}

// IsTagged returns true if s looks like a value written by Encode
func IsTagged(s string) bool {
	_, ok := parseTagged(s)
	return ok
}

// Decode converts a string produced by Encode back to a native value.
// It never fails: strings that aren't tagged are returned unchanged.
func Decode(s string) any {
	return DecodeKey("", s)
}

// DecodeKey is Decode that names key in diagnostics
func DecodeKey(key string, s string) any {
	w, ok := parseTagged(s)
	if !ok {
		if key == "" {
			log.Warnf("value is not a tagged value, returning it as a plain string\n")
		} else {
			log.Warnf("value of %q is not a tagged value, returning it as a plain string\n", key)
		}
		return s
	}
	return decodeWire(key, w)
}

func decodeAny(raw json.RawMessage) any {
	var v any
	// raw was already validated by parseTagged
	_ = json.Unmarshal(raw, &v)
	return v
}

func decodeWire(key string, w *rawWire) any {
	t, known := ParseType(w.Type)
	if !known {
		log.Event("tagged.unknown_type", "key", key, "type", w.Type)
		return decodeAny(w.Value)
	}
	switch t {
	case TypeNone:
		return nil
	case TypeDate:
		tm, err := decodeDate(w.Value)
		if err != nil {
			log.Warnf("value of %q: %s, returning raw payload\n", key, err)
			return decodeAny(w.Value)
		}
		return tm
	case TypeSet:
		var items []any
		// null is an empty set
		if err := json.Unmarshal(w.Value, &items); err != nil {
			log.Warnf("value of %q: Set payload is not an array, returning raw payload\n", key)
			return decodeAny(w.Value)
		}
		return NewSet(items...)
	case TypeMap:
		m, err := decodeMap(w.Value)
		if err != nil {
			log.Warnf("value of %q: %s, returning raw payload\n", key, err)
			return decodeAny(w.Value)
		}
		return m
	}
	return decodeAny(w.Value)
}

// decodeDate accepts RFC 3339 strings (what we write) and epoch milliseconds
func decodeDate(raw json.RawMessage) (time.Time, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return time.Time{}, err
	}
	switch x := v.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
			if t, err := time.Parse(layout, x); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("invalid date %q", x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return time.Time{}, fmt.Errorf("invalid date %v", x)
		}
		return time.UnixMilli(int64(x)).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid date payload %s", string(raw))
}

// decodeMap reads [[key, value], ...]. Missing pair elements are nil.
// null is an empty map.
func decodeMap(raw json.RawMessage) (*Map, error) {
	var pairs [][]any
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, fmt.Errorf("payload of Map is not an array of pairs")
	}
	m := &Map{}
	for _, p := range pairs {
		var k, v any
		if len(p) > 0 {
			k = p[0]
		}
		if len(p) > 1 {
			v = p[1]
		}
		m.Set(k, v)
	}
	return m, nil
}

// DecodeInto decodes a tagged string into dst, which must be a non-nil pointer.
// Unlike Decode, numbers keep the precision of the destination type.
// Set payloads can fill a map[K]struct{} (or map[K]bool) or a slice, Map
// payloads can fill a map[K]V.
// A plain (untagged) string can only be decoded into *string, other
// destinations get ErrNotTagged.
func DecodeInto(s string, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("tagged: DecodeInto needs a non-nil pointer, got %T", dst)
	}
	w, ok := parseTagged(s)
	if !ok {
		if sp, ok := dst.(*string); ok {
			*sp = s
			return nil
		}
		return ErrNotTagged
	}
	err := decodeInto(w, rv.Elem(), dst)
	if err != nil {
		return fmt.Errorf("tagged: decode %s into %T: %w", w.Type, dst, err)
	}
	return nil
}

func decodeInto(w *rawWire, elem reflect.Value, dst any) error {
	t, _ := ParseType(w.Type)
	switch x := dst.(type) {
	case *any:
		*x = decodeWire("", w)
		return nil
	case *time.Time:
		if t == TypeNone {
			*x = time.Time{}
			return nil
		}
		tm, err := decodeDate(w.Value)
		if err != nil {
			return err
		}
		*x = tm
		return nil
	}

	if t == TypeNone {
		elem.Set(reflect.Zero(elem.Type()))
		return nil
	}
	if t == TypeSet && elem.Kind() == reflect.Map {
		return fillSet(w.Value, elem)
	}
	if t == TypeMap && elem.Kind() == reflect.Map {
		return fillMap(w.Value, elem)
	}
	return json.Unmarshal(w.Value, dst)
}

func fillSet(raw json.RawMessage, elem reflect.Value) error {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return err
	}
	typ := elem.Type()
	m := reflect.MakeMapWithSize(typ, len(items))
	present := reflect.Zero(typ.Elem())
	if typ.Elem().Kind() == reflect.Bool {
		present = reflect.ValueOf(true).Convert(typ.Elem())
	}
	for _, item := range items {
		k := reflect.New(typ.Key())
		if err := json.Unmarshal(item, k.Interface()); err != nil {
			return err
		}
		m.SetMapIndex(k.Elem(), present)
	}
	elem.Set(m)
	return nil
}

func fillMap(raw json.RawMessage, elem reflect.Value) error {
	var pairs [][]json.RawMessage
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return err
	}
	typ := elem.Type()
	m := reflect.MakeMapWithSize(typ, len(pairs))
	for _, p := range pairs {
		if len(p) != 2 {
			return fmt.Errorf("map entry has %d elements, expected 2", len(p))
		}
		k := reflect.New(typ.Key())
		if err := json.Unmarshal(p[0], k.Interface()); err != nil {
			return err
		}
		v := reflect.New(typ.Elem())
		if err := json.Unmarshal(p[1], v.Interface()); err != nil {
			return err
		}
		m.SetMapIndex(k.Elem(), v.Elem())
	}
	elem.Set(m)
	return nil
}
