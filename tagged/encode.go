package tagged

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// wire is the persisted shape. Field order matters: type comes first.
type wire struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

var emptyStructType = reflect.TypeOf(struct{}{})

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Classify returns the Type v would be stored as.
func Classify(v any) (Type, error) {
	t, _, err := classify(v)
	return t, err
}

// classify resolves the Type of v and the payload to serialize for it.
// Checks run in a fixed order and the first match wins.
func classify(v any) (Type, any, error) {
	if v == nil {
		return TypeNone, nil, nil
	}
	switch x := v.(type) {
	case json.Number:
		return TypeNumber, x, nil
	case time.Time:
		return TypeDate, formatDate(x), nil
	case *time.Time:
		if x == nil {
			return TypeNone, nil, nil
		}
		return TypeDate, formatDate(*x), nil
	case *Set:
		if x == nil {
			return TypeNone, nil, nil
		}
		return TypeSet, x, nil
	case Set:
		return TypeSet, &x, nil
	case *Map:
		if x == nil {
			return TypeNone, nil, nil
		}
		return TypeMap, x, nil
	case Map:
		return TypeMap, &x, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return TypeNone, nil, nil
		}
		return classify(rv.Elem().Interface())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return TypeNumber, v, nil
	case reflect.String:
		return TypeString, v, nil
	case reflect.Bool:
		return TypeBoolean, v, nil
	case reflect.Slice, reflect.Array:
		return TypeArray, arrayPayload(rv), nil
	case reflect.Map:
		if rv.Type().Elem() == emptyStructType {
			return TypeSet, setPayload(rv), nil
		}
		if rv.Type().Key().Kind() == reflect.String {
			if rv.IsNil() {
				return TypeObject, map[string]any{}, nil
			}
			return TypeObject, v, nil
		}
		return TypeMap, mapPayload(rv), nil
	case reflect.Struct:
		return TypeObject, v, nil
	}
	return TypeNone, nil, &UnsupportedTypeError{Type: rv.Type()}
}

// arrayPayload makes sure nil slices encode as [] and byte slices as
// numbers rather than base64
func arrayPayload(rv reflect.Value) any {
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		return []any{}
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		res := make([]int, rv.Len())
		for i := range res {
			res[i] = int(rv.Index(i).Uint())
		}
		return res
	}
	return rv.Interface()
}

// sortedMapKeys orders Go map keys so that encoding a native map is
// deterministic: numerically for numbers, by JSON encoding otherwise.
func sortedMapKeys(rv reflect.Value) []reflect.Value {
	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		switch a.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return a.Int() < b.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return a.Uint() < b.Uint()
		case reflect.Float32, reflect.Float64:
			return a.Float() < b.Float()
		}
		return identity(a.Interface()) < identity(b.Interface())
	})
	return keys
}

func setPayload(rv reflect.Value) any {
	res := []any{}
	for _, k := range sortedMapKeys(rv) {
		res = append(res, k.Interface())
	}
	return res
}

func mapPayload(rv reflect.Value) any {
	res := [][2]any{}
	for _, k := range sortedMapKeys(rv) {
		res = append(res, [2]any{k.Interface(), rv.MapIndex(k).Interface()})
	}
	return res
}

// Encode serializes v as a tagged JSON string.
// Returns *UnsupportedTypeError if v (or something nested in it) has no
// JSON representation.
func Encode(v any) (string, error) {
	t, payload, err := classify(v)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// stored values are not embedded in HTML, keep <, > and & readable
	enc.SetEscapeHTML(false)
	err = enc.Encode(wire{Type: t.String(), Value: payload})
	if err != nil {
		var errType *json.UnsupportedTypeError
		var errValue *json.UnsupportedValueError
		if errors.As(err, &errType) || errors.As(err, &errValue) {
			return "", &UnsupportedTypeError{Type: reflect.TypeOf(v), Err: err}
		}
		return "", fmt.Errorf("tagged: encode %T: %w", v, err)
	}
	// Encode() adds a newline
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
