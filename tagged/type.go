// Package tagged converts native Go values to and from tagged JSON strings
// of the form {"type":"<Type>","value":<payload>}.
//
// The type names are the wire contract and must never be renamed: data
// written by earlier versions is read back by name.
package tagged

import (
	"errors"
	"fmt"
	"reflect"
)

// Type is the semantic type recorded next to a value.
// Numeric values are not persisted, only names are.
type Type int

const (
	TypeNone Type = iota - 1
	TypeString
	TypeNumber
	TypeBoolean
	TypeArray
	TypeObject
	TypeDate
	TypeSet
	TypeMap
)

var typeNames = map[Type]string{
	TypeNone:    "None",
	TypeString:  "String",
	TypeNumber:  "Number",
	TypeBoolean: "Boolean",
	TypeArray:   "Array",
	TypeObject:  "Object",
	TypeDate:    "Date",
	TypeSet:     "Set",
	TypeMap:     "Map",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType returns the Type for a wire name. Names are case-sensitive.
func ParseType(name string) (Type, bool) {
	for t, s := range typeNames {
		if s == name {
			return t, true
		}
	}
	return 0, false
}

var (
	// ErrUnsupportedType is matched by every *UnsupportedTypeError
	ErrUnsupportedType = errors.New("tagged: unsupported type")
	// ErrNotTagged is returned by DecodeInto when the input is a plain string
	// and the destination can't hold one
	ErrNotTagged = errors.New("tagged: not a tagged value")
)

// UnsupportedTypeError is returned by Encode for values that have no
// tagged representation, e.g. functions and channels.
type UnsupportedTypeError struct {
	Type reflect.Type
	// Err is the underlying encoder error for nested values, if any
	Err error
}

func (e *UnsupportedTypeError) Error() string {
	s := fmt.Sprintf("tagged: unsupported type %v", e.Type)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *UnsupportedTypeError) Is(target error) bool {
	return target == ErrUnsupportedType
}

func (e *UnsupportedTypeError) Unwrap() error {
	return e.Err
}
