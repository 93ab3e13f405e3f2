// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package envelope

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/zeebo/errs"
)

// Kind discriminates the variants of a Value.
type Kind int

// The Value variants. KindAbsent is the zero Value and means "member not
// present"; KindNull means an explicit JSON null. The distinction matters:
// absent applies defaults, null means "explicitly no value".
const (
	KindAbsent Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindList
	KindObject
)

// Value is a tagged variant over free-form JSON: the envelope's result,
// error details, extension options and data are all Values.
type Value struct {
	kind    Kind
	boolean bool
	number  json.Number
	str     string
	list    []Value
	object  map[string]Value
}

// Null returns an explicit JSON null.
func Null() Value { return Value{kind: KindNull} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

// Int returns a numeric Value from an integer.
func Int(n int64) Value {
	return Value{kind: KindNumber, number: json.Number(strconv.FormatInt(n, 10))}
}

// Float returns a numeric Value from a float.
func Float(f float64) Value {
	data, _ := json.Marshal(f)
	return Value{kind: KindNumber, number: json.Number(data)}
}

// Number returns a numeric Value from a json.Number.
func Number(n json.Number) Value { return Value{kind: KindNumber, number: n} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Time returns a string Value in RFC 3339 format.
func Time(t time.Time) Value { return String(t.UTC().Format(time.RFC3339)) }

// List returns a list Value.
func List(values ...Value) Value { return Value{kind: KindList, list: values} }

// Object returns an object Value. Absent members are dropped.
func Object(members map[string]Value) Value {
	object := make(map[string]Value, len(members))
	for key, value := range members {
		if value.kind == KindAbsent {
			continue
		}
		object[key] = value
	}
	return Value{kind: KindObject, object: object}
}

// Kind returns the variant of the value.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether the value is the absent zero value.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// IsNull reports whether the value is an explicit null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean and whether the value is a boolean.
func (v Value) AsBool() (bool, bool) { return v.boolean, v.kind == KindBool }

// AsString returns the string and whether the value is a string.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsNumber returns the number and whether the value is numeric.
func (v Value) AsNumber() (json.Number, bool) { return v.number, v.kind == KindNumber }

// AsFloat returns the value as a float64.
func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := v.number.Float64()
	return f, err == nil
}

// AsInt returns the value as an int64; fails on fractional numbers.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	n, err := v.number.Int64()
	return n, err == nil
}

// AsTime parses the value as an RFC 3339 timestamp.
func (v Value) AsTime() (time.Time, bool) {
	if v.kind != KindString {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v.str)
	return t, err == nil
}

// AsList returns the elements and whether the value is a list.
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

// AsObject returns the members and whether the value is an object.
func (v Value) AsObject() (map[string]Value, bool) { return v.object, v.kind == KindObject }

// Member returns the named member of an object value; absent otherwise.
func (v Value) Member(name string) Value {
	if v.kind != KindObject {
		return Value{}
	}
	return v.object[name]
}

// Equal reports semantic equality, ignoring object member order.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindAbsent, KindNull:
		return true
	case KindBool:
		return v.boolean == other.boolean
	case KindNumber:
		a, aok := v.AsFloat()
		b, bok := other.AsFloat()
		return aok && bok && a == b
	case KindString:
		return v.str == other.str
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.object) != len(other.object) {
			return false
		}
		for key, value := range v.object {
			member, ok := other.object[key]
			if !ok || !value.Equal(member) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON implements json.Marshaler. Absent marshals as null; encoders
// building objects drop absent members before marshaling.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindAbsent, KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.boolean)
	case KindNumber:
		if v.number == "" {
			return []byte("0"), nil
		}
		return []byte(v.number), nil
	case KindString:
		return json.Marshal(v.str)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindObject:
		var buf bytes.Buffer
		buf.WriteByte('{')
		keys := make([]string, 0, len(v.object))
		for key := range v.object {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		first := true
		for _, key := range keys {
			member := v.object[key]
			if member.kind == KindAbsent {
				continue
			}
			if !first {
				buf.WriteByte(',')
			}
			first = false
			name, err := json.Marshal(key)
			if err != nil {
				return nil, err
			}
			buf.Write(name)
			buf.WriteByte(':')
			data, err := json.Marshal(member)
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return nil, errs.New("unknown value kind %d", v.kind)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var decoded interface{}
	if err := decoder.Decode(&decoded); err != nil {
		return err
	}
	*v = fromDecoded(decoded)
	return nil
}

// FromGo converts decoded JSON or plain Go scalars, slices and maps into a
// Value. Unsupported types become their string representation.
func FromGo(value interface{}) Value {
	return fromDecoded(value)
}

func fromDecoded(decoded interface{}) Value {
	switch value := decoded.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(value)
	case json.Number:
		return Number(value)
	case string:
		return String(value)
	case int:
		return Int(int64(value))
	case int64:
		return Int(value)
	case float64:
		return Float(value)
	case time.Time:
		return Time(value)
	case []interface{}:
		list := make([]Value, len(value))
		for i, element := range value {
			list[i] = fromDecoded(element)
		}
		return List(list...)
	case []string:
		list := make([]Value, len(value))
		for i, element := range value {
			list[i] = String(element)
		}
		return List(list...)
	case map[string]interface{}:
		object := make(map[string]Value, len(value))
		for key, member := range value {
			object[key] = fromDecoded(member)
		}
		return Object(object)
	case map[string]Value:
		return Object(value)
	case Value:
		return value
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return Null()
		}
		var replacement Value
		if err := replacement.UnmarshalJSON(data); err != nil {
			return Null()
		}
		return replacement
	}
}
