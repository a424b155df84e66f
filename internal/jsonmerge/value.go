// Package jsonmerge extracts selected key paths from JSON and JSONC documents
// and merges them into other documents without touching unrelated content.
package jsonmerge

import (
	"encoding/json"
	"math/big"
	"sort"
)

// Kind is the type tag of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a structured document node. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	num  json.Number
	str  string
	arr  []Value
	obj  *Object
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a number literal, keeping its textual form.
func Number(n json.Number) Value { return Value{kind: KindNumber, num: n} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Array wraps a list of values.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, arr: items}
}

// ObjectValue wraps an object. A nil object becomes an empty one.
func ObjectValue(o *Object) Value {
	if o == nil {
		o = NewObject()
	}
	return Value{kind: KindObject, obj: o}
}

// Kind returns the type tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the number payload.
func (v Value) AsNumber() (json.Number, bool) { return v.num, v.kind == KindNumber }

// AsString returns the string payload.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsArray returns the array items. The slice is shared with v.
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }

// AsObject returns the object payload. The object is shared with v.
func (v Value) AsObject() (*Object, bool) { return v.obj, v.kind == KindObject }

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		items := make([]Value, len(v.arr))
		for i, item := range v.arr {
			items[i] = item.Clone()
		}
		return Value{kind: KindArray, arr: items}
	case KindObject:
		return Value{kind: KindObject, obj: v.obj.Clone()}
	default:
		return v
	}
}

// Object is a JSON object that remembers key insertion order.
type Object struct {
	keys   []string
	values map[string]Value
}

// NewObject returns an empty object.
func NewObject() *Object {
	return &Object{values: make(map[string]Value)}
}

// Len returns the number of members.
func (o *Object) Len() int { return len(o.keys) }

// Keys returns member names in insertion order.
func (o *Object) Keys() []string {
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Get returns the member named key.
func (o *Object) Get(key string) (Value, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Set stores a member. Existing keys keep their position, new keys are
// appended.
func (o *Object) Set(key string, v Value) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

// Delete removes a member if present.
func (o *Object) Delete(key string) {
	if _, ok := o.values[key]; !ok {
		return
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Clone returns a deep copy of o.
func (o *Object) Clone() *Object {
	out := &Object{
		keys:   make([]string, len(o.keys)),
		values: make(map[string]Value, len(o.values)),
	}
	copy(out.keys, o.keys)
	for k, v := range o.values {
		out.values[k] = v.Clone()
	}
	return out
}

// Canonical returns a deep copy of v with every object's members sorted by
// name. Equal values have identical canonical encodings, up to number
// spelling.
func Canonical(v Value) Value {
	switch v.kind {
	case KindArray:
		items := make([]Value, len(v.arr))
		for i, item := range v.arr {
			items[i] = Canonical(item)
		}
		return Value{kind: KindArray, arr: items}
	case KindObject:
		keys := v.obj.Keys()
		sort.Strings(keys)
		out := NewObject()
		for _, k := range keys {
			out.Set(k, Canonical(v.obj.values[k]))
		}
		return Value{kind: KindObject, obj: out}
	default:
		return v
	}
}

// Equal reports deep equality. Object member order is ignored and numbers
// compare by numeric value, so 1.0 equals 1.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return numbersEqual(a.num, b.num)
	case KindString:
		return a.str == b.str
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if a.obj.Len() != b.obj.Len() {
			return false
		}
		for _, k := range a.obj.keys {
			bv, ok := b.obj.values[k]
			if !ok || !Equal(a.obj.values[k], bv) {
				return false
			}
		}
		return true
	}
	return false
}

func numbersEqual(a, b json.Number) bool {
	if a == b {
		return true
	}
	x, ok := new(big.Float).SetString(string(a))
	if !ok {
		return false
	}
	y, ok := new(big.Float).SetString(string(b))
	if !ok {
		return false
	}
	return x.Cmp(y) == 0
}
