package jsonmerge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tailscale/hujson"

	"github.com/schaermu/toolsync/internal/apperr"
)

// Parse decodes a JSON or JSONC document. Comments and trailing commas are
// accepted; member order is preserved.
func Parse(data []byte) (Value, error) {
	std, err := hujson.Standardize(append([]byte(nil), data...))
	if err != nil {
		return Value{}, apperr.Parse("parse", "", err)
	}

	dec := json.NewDecoder(bytes.NewReader(std))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, apperr.Parse("parse", "", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, apperr.Parse("parse", "", fmt.Errorf("unexpected data after top-level value"))
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}

	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t), nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("expected object key, got %v", keyTok)
				}
				member, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				obj.Set(key, member)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return ObjectValue(obj), nil
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Array(items...), nil
		}
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}

// Encode renders v with two-space indentation and a trailing newline.
// Object members are written in insertion order.
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v, 0); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v Value, depth int) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		buf.WriteString(v.num.String())
	case KindString:
		return encodeString(buf, v.str)
	case KindArray:
		if len(v.arr) == 0 {
			buf.WriteString("[]")
			return nil
		}
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			newline(buf, depth+1)
			if err := encodeValue(buf, item, depth+1); err != nil {
				return err
			}
		}
		newline(buf, depth)
		buf.WriteByte(']')
	case KindObject:
		if v.obj.Len() == 0 {
			buf.WriteString("{}")
			return nil
		}
		buf.WriteByte('{')
		for i, k := range v.obj.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			newline(buf, depth+1)
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteString(": ")
			if err := encodeValue(buf, v.obj.values[k], depth+1); err != nil {
				return err
			}
		}
		newline(buf, depth)
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown value kind %d", v.kind)
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encoder appends a newline after each value.
	buf.Truncate(buf.Len() - 1)
	return nil
}

func newline(buf *bytes.Buffer, depth int) {
	buf.WriteByte('\n')
	for i := 0; i < depth; i++ {
		buf.WriteString("  ")
	}
}
