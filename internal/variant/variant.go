// Package variant implements the tagged-union payload used for task
// results: one of {int32, int64, double, string, bytes}, encoded with a
// one-byte kind tag prefix per element so neither the transport nor the
// solver needs reflection to move a value across the wire.
package variant

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Kind identifies which field of a Value is populated.
type Kind byte

const (
	KindInt32 Kind = iota + 1
	KindInt64
	KindFloat64
	KindString
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "double"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}

// Value is one tagged element of a Variants payload. Exactly the field
// named by Kind is meaningful.
type Value struct {
	Kind  Kind
	I32   int32
	I64   int64
	F64   float64
	Str   string
	Bytes []byte
}

func Int32(v int32) Value    { return Value{Kind: KindInt32, I32: v} }
func Int64(v int64) Value    { return Value{Kind: KindInt64, I64: v} }
func Float64(v float64) Value { return Value{Kind: KindFloat64, F64: v} }
func String(v string) Value  { return Value{Kind: KindString, Str: v} }
func Bytes(v []byte) Value   { return Value{Kind: KindBytes, Bytes: append([]byte(nil), v...)} }

// Variants is an ordered sequence of tagged values, the payload type
// carried by task results.
type Variants []Value

// Reader is the read-only view handed to the solver's setResult callback,
// decoupling the solver package from the wire encoding of Variants.
type Reader interface {
	Len() int
	Kind(i int) Kind
	Int32(i int) int32
	Int64(i int) int64
	Float64(i int) float64
	String(i int) string
	Bytes(i int) []byte
}

var _ Reader = Variants(nil)

func (v Variants) Len() int               { return len(v) }
func (v Variants) Kind(i int) Kind        { return v[i].Kind }
func (v Variants) Int32(i int) int32      { return v[i].I32 }
func (v Variants) Int64(i int) int64      { return v[i].I64 }
func (v Variants) Float64(i int) float64  { return v[i].F64 }
func (v Variants) String(i int) string    { return v[i].Str }
func (v Variants) Bytes(i int) []byte     { return v[i].Bytes }

// MarshalBinary encodes the sequence as a one-byte kind tag per element
// followed by its payload (fixed-width for numeric kinds, length-prefixed
// for string/bytes).
func (v Variants) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(v))); err != nil {
		return nil, err
	}
	for _, item := range v {
		buf.WriteByte(byte(item.Kind))
		switch item.Kind {
		case KindInt32:
			if err := binary.Write(&buf, binary.BigEndian, item.I32); err != nil {
				return nil, err
			}
		case KindInt64:
			if err := binary.Write(&buf, binary.BigEndian, item.I64); err != nil {
				return nil, err
			}
		case KindFloat64:
			if err := binary.Write(&buf, binary.BigEndian, item.F64); err != nil {
				return nil, err
			}
		case KindString:
			if err := writeLenPrefixed(&buf, []byte(item.Str)); err != nil {
				return nil, err
			}
		case KindBytes:
			if err := writeLenPrefixed(&buf, item.Bytes); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("variant: unknown kind %d", item.Kind)
		}
	}
	return buf.Bytes(), nil
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := buf.Write(b)
	return err
}

// UnmarshalBinary is the inverse of MarshalBinary.
func (v *Variants) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return err
	}
	out := make(Variants, 0, n)
	for i := uint32(0); i < n; i++ {
		kindByte, err := r.ReadByte()
		if err != nil {
			return err
		}
		item := Value{Kind: Kind(kindByte)}
		switch item.Kind {
		case KindInt32:
			if err := binary.Read(r, binary.BigEndian, &item.I32); err != nil {
				return err
			}
		case KindInt64:
			if err := binary.Read(r, binary.BigEndian, &item.I64); err != nil {
				return err
			}
		case KindFloat64:
			if err := binary.Read(r, binary.BigEndian, &item.F64); err != nil {
				return err
			}
		case KindString:
			b, err := readLenPrefixed(r)
			if err != nil {
				return err
			}
			item.Str = string(b)
		case KindBytes:
			b, err := readLenPrefixed(r)
			if err != nil {
				return err
			}
			item.Bytes = b
		default:
			return fmt.Errorf("variant: unknown kind %d at index %d", kindByte, i)
		}
		out = append(out, item)
	}
	*v = out
	return nil
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // matches Bytes(), which stores empty input as nil
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil && n > 0 {
		return nil, err
	}
	return b, nil
}

// MarshalJSON embeds the binary tag-prefixed encoding as a base64 string so
// Variants can ride inside a JSON wire envelope without losing the
// one-byte-tag representation the wire protocol calls for.
func (v Variants) MarshalJSON() ([]byte, error) {
	b, err := v.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return marshalBase64JSON(b)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (v *Variants) UnmarshalJSON(data []byte) error {
	b, err := unmarshalBase64JSON(data)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*v = nil
		return nil
	}
	return v.UnmarshalBinary(b)
}
