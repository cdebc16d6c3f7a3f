package scalar

import (
	"errors"
	"fmt"
)

// ErrUndecodable is returned when a driver value has no Scalar kind.
var ErrUndecodable = errors.New("scalar: undecodable driver value")

// Kind is the storage class of a Value.
type Kind uint8

// Value kinds, mirroring SQLite's five fundamental datatypes.
const (
	KindNull Kind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
)

// String returns the SQLite name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindText:
		return "text"
	case KindBlob:
		return "blob"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is one atomic database value. The zero Value is Null.
//
// Values own their data: Blob copies on construction and Bytes returns the
// stored slice, which callers must treat as read-only.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
}

// Null returns the SQL NULL value.
func Null() Value {
	return Value{}
}

// Integer returns a 64-bit signed integer value.
func Integer(i int64) Value {
	return Value{kind: KindInteger, i: i}
}

// Bool returns Integer 1 for true and Integer 0 for false.
func Bool(b bool) Value {
	if b {
		return Integer(1)
	}
	return Integer(0)
}

// Real returns a 64-bit floating point value.
func Real(f float64) Value {
	return Value{kind: KindReal, f: f}
}

// Text returns a UTF-8 text value.
func Text(s string) Value {
	return Value{kind: KindText, s: s}
}

// Blob returns a byte sequence value backed by a copy of b.
// A nil or empty b yields a zero-length blob, not NULL.
func Blob(b []byte) Value {
	buf := make([]byte, len(b))
	copy(buf, b)
	return Value{kind: KindBlob, b: buf}
}

// Kind reports the storage class of v.
func (v Value) Kind() Kind {
	return v.kind
}

// IsNull reports whether v is SQL NULL.
func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// Int64 returns the integer payload. It is 0 for non-Integer values.
func (v Value) Int64() int64 {
	return v.i
}

// Float64 returns the real payload. It is 0 for non-Real values.
func (v Value) Float64() float64 {
	return v.f
}

// Text returns the text payload. It is "" for non-Text values.
func (v Value) Text() string {
	return v.s
}

// Bytes returns the blob payload. It is nil for non-Blob values.
func (v Value) Bytes() []byte {
	return v.b
}

// Arg returns v in the form accepted by database/sql for positional binding.
//
// Null binds as nil. Blob always binds as a non-nil slice so an empty blob
// is stored as a zero-length blob rather than NULL.
func (v Value) Arg() any {
	switch v.kind {
	case KindInteger:
		return v.i
	case KindReal:
		return v.f
	case KindText:
		return v.s
	case KindBlob:
		if v.b == nil {
			return []byte{}
		}
		return v.b
	default:
		return nil
	}
}

// String renders v for logs and test failures.
func (v Value) String() string {
	switch v.kind {
	case KindInteger:
		return fmt.Sprintf("integer(%d)", v.i)
	case KindReal:
		return fmt.Sprintf("real(%g)", v.f)
	case KindText:
		return fmt.Sprintf("text(%q)", v.s)
	case KindBlob:
		return fmt.Sprintf("blob(%d bytes)", len(v.b))
	default:
		return "null"
	}
}

// Equal reports whether a and b have the same kind and payload.
// Reals compare by value, so NaN is never equal to itself.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindInteger:
		return a.i == b.i
	case KindReal:
		return a.f == b.f
	case KindText:
		return a.s == b.s
	case KindBlob:
		if len(a.b) != len(b.b) {
			return false
		}
		for i := range a.b {
			if a.b[i] != b.b[i] {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// FromDriver decodes a cell read from the sqlite3 driver with declared-type
// conversion turned off, so src is always one of the five storage classes.
func FromDriver(src any) (Value, error) {
	switch x := src.(type) {
	case nil:
		return Null(), nil
	case int64:
		return Integer(x), nil
	case float64:
		return Real(x), nil
	case string:
		return Text(x), nil
	case []byte:
		// The driver copies blob cells out of SQLite's buffer.
		if x == nil {
			x = []byte{}
		}
		return Value{kind: KindBlob, b: x}, nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUndecodable, src)
	}
}
