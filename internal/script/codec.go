package script

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/dop251/goja"

	"github.com/nerrad567/sqlbridge/internal/scalar"
	"github.com/nerrad567/sqlbridge/internal/sqlexec"
)

// codec converts between goja values and scalars for one runtime.
// It is bound to that runtime and shares its goroutine restrictions.
//
// The builtins it relies on are captured when the codec is made, so a
// script that reassigns JSON or Uint8Array cannot change how values are
// encoded or rendered.
type codec struct {
	rt         *goja.Runtime
	uint8Array *goja.Object
	stringify  goja.Callable
}

func newCodec(rt *goja.Runtime) (*codec, error) {
	u8, ok := rt.Get("Uint8Array").(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("%w: Uint8Array unavailable", ErrResult)
	}
	j, ok := rt.Get("JSON").(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("%w: JSON unavailable", ErrResult)
	}
	stringify, ok := goja.AssertFunction(j.Get("stringify"))
	if !ok {
		return nil, fmt.Errorf("%w: JSON.stringify unavailable", ErrResult)
	}
	return &codec{rt: rt, uint8Array: u8, stringify: stringify}, nil
}

// encode converts a script value into an owned scalar.
//
// position is only used to label a ParameterError.
func (c *codec) encode(v goja.Value, position int) (scalar.Value, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return scalar.Null(), nil
	}
	if _, ok := v.(*goja.Symbol); ok {
		return scalar.Value{}, &ParameterError{Position: position, Kind: "symbol"}
	}
	if obj, ok := v.(*goja.Object); ok {
		return c.encodeObject(obj, position)
	}

	switch x := v.Export().(type) {
	case bool:
		return scalar.Bool(x), nil
	case int64:
		return scalar.Integer(x), nil
	case float64:
		return scalar.Real(x), nil
	case string:
		// Export has already replaced lone surrogates with U+FFFD, so the
		// check runs on the UTF-16 code units.
		if js, ok := v.(goja.String); ok && hasLoneSurrogate(js) {
			return scalar.Text(""), nil
		}
		return scalar.Text(x), nil
	case *big.Int:
		if !x.IsInt64() {
			return scalar.Value{}, &ParameterError{Position: position, Kind: "bigint out of range"}
		}
		return scalar.Integer(x.Int64()), nil
	default:
		return scalar.Value{}, &ParameterError{Position: position, Kind: fmt.Sprintf("%T", x)}
	}
}

// hasLoneSurrogate reports whether s is not well-formed UTF-16, which is
// the case when it holds a surrogate code unit outside a valid pair.
func hasLoneSurrogate(s goja.String) bool {
	n := s.Length()
	for i := 0; i < n; i++ {
		u := rune(s.CharAt(i))
		if !utf16.IsSurrogate(u) {
			continue
		}
		if u < 0xDC00 && i+1 < n {
			if next := rune(s.CharAt(i + 1)); next >= 0xDC00 && next <= 0xDFFF {
				i++
				continue
			}
		}
		return true
	}
	return false
}

// encodeObject accepts Uint8Array and ArrayBuffer. Everything else is
// rejected.
func (c *codec) encodeObject(obj *goja.Object, position int) (scalar.Value, error) {
	if c.rt.InstanceOf(obj, c.uint8Array) {
		n := obj.Get("length").ToInteger()
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = byte(obj.Get(strconv.Itoa(i)).ToInteger())
		}
		return scalar.Blob(buf), nil
	}
	if ab, ok := obj.Export().(goja.ArrayBuffer); ok {
		return scalar.Blob(ab.Bytes()), nil
	}

	kind := "object"
	if _, ok := goja.AssertFunction(obj); ok {
		kind = "function"
	} else if name := obj.ClassName(); name != "" {
		kind = strings.ToLower(name)
	}
	return scalar.Value{}, &ParameterError{Position: position, Kind: kind}
}

// decode converts a scalar into a fresh script value. Blobs become a new
// Uint8Array over a copied ArrayBuffer.
func (c *codec) decode(v scalar.Value) goja.Value {
	switch v.Kind() {
	case scalar.KindInteger:
		return c.rt.ToValue(v.Int64())
	case scalar.KindReal:
		return c.rt.ToValue(v.Float64())
	case scalar.KindText:
		return c.rt.ToValue(v.Text())
	case scalar.KindBlob:
		return c.bytes(v.Bytes())
	default:
		return goja.Null()
	}
}

// bytes returns a Uint8Array holding a copy of b.
func (c *codec) bytes(b []byte) goja.Value {
	buf := make([]byte, len(b))
	copy(buf, b)
	u8, err := c.rt.New(c.uint8Array, c.rt.ToValue(c.rt.NewArrayBuffer(buf)))
	if err != nil {
		panic(err)
	}
	return u8
}

// record builds an object whose own keys follow the column order.
func (c *codec) record(rec sqlexec.Record) *goja.Object {
	obj := c.rt.NewObject()
	for i, col := range rec.Columns {
		// Set only fails on frozen or exotic objects.
		_ = obj.Set(col, c.decode(rec.Values[i]))
	}
	return obj
}

// tuple builds an array holding the row values in order.
func (c *codec) tuple(vals []scalar.Value) *goja.Object {
	items := make([]any, len(vals))
	for i, v := range vals {
		items[i] = c.decode(v)
	}
	return c.rt.NewArray(items...)
}

func (c *codec) records(recs []sqlexec.Record) *goja.Object {
	items := make([]any, len(recs))
	for i, r := range recs {
		items[i] = c.record(r)
	}
	return c.rt.NewArray(items...)
}

func (c *codec) tuples(rows [][]scalar.Value) *goja.Object {
	items := make([]any, len(rows))
	for i, r := range rows {
		items[i] = c.tuple(r)
	}
	return c.rt.NewArray(items...)
}
