package vm

import (
	"fmt"
	"math"
	"strings"

	"aoclang/internal/bytecode"
)

// Value is a runtime value: nil, int64, float64, string, *Vec, *Object or
// *Closure. Ints, floats and nil copy by value; strings are immutable and
// may be shared; vectors, objects and closures share by reference.
type Value interface{}

// Vec is a shared mutable sequence.
type Vec struct {
	Elems []Value
}

func NewVec(elems []Value) *Vec {
	return &Vec{Elems: elems}
}

// Object is a shared mutable mapping that preserves insertion order for
// iteration and printing. Keys are normalized so that key equality matches
// the language's == semantics (1 and 1.0 are the same key).
type Object struct {
	keys  []Value
	items map[interface{}]Value
}

func NewObject() *Object {
	return &Object{items: map[interface{}]Value{}}
}

// objKey normalizes a hashable value into a map key. Only ints, non-NaN
// floats and strings are hashable.
func objKey(key Value) (interface{}, bool) {
	switch k := key.(type) {
	case int64:
		return k, true
	case float64:
		if math.IsNaN(k) {
			return nil, false
		}
		if k == math.Trunc(k) && k >= math.MinInt64 && k <= math.MaxInt64 {
			return int64(k), true
		}
		return k, true
	case string:
		return k, true
	}
	return nil, false
}

func (o *Object) Get(key Value) (Value, bool, bool) {
	k, ok := objKey(key)
	if !ok {
		return nil, false, false
	}
	v, found := o.items[k]
	return v, found, true
}

func (o *Object) Set(key, val Value) bool {
	k, ok := objKey(key)
	if !ok {
		return false
	}
	if _, exists := o.items[k]; !exists {
		o.keys = append(o.keys, key)
	}
	o.items[k] = val
	return true
}

func (o *Object) Len() int { return len(o.items) }

// Keys returns the keys in insertion order.
func (o *Object) Keys() []Value { return o.keys }

// Upvalue is a captured variable cell. While the defining frame is live it
// points at the frame's local slot; closing moves the value into the cell so
// it outlives the frame.
type Upvalue struct {
	Location *Value
	Closed   Value
}

func (uv *Upvalue) Get() Value {
	if uv.Location != nil {
		return *uv.Location
	}
	return uv.Closed
}

func (uv *Upvalue) Set(v Value) {
	if uv.Location != nil {
		*uv.Location = v
		return
	}
	uv.Closed = v
}

func (uv *Upvalue) Close() {
	if uv.Location != nil {
		uv.Closed = *uv.Location
		uv.Location = nil
	}
}

// Closure is the only callable runtime form: a function prototype bound to
// its captured upvalues.
type Closure struct {
	Chunk    *bytecode.Chunk
	Upvalues []*Upvalue
}

// IsTruthy: nil, zero numbers and empty containers/strings are false.
func IsTruthy(val Value) bool {
	switch v := val.(type) {
	case nil:
		return false
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		return v != ""
	case *Vec:
		return len(v.Elems) > 0
	case *Object:
		return v.Len() > 0
	default:
		return true
	}
}

// ValuesEqual implements ==. Cross-type equality is false except Int-Float,
// which compares numerically.
func ValuesEqual(a, b Value) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case int64:
		switch y := b.(type) {
		case int64:
			return x == y
		case float64:
			return float64(x) == y
		}
		return false
	case float64:
		switch y := b.(type) {
		case int64:
			return x == float64(y)
		case float64:
			return x == y
		}
		return false
	case string:
		y, ok := b.(string)
		return ok && x == y
	case *Vec:
		y, ok := b.(*Vec)
		if !ok || len(x.Elems) != len(y.Elems) {
			return false
		}
		for i := range x.Elems {
			if !ValuesEqual(x.Elems[i], y.Elems[i]) {
				return false
			}
		}
		return true
	case *Object:
		y, ok := b.(*Object)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for _, key := range x.keys {
			xv, _, _ := x.Get(key)
			yv, found, hashable := y.Get(key)
			if !hashable || !found || !ValuesEqual(xv, yv) {
				return false
			}
		}
		return true
	case *Closure:
		y, ok := b.(*Closure)
		return ok && x == y
	}
	return false
}

// CompareValues orders two values. Ordering exists for number-number,
// string-string and vector-vector (lexicographic by element).
func CompareValues(a, b Value) (int, bool) {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return compareInt(x, y), true
		case float64:
			return compareFloat(float64(x), y), true
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return compareFloat(x, float64(y)), true
		case float64:
			return compareFloat(x, y), true
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case *Vec:
		y, ok := b.(*Vec)
		if !ok {
			return 0, false
		}
		for i := 0; i < len(x.Elems) && i < len(y.Elems); i++ {
			cmp, ok := CompareValues(x.Elems[i], y.Elems[i])
			if !ok {
				return 0, false
			}
			if cmp != 0 {
				return cmp, true
			}
		}
		return compareInt(int64(len(x.Elems)), int64(len(y.Elems))), true
	}
	return 0, false
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ToString renders a value the way print and the REPL show it.
func ToString(val Value) string {
	switch v := val.(type) {
	case nil:
		return "nil"
	case int64:
		return fmt.Sprintf("%d", v)
	case float64:
		return fmt.Sprintf("%v", v)
	case string:
		return v
	case *Vec:
		parts := make([]string, len(v.Elems))
		for i, el := range v.Elems {
			parts[i] = ToString(el)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *Object:
		var parts []string
		for _, key := range v.keys {
			val, _, _ := v.Get(key)
			parts = append(parts, fmt.Sprintf("%s: %s", ToString(key), ToString(val)))
		}
		return "{=" + strings.Join(parts, ", ") + "}"
	case *Closure:
		return bytecode.FormatConstant(v.Chunk)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// TypeName reports a value's type for error messages.
func TypeName(val Value) string {
	switch val.(type) {
	case nil:
		return "nil"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case *Vec:
		return "vec"
	case *Object:
		return "object"
	case *Closure:
		return "fn"
	default:
		return "unknown"
	}
}
