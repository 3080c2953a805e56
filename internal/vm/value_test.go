package vm

import (
	"math"
	"testing"
)

func TestIsTruthy(t *testing.T) {
	truthy := []Value{int64(1), int64(-1), float64(0.5), "x", NewVec([]Value{nil}), &Closure{}}
	for _, v := range truthy {
		if !IsTruthy(v) {
			t.Errorf("%v should be truthy", v)
		}
	}
	falsy := []Value{nil, int64(0), float64(0), "", NewVec(nil), NewObject()}
	for _, v := range falsy {
		if IsTruthy(v) {
			t.Errorf("%v should be falsy", v)
		}
	}
}

func TestValuesEqual(t *testing.T) {
	if !ValuesEqual(int64(1), float64(1)) {
		t.Error("1 == 1.0 should hold")
	}
	if ValuesEqual(int64(1), "1") {
		t.Error("cross-type equality must be false")
	}
	a := NewVec([]Value{int64(1), NewVec([]Value{int64(2)})})
	b := NewVec([]Value{int64(1), NewVec([]Value{int64(2)})})
	if !ValuesEqual(a, b) {
		t.Error("vectors compare by element")
	}
	c := &Closure{}
	if !ValuesEqual(c, c) || ValuesEqual(c, &Closure{}) {
		t.Error("closures compare by identity")
	}
}

func TestObjectKeyNormalization(t *testing.T) {
	o := NewObject()
	o.Set(int64(1), "a")
	if v, found, _ := o.Get(float64(1)); !found || v != "a" {
		t.Error("1 and 1.0 should be the same key")
	}
	if o.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", o.Len())
	}
	if ok := o.Set(math.NaN(), "x"); ok {
		t.Error("NaN keys are unhashable")
	}
}

func TestToString(t *testing.T) {
	tests := []struct {
		val  Value
		want string
	}{
		{nil, "nil"},
		{int64(42), "42"},
		{float64(2), "2"},
		{float64(2.5), "2.5"},
		{"hi", "hi"},
		{NewVec([]Value{int64(1), "a", nil}), "[1, a, nil]"},
	}
	for _, tt := range tests {
		if got := ToString(tt.val); got != tt.want {
			t.Errorf("ToString(%v): got %q, want %q", tt.val, got, tt.want)
		}
	}
}

func TestCompareValues(t *testing.T) {
	if cmp, ok := CompareValues(int64(1), float64(1.5)); !ok || cmp != -1 {
		t.Error("1 < 1.5")
	}
	if cmp, ok := CompareValues("b", "a"); !ok || cmp != 1 {
		t.Error("b > a")
	}
	if _, ok := CompareValues(int64(1), "a"); ok {
		t.Error("int and string have no ordering")
	}
	if _, ok := CompareValues(NewObject(), NewObject()); ok {
		t.Error("objects have no ordering")
	}
}
