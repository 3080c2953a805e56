package vm

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"aoclang/internal/bytecode"
	"aoclang/internal/compiler"
	"aoclang/internal/errors"
	"aoclang/internal/lexer"
	"aoclang/internal/parser"
)

func compileSource(t *testing.T, source string) *bytecode.Chunk {
	t.Helper()
	tokens, err := lexer.NewScanner(source).ScanTokens()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	program, err := parser.NewParser(tokens).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	chunk, err := compiler.NewCompiler(nil, ".").Compile(program)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return chunk
}

// run executes source and returns its stdout.
func run(t *testing.T, source string) string {
	t.Helper()
	out, _, err := exec(t, source, "")
	if err != nil {
		t.Fatalf("run %q: %v", source, err)
	}
	return out
}

// result executes source and returns the program's result value.
func result(t *testing.T, source string) Value {
	t.Helper()
	_, val, err := exec(t, source, "")
	if err != nil {
		t.Fatalf("run %q: %v", source, err)
	}
	return val
}

func exec(t *testing.T, source, stdin string) (string, Value, error) {
	t.Helper()
	chunk := compileSource(t, source)
	var out bytes.Buffer
	machine := NewVM(&out, strings.NewReader(stdin))
	val, err := machine.Run(chunk)
	return out.String(), val, err
}

func expectRuntimeError(t *testing.T, source string, kind errors.RuntimeKind) {
	t.Helper()
	_, _, err := exec(t, source, "")
	if err == nil {
		t.Fatalf("expected %s error for %q", kind, source)
	}
	e, ok := err.(*errors.Error)
	if !ok {
		t.Fatalf("expected *errors.Error, got %T: %v", err, err)
	}
	if e.Runtime != kind {
		t.Errorf("%q: got %s, want %s", source, e.Runtime, kind)
	}
	if e.Span.Line == 0 {
		t.Errorf("%q: runtime error carries no span", source)
	}
}

func TestEndToEndScenarios(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{
			name:   "primes",
			source: "isPrime = fn(n) { for m = 2; m*m <= n; m += 1 { if n%m == 0 return 0 } 1 }\nprint(isPrime(2), isPrime(9), isPrime(17))",
			want:   "1 0 1\n",
		},
		{
			name:   "closures share a cell",
			source: "make = fn() { x = 0; fn() { x += 1; x } }\nc = make(); print(c(), c(), c())",
			want:   "1 2 3\n",
		},
		{
			name:   "destructuring swap",
			source: "[a, b] = [1, 2]; [a, b] = [b, a]; print(a, b)",
			want:   "2 1\n",
		},
		{
			name:   "vector operations",
			source: "v = [1,2,3]; v << 4; print(v, +v, v*2)",
			want:   "[1, 2, 3, 4] 4 [1, 2, 3, 4, 1, 2, 3, 4]\n",
		},
		{
			name:   "object builder",
			source: "Counter = fn() { self = {=}; self.n = 0; self.inc = fn() self.n += 1; self }\nc = Counter(); c.inc(); c.inc(); print(c.n)",
			want:   "2\n",
		},
		{
			name:   "if as expression",
			source: "x = 5; y = if x > 3 { 10 } else { 20 }; print(y)",
			want:   "10\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := run(t, tt.source); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		source string
		want   Value
	}{
		{"1 + 2", int64(3)},
		{"7 / 2", int64(3)},
		{"7 % 3", int64(1)},
		{"7.0 / 2", float64(3.5)},
		{"1 + 2.5", float64(3.5)},
		{"2 * 3.0", float64(6)},
		{"-5", int64(-5)},
		{"-2.5", float64(-2.5)},
		{`"ab" + "cd"`, "abcd"},
		{`"ab" * 3`, "ababab"},
		{`3 * "ab"`, "ababab"},
		{`+"hello"`, int64(5)},
		{"+5", int64(5)},
		{"+5.5", float64(5.5)},
	}
	for _, tt := range tests {
		if got := result(t, tt.source); got != tt.want {
			t.Errorf("%q: got %v (%T), want %v (%T)", tt.source, got, got, tt.want, tt.want)
		}
	}
}

func TestComparisonsYieldInts(t *testing.T) {
	tests := []struct {
		source string
		want   int64
	}{
		{"1 < 2", 1},
		{"2 < 1", 0},
		{"2 <= 2", 1},
		{"1 == 1.0", 1},
		{"1 == 2", 0},
		{`"a" < "b"`, 1},
		{`"abc" == "abc"`, 1},
		{"[1, 2] == [1, 2]", 1},
		{"[1, 2] < [1, 3]", 1},
		{"[1] < [1, 0]", 1},
		{`1 == "1"`, 0},
		{"nil == nil", 1},
		{"!0", 1},
		{"!3", 0},
		{"!!3", 1},
		{"!nil", 1},
		{`!""`, 1},
		{"![]", 1},
		{"!{=}", 1},
	}
	for _, tt := range tests {
		got := result(t, tt.source)
		if got != tt.want {
			t.Errorf("%q: got %v, want %d", tt.source, got, tt.want)
		}
	}
}

func TestShortCircuitKeepsOperandValues(t *testing.T) {
	tests := []struct {
		source string
		want   Value
	}{
		{`0 | "fallback"`, "fallback"},
		{`"first" | "second"`, "first"},
		{"nil & 1", nil},
		{"2 & 3", int64(3)},
		{`0 & crash()`, int64(0)},    // right side must not evaluate
		{`1 | crash()`, int64(1)},    // right side must not evaluate
	}
	for _, tt := range tests {
		if got := result(t, tt.source); got != tt.want {
			t.Errorf("%q: got %v, want %v", tt.source, got, tt.want)
		}
	}
}

func TestExpressionValues(t *testing.T) {
	tests := []struct {
		source string
		want   Value
	}{
		{"x = 41 + 1", int64(42)},             // assignment yields the value
		{"a = b = 7; a", int64(7)},            // chained assignment
		{"if 0 1", int64(0)},                  // if without else on false path
		{"if 2 7", int64(7)},
		{"while 0 1", nil},                    // zero iterations
		{"i = 0; while i < 3 i += 1", int64(3)},
		{"s = 0; for i = 0; i < 4; i += 1 { s += i }", int64(6)}, // last body value
		{"for i = 0; 0; i += 1 { 1 }", nil},
		{"{ 1; 2; 3 }", int64(3)},
		{"{}", nil},
		{"nil", nil},
		{"return 9; 1", int64(9)}, // top-level return terminates the program
		{"f = fn() { return 5; 6 }; f()", int64(5)},
		{"f = fn() nil; f()", nil},
	}
	for _, tt := range tests {
		if got := result(t, tt.source); got != tt.want {
			t.Errorf("%q: got %v, want %v", tt.source, got, tt.want)
		}
	}
}

func TestIndexingAndSlicing(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"v = [1, 2, 3]; print(v[0], v[-1])", "1 3\n"},
		{"v = [1, 2, 3]; v[1] = 9; print(v)", "[1, 9, 3]\n"},
		{"v = [1, 2, 3]; v[-1] = 7; print(v)", "[1, 2, 7]\n"},
		{"v = [1, 2, 3, 4]; print(v[1, 3])", "[2, 3]\n"},
		{"v = [1, 2, 3, 4]; print(v[0, +v])", "[1, 2, 3, 4]\n"},
		{"v = [1, 2, 3, 4]; print(v[1, -1])", "[2, 3]\n"},
		{`s = "hello"; print(s[1])`, "101\n"},
		{`s = "hello"; print(s[1, 4])`, "ell\n"},
		{`print('h')`, "104\n"},
		{"v = [1, 2]; w = v; w << 3; print(v)", "[1, 2, 3]\n"}, // shared by reference
		{"v = [1, 2]; u = v + [3]; u[0] = 9; print(v, u)", "[1, 2] [9, 2, 3]\n"},
		{"v = [1, 2]; v[0] += 10; print(v)", "[11, 2]\n"},
	}
	for _, tt := range tests {
		if got := run(t, tt.source); got != tt.want {
			t.Errorf("%q: got %q, want %q", tt.source, got, tt.want)
		}
	}
}

func TestObjects(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{`o = {= "a"=1, "b"=2 }; print(o.a, o["b"])`, "1 2\n"},
		{`o = {=}; o.x = 1; o[2] = "two"; print(o)`, "{=x: 1, 2: two}\n"},
		{`o = {=}; print(o.missing)`, "nil\n"},
		{`o = {=}; o[1] = "int"; print(o[1.0])`, "int\n"}, // key equality matches ==
		{`o = {= "n"=1 }; o.n += 2; print(o.n)`, "3\n"},
		{`o = {=}; print(+o); o.a = 1; print(+o)`, "0\n1\n"},
	}
	for _, tt := range tests {
		if got := run(t, tt.source); got != tt.want {
			t.Errorf("%q: got %q, want %q", tt.source, got, tt.want)
		}
	}
}

func TestObjectIterationOrderIsInsertionOrder(t *testing.T) {
	got := run(t, `o = {=}; o.c = 1; o.a = 2; o.b = 3; print(o)`)
	if got != "{=c: 1, a: 2, b: 3}\n" {
		t.Errorf("insertion order not preserved: %q", got)
	}
}

func TestNestedDestructuring(t *testing.T) {
	got := run(t, "[a, b, [c, d]] = [1, 2, [3, 4]]; print(a, b, c, d)")
	if got != "1 2 3 4\n" {
		t.Errorf("got %q", got)
	}
}

func TestDestructureIntoIndexTarget(t *testing.T) {
	got := run(t, "v = [0, 0]; [v[0], v[1]] = [8, 9]; print(v)")
	if got != "[8, 9]\n" {
		t.Errorf("got %q", got)
	}
}

func TestRecursion(t *testing.T) {
	got := run(t, "fib = fn(n) if n < 2 { n } else { fib(n-1) + fib(n-2) }\nprint(fib(10))")
	if got != "55\n" {
		t.Errorf("got %q", got)
	}
}

func TestNestedFunctionRecursion(t *testing.T) {
	// g refers to itself through an upvalue of the enclosing call frame
	got := run(t, "f = fn() { g = fn(n) if n { g(n - 1) } else { 0 }; g(3) }\nprint(f())")
	if got != "0\n" {
		t.Errorf("got %q", got)
	}
}

func TestHigherOrderFunctions(t *testing.T) {
	source := `
apply = fn(f, v) { out = []; for i = 0; i < +v; i += 1 { out << f(v[i]) }; out }
print(apply(fn(x) x * x, [1, 2, 3]))
`
	if got := run(t, source); got != "[1, 4, 9]\n" {
		t.Errorf("got %q", got)
	}
}

func TestPrintReturnsLastArgument(t *testing.T) {
	if got := result(t, "x = print(1, 2, 3)"); got != int64(3) {
		t.Errorf("print should return its last argument, got %v", got)
	}
	out, val, err := exec(t, "print()", "")
	if err != nil {
		t.Fatal(err)
	}
	if out != "\n" || val != nil {
		t.Errorf("print(): out %q val %v", out, val)
	}
}

func TestRead(t *testing.T) {
	out, _, err := exec(t, "print(read(), read())", "one\ntwo\n")
	if err != nil {
		t.Fatal(err)
	}
	if out != "one two\n" {
		t.Errorf("got %q", out)
	}
	_, val, err := exec(t, "read()", "")
	if err != nil {
		t.Fatal(err)
	}
	if val != nil {
		t.Errorf("read at EOF should yield nil, got %v", val)
	}
}

func TestConcatenationAssociativity(t *testing.T) {
	if got := result(t, `("a" + "b") + "c" == "a" + ("b" + "c")`); got != int64(1) {
		t.Error("string concatenation should be associative")
	}
	if got := result(t, "(([1] + [2]) + [3]) == ([1] + ([2] + [3]))"); got != int64(1) {
		t.Error("vector concatenation should be associative")
	}
}

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		source string
		kind   errors.RuntimeKind
	}{
		{"1 / 0", errors.DivisionByZero},
		{"1 % 0", errors.DivisionByZero},
		{`1 + "a"`, errors.TypeMismatch},
		{"[1] < 1", errors.TypeMismatch},
		{"nil < nil", errors.TypeMismatch},
		{"-[1]", errors.TypeMismatch},
		{"[1, 2] * -1", errors.TypeMismatch},
		{"f = fn(a) a; f(1, 2)", errors.ArityMismatch},
		{"f = fn(a) a; f()", errors.ArityMismatch},
		{"[1, 2][5]", errors.IndexOutOfBounds},
		{"[1, 2][-3]", errors.IndexOutOfBounds},
		{"[1, 2][0, 5]", errors.IndexOutOfBounds},
		{`"abc"[7]`, errors.IndexOutOfBounds},
		{"5(1)", errors.NotCallable},
		{`"f"()`, errors.NotCallable},
		{"[a, b] = [1]", errors.DestructureLength},
		{"[a, b] = 3", errors.DestructureLength},
		{"o = {=}; o[[1]] = 2", errors.KeyUnhashable},
		{"o = {=}; o[0.0/0.0] = 1", errors.KeyUnhashable},
		{"missing", errors.UndefinedVariable},
		{"x += 1", errors.UndefinedVariable},
		{"loop = fn() loop(); loop()", errors.StackOverflow},
		{"x = 1; x[0]", errors.TypeMismatch},
		{"nil.field", errors.TypeMismatch},
	}
	for _, tt := range tests {
		expectRuntimeError(t, tt.source, tt.kind)
	}
}

func TestFloatDivisionByZeroFollowsIEEE(t *testing.T) {
	got, ok := result(t, "1.0 / 0").(float64)
	if !ok || !math.IsInf(got, 1) {
		t.Errorf("float division by zero: got %v", got)
	}
}

func TestPartialOutputSurvivesErrors(t *testing.T) {
	out, _, err := exec(t, "print(1); print(2); 1/0", "")
	if err == nil {
		t.Fatal("expected division error")
	}
	if out != "1\n2\n" {
		t.Errorf("partial output: got %q", out)
	}
}

func TestGlobalsPersistAcrossRuns(t *testing.T) {
	var out bytes.Buffer
	machine := NewVM(&out, strings.NewReader(""))
	if _, err := machine.Run(compileSource(t, "x = 40")); err != nil {
		t.Fatal(err)
	}
	// a fresh compiler does not know x, but the global table does
	val, err := machine.Run(compileSource(t, "x + 2"))
	if err != nil {
		t.Fatal(err)
	}
	if val != int64(42) {
		t.Errorf("got %v, want 42", val)
	}
}

func TestInterrupt(t *testing.T) {
	chunk := compileSource(t, "while 1 { 1 }")
	var out bytes.Buffer
	machine := NewVM(&out, strings.NewReader(""))
	machine.Interrupt()
	_, err := machine.Run(chunk)
	e, ok := err.(*errors.Error)
	if !ok || e.Runtime != errors.Cancelled {
		t.Errorf("expected Cancelled, got %v", err)
	}
}

func TestDebugTraceIsObservationalOnly(t *testing.T) {
	source := "f = fn(n) n + 1\nprint(f(41))"
	chunk := compileSource(t, source)

	var plain bytes.Buffer
	plainVM := NewVM(&plain, strings.NewReader(""))
	plainVal, err := plainVM.Run(chunk)
	if err != nil {
		t.Fatal(err)
	}

	var traced bytes.Buffer
	var trace bytes.Buffer
	tracedVM := NewVM(&traced, strings.NewReader(""))
	tracedVM.SetTracer(NewTracer(&trace))
	tracedVal, err := tracedVM.Run(compileSource(t, source))
	if err != nil {
		t.Fatal(err)
	}

	if plainVal != tracedVal || plain.String() != traced.String() {
		t.Error("debug mode changed program semantics")
	}
	text := trace.String()
	for _, section := range []string{
		"=== Function main ===",
		"=== Function f ===",
		"=== Stack ===",
		"=== Next operation ===",
		"=== Constants ===",
		"=== Variables ===",
		"=== Bytecode ===",
		"=== Exit function ===",
	} {
		if !strings.Contains(text, section) {
			t.Errorf("trace missing section %q", section)
		}
	}
}
