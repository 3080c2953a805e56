package parser

import (
	"testing"

	"github.com/kr/pretty"

	"aoclang/internal/lexer"
)

func parse(t *testing.T, source string) Expr {
	t.Helper()
	tokens, err := lexer.NewScanner(source).ScanTokens()
	if err != nil {
		t.Fatalf("scan %q: %v", source, err)
	}
	program, err := NewParser(tokens).Parse()
	if err != nil {
		t.Fatalf("parse %q: %v", source, err)
	}
	return program
}

// single unwraps the top-level block around one expression.
func single(t *testing.T, source string) Expr {
	t.Helper()
	block, ok := parse(t, source).(*Block)
	if !ok || len(block.Exprs) != 1 {
		t.Fatalf("expected one top-level expression in %q", source)
	}
	return block.Exprs[0]
}

func TestPrecedence(t *testing.T) {
	// 1 + 2 * 3 parses as 1 + (2 * 3)
	expr := single(t, "1 + 2 * 3")
	add, ok := expr.(*Binary)
	if !ok || add.Op != OpAdd {
		t.Fatalf("expected +, got %# v", pretty.Formatter(expr))
	}
	mul, ok := add.Right.(*Binary)
	if !ok || mul.Op != OpMul {
		t.Fatalf("expected * on the right, got %# v", pretty.Formatter(add.Right))
	}
}

func TestComparisonBindsLooserThanAdditive(t *testing.T) {
	expr := single(t, "m*m <= n")
	cmp, ok := expr.(*Binary)
	if !ok || cmp.Op != OpLeq {
		t.Fatalf("expected <=, got %# v", pretty.Formatter(expr))
	}
	if _, ok := cmp.Left.(*Binary); !ok {
		t.Fatalf("expected m*m on the left, got %# v", pretty.Formatter(cmp.Left))
	}
}

func TestLogicalLevels(t *testing.T) {
	// a | b & c parses as a | (b & c)
	expr := single(t, "a | b & c")
	or, ok := expr.(*Binary)
	if !ok || or.Op != OpOr {
		t.Fatalf("expected |, got %# v", pretty.Formatter(expr))
	}
	and, ok := or.Right.(*Binary)
	if !ok || and.Op != OpAnd {
		t.Fatalf("expected & on the right, got %# v", pretty.Formatter(or.Right))
	}
}

func TestAssignmentRightAssociative(t *testing.T) {
	expr := single(t, "a = b = 1")
	outer, ok := expr.(*Assign)
	if !ok {
		t.Fatalf("expected assignment, got %# v", pretty.Formatter(expr))
	}
	if _, ok := outer.Value.(*Assign); !ok {
		t.Fatalf("expected nested assignment, got %# v", pretty.Formatter(outer.Value))
	}
}

func TestOpAssign(t *testing.T) {
	expr := single(t, "m += 1")
	oa, ok := expr.(*OpAssign)
	if !ok || oa.Op != OpAdd {
		t.Fatalf("expected +=, got %# v", pretty.Formatter(expr))
	}
}

func TestPostfixChain(t *testing.T) {
	expr := single(t, "obj.items[0](1, 2)")
	call, ok := expr.(*Call)
	if !ok || len(call.Args) != 2 {
		t.Fatalf("expected call, got %# v", pretty.Formatter(expr))
	}
	idx, ok := call.Callee.(*Index)
	if !ok {
		t.Fatalf("expected index callee, got %# v", pretty.Formatter(call.Callee))
	}
	if _, ok := idx.X.(*Field); !ok {
		t.Fatalf("expected field access, got %# v", pretty.Formatter(idx.X))
	}
}

func TestSliceVsIndex(t *testing.T) {
	if _, ok := single(t, "v[1]").(*Index); !ok {
		t.Error("v[1] should parse as Index")
	}
	if _, ok := single(t, "v[1, 2]").(*Slice); !ok {
		t.Error("v[1, 2] should parse as Slice")
	}
}

func TestAppendPostfix(t *testing.T) {
	expr := single(t, "v << 1 << 2")
	outer, ok := expr.(*Binary)
	if !ok || outer.Op != OpAppend {
		t.Fatalf("expected append, got %# v", pretty.Formatter(expr))
	}
	inner, ok := outer.Left.(*Binary)
	if !ok || inner.Op != OpAppend {
		t.Fatalf("append should be left-chaining, got %# v", pretty.Formatter(outer.Left))
	}
}

func TestUnaryPrefixes(t *testing.T) {
	tests := []struct {
		source string
		op     Op
	}{
		{"+v", OpLen},
		{"-x", OpNeg},
		{"!x", OpNot},
	}
	for _, tt := range tests {
		u, ok := single(t, tt.source).(*Unary)
		if !ok || u.Op != tt.op {
			t.Errorf("%q: expected unary %s", tt.source, tt.op)
		}
	}
}

func TestIfElse(t *testing.T) {
	expr := single(t, "if x > 3 { 10 } else { 20 }")
	node, ok := expr.(*If)
	if !ok {
		t.Fatalf("expected if, got %# v", pretty.Formatter(expr))
	}
	if node.Else == nil {
		t.Error("expected else branch")
	}
	noElse := single(t, "if x 1").(*If)
	if noElse.Else != nil {
		t.Error("expected missing else branch")
	}
}

func TestForClauses(t *testing.T) {
	expr := single(t, "for m = 2; m*m <= n; m += 1 { x }")
	loop, ok := expr.(*For)
	if !ok {
		t.Fatalf("expected for, got %# v", pretty.Formatter(expr))
	}
	if _, ok := loop.Init.(*Assign); !ok {
		t.Error("init should be an assignment")
	}
	if _, ok := loop.Step.(*OpAssign); !ok {
		t.Error("step should be a compound assignment")
	}
}

func TestFnDef(t *testing.T) {
	fn, ok := single(t, "fn(a, b) a + b").(*FnDef)
	if !ok {
		t.Fatal("expected fn definition")
	}
	if len(fn.Params) != 2 || fn.Params[0] != "a" || fn.Params[1] != "b" {
		t.Errorf("params: got %v", fn.Params)
	}
}

func TestObjectLiteral(t *testing.T) {
	obj, ok := single(t, `{= "a"=1, 2=3 }`).(*ObjLit)
	if !ok {
		t.Fatal("expected object literal")
	}
	if len(obj.Keys) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(obj.Keys))
	}
	empty, ok := single(t, "{=}").(*ObjLit)
	if !ok || len(empty.Keys) != 0 {
		t.Error("{=} should be an empty object literal")
	}
}

func TestDestructureTarget(t *testing.T) {
	assign, ok := single(t, "[a, b] = [1, 2]").(*Assign)
	if !ok {
		t.Fatal("expected assignment")
	}
	if _, ok := assign.Target.(*VecLit); !ok {
		t.Error("target should be a vector pattern")
	}
}

func TestBlockExpression(t *testing.T) {
	block, ok := single(t, "{ 1; 2\n3 }").(*Block)
	if !ok {
		t.Fatal("expected block")
	}
	if len(block.Exprs) != 3 {
		t.Errorf("expected 3 expressions, got %d", len(block.Exprs))
	}
}

func TestUseAndReturn(t *testing.T) {
	use, ok := single(t, `use "lib.aoc"`).(*Use)
	if !ok || use.Path != "lib.aoc" {
		t.Error("use should carry its path literal")
	}
	ret, ok := single(t, "return 5").(*Return)
	if !ok || ret.Value == nil {
		t.Error("return should carry its value")
	}
	bare, ok := single(t, "return").(*Return)
	if !ok || bare.Value != nil {
		t.Error("bare return should have no value")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"print 1",  // parenthesized form is canonical
		"(1 + 2",   // unterminated paren
		"fn(1) 2",  // parameter must be a name
		"a.",       // missing field name
		"{= a 1 }", // missing '=' in object literal
	}
	for _, source := range tests {
		tokens, err := lexer.NewScanner(source).ScanTokens()
		if err != nil {
			t.Fatalf("scan %q: %v", source, err)
		}
		if _, err := NewParser(tokens).Parse(); err == nil {
			t.Errorf("expected parse error for %q", source)
		}
	}
}
