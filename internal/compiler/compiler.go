// internal/compiler/compiler.go
package compiler

import (
	"fmt"
	"path/filepath"

	"aoclang/internal/bytecode"
	"aoclang/internal/errors"
	"aoclang/internal/lexer"
	"aoclang/internal/loader"
	"aoclang/internal/parser"
)

const (
	maxLocals    = 256
	maxUpvalues  = 256
	maxConstants = 1 << 16
	maxCodeSize  = 1 << 16
	maxArgs      = 255
)

// Compiler lowers expression trees to bytecode chunks. One Compiler may
// compile several programs in sequence (the REPL does); the set of global
// names assigned so far carries over so later lines resolve them.
type Compiler struct {
	loader  loader.Loader
	dirs    []string        // directory stack for relative use paths
	loading map[string]bool // use-cycle detection, keyed by resolved path
	globals map[string]bool // global names assigned by compiled code so far
}

func NewCompiler(ld loader.Loader, baseDir string) *Compiler {
	if ld == nil {
		ld = loader.FileLoader{}
	}
	return &Compiler{
		loader:  ld,
		dirs:    []string{baseDir},
		loading: map[string]bool{},
		globals: map[string]bool{},
	}
}

// Compile lowers a top-level program to its chunk. The top-level chunk is an
// implicit zero-argument function; its return value is the program result.
func (c *Compiler) Compile(program parser.Expr) (*bytecode.Chunk, error) {
	fc := &funcCompiler{
		compiler: c,
		chunk:    bytecode.NewChunk("main"),
		scope:    newTopScope(),
	}
	if err := fc.compileExpr(program); err != nil {
		return nil, err
	}
	fc.chunk.EmitOp(bytecode.OpReturn, program.Span())
	return fc.chunk, nil
}

type funcCompiler struct {
	compiler *Compiler
	chunk    *bytecode.Chunk
	scope    *scope
}

func (fc *funcCompiler) compileExpr(expr parser.Expr) error {
	switch e := expr.(type) {
	case *parser.NilLit:
		fc.chunk.EmitOp(bytecode.OpNil, e.NodeSpan)
	case *parser.IntLit:
		return fc.emitConstant(e.Value, e.NodeSpan)
	case *parser.FloatLit:
		return fc.emitConstant(e.Value, e.NodeSpan)
	case *parser.StrLit:
		return fc.emitConstant(e.Value, e.NodeSpan)
	case *parser.Ident:
		fc.emitLoad(e.Name, e.NodeSpan)
	case *parser.VecLit:
		for _, el := range e.Elems {
			if err := fc.compileExpr(el); err != nil {
				return err
			}
		}
		fc.chunk.EmitOp(bytecode.OpMakeVec, e.NodeSpan)
		fc.chunk.EmitU16(uint16(len(e.Elems)), e.NodeSpan)
	case *parser.ObjLit:
		for i := range e.Keys {
			if err := fc.compileExpr(e.Keys[i]); err != nil {
				return err
			}
			if err := fc.compileExpr(e.Vals[i]); err != nil {
				return err
			}
		}
		fc.chunk.EmitOp(bytecode.OpMakeObj, e.NodeSpan)
		fc.chunk.EmitU16(uint16(len(e.Keys)), e.NodeSpan)
	case *parser.Unary:
		if err := fc.compileExpr(e.X); err != nil {
			return err
		}
		switch e.Op {
		case parser.OpNeg:
			fc.chunk.EmitOp(bytecode.OpNegate, e.NodeSpan)
		case parser.OpNot:
			fc.chunk.EmitOp(bytecode.OpNot, e.NodeSpan)
		case parser.OpLen:
			fc.chunk.EmitOp(bytecode.OpLen, e.NodeSpan)
		default:
			return errors.NewCompileError(fmt.Sprintf("invalid unary operator %s", e.Op), e.NodeSpan)
		}
	case *parser.Binary:
		return fc.compileBinary(e)
	case *parser.Index:
		if err := fc.compileExpr(e.X); err != nil {
			return err
		}
		if err := fc.compileExpr(e.Key); err != nil {
			return err
		}
		fc.chunk.EmitOp(bytecode.OpGetIndex, e.NodeSpan)
	case *parser.Slice:
		if err := fc.compileExpr(e.X); err != nil {
			return err
		}
		if err := fc.compileExpr(e.Low); err != nil {
			return err
		}
		if err := fc.compileExpr(e.High); err != nil {
			return err
		}
		fc.chunk.EmitOp(bytecode.OpSlice, e.NodeSpan)
	case *parser.Field:
		if err := fc.compileExpr(e.X); err != nil {
			return err
		}
		if err := fc.emitConstant(e.Name, e.NodeSpan); err != nil {
			return err
		}
		fc.chunk.EmitOp(bytecode.OpGetIndex, e.NodeSpan)
	case *parser.Assign:
		return fc.compileAssign(e)
	case *parser.OpAssign:
		return fc.compileOpAssign(e)
	case *parser.Block:
		if len(e.Exprs) == 0 {
			fc.chunk.EmitOp(bytecode.OpNil, e.NodeSpan)
			return nil
		}
		for i, el := range e.Exprs {
			if i > 0 {
				fc.chunk.EmitOp(bytecode.OpPop, el.Span())
			}
			if err := fc.compileExpr(el); err != nil {
				return err
			}
		}
	case *parser.If:
		return fc.compileIf(e)
	case *parser.While:
		return fc.compileWhile(e)
	case *parser.For:
		return fc.compileFor(e)
	case *parser.FnDef:
		return fc.compileFnDef(e, "")
	case *parser.Call:
		if err := fc.compileExpr(e.Callee); err != nil {
			return err
		}
		if len(e.Args) > maxArgs {
			return errors.NewCompileError("more than 255 call arguments", e.NodeSpan)
		}
		for _, arg := range e.Args {
			if err := fc.compileExpr(arg); err != nil {
				return err
			}
		}
		fc.chunk.EmitOp(bytecode.OpCall, e.NodeSpan)
		fc.chunk.EmitByte(byte(len(e.Args)), e.NodeSpan)
	case *parser.Return:
		if e.Value != nil {
			if err := fc.compileExpr(e.Value); err != nil {
				return err
			}
		} else {
			fc.chunk.EmitOp(bytecode.OpNil, e.NodeSpan)
		}
		fc.chunk.EmitOp(bytecode.OpReturn, e.NodeSpan)
	case *parser.Use:
		return fc.compileUse(e)
	case *parser.Print:
		if len(e.Args) > maxArgs {
			return errors.NewCompileError("printing more than 255 values", e.NodeSpan)
		}
		for _, arg := range e.Args {
			if err := fc.compileExpr(arg); err != nil {
				return err
			}
		}
		fc.chunk.EmitOp(bytecode.OpPrint, e.NodeSpan)
		fc.chunk.EmitByte(byte(len(e.Args)), e.NodeSpan)
	case *parser.Read:
		fc.chunk.EmitOp(bytecode.OpRead, e.NodeSpan)
	default:
		return errors.NewCompileError(fmt.Sprintf("cannot compile %T", expr), expr.Span())
	}
	return nil
}

var binaryOps = map[parser.Op]bytecode.OpCode{
	parser.OpAdd: bytecode.OpAdd,
	parser.OpSub: bytecode.OpSub,
	parser.OpMul: bytecode.OpMul,
	parser.OpDiv: bytecode.OpDiv,
	parser.OpMod: bytecode.OpMod,
	parser.OpEq:  bytecode.OpEqual,
	parser.OpNeq: bytecode.OpNotEqual,
	parser.OpLt:  bytecode.OpLess,
	parser.OpLeq: bytecode.OpLessEqual,
	parser.OpGt:  bytecode.OpGreater,
	parser.OpGeq: bytecode.OpGreaterEqual,
}

func (fc *funcCompiler) compileBinary(e *parser.Binary) error {
	switch e.Op {
	case parser.OpAnd, parser.OpOr:
		// Value-preserving short-circuit: the falsy (resp. truthy) left
		// operand itself is the result.
		if err := fc.compileExpr(e.Left); err != nil {
			return err
		}
		jumpOp := bytecode.OpJumpIfFalse
		if e.Op == parser.OpOr {
			jumpOp = bytecode.OpJumpIfTrue
		}
		end := fc.emitJump(jumpOp, e.NodeSpan)
		fc.chunk.EmitOp(bytecode.OpPop, e.NodeSpan)
		if err := fc.compileExpr(e.Right); err != nil {
			return err
		}
		return fc.patchJump(end, e.NodeSpan)
	case parser.OpAppend:
		if err := fc.compileExpr(e.Left); err != nil {
			return err
		}
		if err := fc.compileExpr(e.Right); err != nil {
			return err
		}
		fc.chunk.EmitOp(bytecode.OpAppend, e.NodeSpan)
		return nil
	}
	op, ok := binaryOps[e.Op]
	if !ok {
		return errors.NewCompileError(fmt.Sprintf("invalid binary operator %s", e.Op), e.NodeSpan)
	}
	if err := fc.compileExpr(e.Left); err != nil {
		return err
	}
	if err := fc.compileExpr(e.Right); err != nil {
		return err
	}
	fc.chunk.EmitOp(op, e.NodeSpan)
	return nil
}

func (fc *funcCompiler) compileIf(e *parser.If) error {
	if err := fc.compileExpr(e.Cond); err != nil {
		return err
	}
	elseJump := fc.emitJump(bytecode.OpJumpIfFalse, e.NodeSpan)
	fc.chunk.EmitOp(bytecode.OpPop, e.NodeSpan)
	if err := fc.compileExpr(e.Then); err != nil {
		return err
	}
	endJump := fc.emitJump(bytecode.OpJump, e.NodeSpan)
	if err := fc.patchJump(elseJump, e.NodeSpan); err != nil {
		return err
	}
	fc.chunk.EmitOp(bytecode.OpPop, e.NodeSpan)
	if e.Else != nil {
		if err := fc.compileExpr(e.Else); err != nil {
			return err
		}
	} else {
		// if without else evaluates to 0 on the false path
		if err := fc.emitConstant(int64(0), e.NodeSpan); err != nil {
			return err
		}
	}
	return fc.patchJump(endJump, e.NodeSpan)
}

// compileWhile keeps the previous iteration's body value below the loop
// bookkeeping so the whole loop evaluates to the last body value, or nil
// when the body never ran.
func (fc *funcCompiler) compileWhile(e *parser.While) error {
	fc.chunk.EmitOp(bytecode.OpNil, e.NodeSpan)
	start := len(fc.chunk.Code)
	if err := fc.compileExpr(e.Cond); err != nil {
		return err
	}
	exitJump := fc.emitJump(bytecode.OpJumpIfFalse, e.NodeSpan)
	fc.chunk.EmitOp(bytecode.OpPop, e.NodeSpan) // condition
	fc.chunk.EmitOp(bytecode.OpPop, e.NodeSpan) // previous body value
	if err := fc.compileExpr(e.Body); err != nil {
		return err
	}
	if err := fc.emitLoop(start, e.NodeSpan); err != nil {
		return err
	}
	if err := fc.patchJump(exitJump, e.NodeSpan); err != nil {
		return err
	}
	fc.chunk.EmitOp(bytecode.OpPop, e.NodeSpan) // condition
	return nil
}

func (fc *funcCompiler) compileFor(e *parser.For) error {
	if err := fc.compileExpr(e.Init); err != nil {
		return err
	}
	fc.chunk.EmitOp(bytecode.OpPop, e.NodeSpan)
	fc.chunk.EmitOp(bytecode.OpNil, e.NodeSpan)
	start := len(fc.chunk.Code)
	if err := fc.compileExpr(e.Cond); err != nil {
		return err
	}
	exitJump := fc.emitJump(bytecode.OpJumpIfFalse, e.NodeSpan)
	fc.chunk.EmitOp(bytecode.OpPop, e.NodeSpan) // condition
	fc.chunk.EmitOp(bytecode.OpPop, e.NodeSpan) // previous body value
	if err := fc.compileExpr(e.Body); err != nil {
		return err
	}
	if err := fc.compileExpr(e.Step); err != nil {
		return err
	}
	fc.chunk.EmitOp(bytecode.OpPop, e.NodeSpan) // step value
	if err := fc.emitLoop(start, e.NodeSpan); err != nil {
		return err
	}
	if err := fc.patchJump(exitJump, e.NodeSpan); err != nil {
		return err
	}
	fc.chunk.EmitOp(bytecode.OpPop, e.NodeSpan) // condition
	return nil
}

func (fc *funcCompiler) compileAssign(e *parser.Assign) error {
	// Predeclare plain names before compiling the value so the value can
	// refer to itself (recursive functions).
	if target, ok := e.Target.(*parser.Ident); ok {
		if err := fc.declare(target.Name, target.NodeSpan); err != nil {
			return err
		}
		if fn, ok := e.Value.(*parser.FnDef); ok {
			return fc.namedFn(fn, target)
		}
	}
	if err := fc.compileExpr(e.Value); err != nil {
		return err
	}
	return fc.compileStore(e.Target)
}

// namedFn compiles `name = fn(...) ...` so the chunk carries the name.
func (fc *funcCompiler) namedFn(fn *parser.FnDef, target *parser.Ident) error {
	if err := fc.compileFnDef(fn, target.Name); err != nil {
		return err
	}
	return fc.compileStore(target)
}

// compileStore expects the assigned value on top of the stack and leaves it
// there, mirroring the chaining rule that an assignment evaluates to the
// assigned value.
func (fc *funcCompiler) compileStore(target parser.Expr) error {
	switch t := target.(type) {
	case *parser.Ident:
		return fc.emitStore(t.Name, t.NodeSpan)
	case *parser.Index:
		if err := fc.compileExpr(t.X); err != nil {
			return err
		}
		if err := fc.compileExpr(t.Key); err != nil {
			return err
		}
		fc.chunk.EmitOp(bytecode.OpSetIndex, t.NodeSpan)
		return nil
	case *parser.Field:
		if err := fc.compileExpr(t.X); err != nil {
			return err
		}
		if err := fc.emitConstant(t.Name, t.NodeSpan); err != nil {
			return err
		}
		fc.chunk.EmitOp(bytecode.OpSetIndex, t.NodeSpan)
		return nil
	case *parser.VecLit:
		// Destructuring: keep the source vector as the expression value,
		// unpack a copy, assign each element in order.
		fc.chunk.EmitOp(bytecode.OpDup, t.NodeSpan)
		if len(t.Elems) > maxArgs {
			return errors.NewCompileError("cannot destructure more than 255 elements", t.NodeSpan)
		}
		fc.chunk.EmitOp(bytecode.OpUnpack, t.NodeSpan)
		fc.chunk.EmitByte(byte(len(t.Elems)), t.NodeSpan)
		for _, elem := range t.Elems {
			if name, ok := elem.(*parser.Ident); ok {
				if err := fc.declare(name.Name, name.NodeSpan); err != nil {
					return err
				}
			}
			if err := fc.compileStore(elem); err != nil {
				return err
			}
			fc.chunk.EmitOp(bytecode.OpPop, t.NodeSpan)
		}
		return nil
	default:
		return errors.NewCompileError(
			fmt.Sprintf("cannot assign to %T, targets must be names, indexes, fields or vector patterns", target),
			target.Span(),
		)
	}
}

func (fc *funcCompiler) compileOpAssign(e *parser.OpAssign) error {
	op, ok := binaryOps[e.Op]
	if !ok {
		return errors.NewCompileError(fmt.Sprintf("invalid assignment operator %s=", e.Op), e.NodeSpan)
	}
	switch t := e.Target.(type) {
	case *parser.Ident:
		fc.emitLoad(t.Name, t.NodeSpan)
		if err := fc.compileExpr(e.Value); err != nil {
			return err
		}
		fc.chunk.EmitOp(op, e.NodeSpan)
		return fc.emitStore(t.Name, t.NodeSpan)
	case *parser.Index:
		return fc.opAssignIndex(e, op, t.X, func() error { return fc.compileExpr(t.Key) })
	case *parser.Field:
		return fc.opAssignIndex(e, op, t.X, func() error { return fc.emitConstant(t.Name, t.NodeSpan) })
	default:
		return errors.NewCompileError(
			fmt.Sprintf("cannot assign to %T, targets must be names, indexes or fields", e.Target),
			e.Target.Span(),
		)
	}
}

// opAssignIndex evaluates container and key once, reads the current element,
// applies the operator and writes the result back.
func (fc *funcCompiler) opAssignIndex(e *parser.OpAssign, op bytecode.OpCode, container parser.Expr, key func() error) error {
	if err := fc.compileExpr(container); err != nil {
		return err
	}
	if err := key(); err != nil {
		return err
	}
	// [c, k] -> [c, k, c, k] -> [c, k, cur]
	fc.chunk.EmitOp(bytecode.OpClone, e.NodeSpan)
	fc.chunk.EmitByte(1, e.NodeSpan)
	fc.chunk.EmitOp(bytecode.OpClone, e.NodeSpan)
	fc.chunk.EmitByte(1, e.NodeSpan)
	fc.chunk.EmitOp(bytecode.OpGetIndex, e.NodeSpan)
	if err := fc.compileExpr(e.Value); err != nil {
		return err
	}
	fc.chunk.EmitOp(op, e.NodeSpan)
	// [c, k, new] -> [new, c, k] for SET_INDEX
	fc.chunk.EmitOp(bytecode.OpSwap, e.NodeSpan)
	fc.chunk.EmitByte(2, e.NodeSpan)
	fc.chunk.EmitOp(bytecode.OpSwap, e.NodeSpan)
	fc.chunk.EmitByte(1, e.NodeSpan)
	fc.chunk.EmitOp(bytecode.OpSetIndex, e.NodeSpan)
	return nil
}

func (fc *funcCompiler) compileFnDef(e *parser.FnDef, name string) error {
	if len(e.Params) > maxArgs {
		return errors.NewCompileError("more than 255 parameters", e.NodeSpan)
	}
	child := &funcCompiler{
		compiler: fc.compiler,
		chunk:    bytecode.NewChunk(name),
		scope:    newScope(fc.scope),
	}
	for _, p := range e.Params {
		child.scope.addLocal(p)
	}
	if err := child.compileExpr(e.Body); err != nil {
		return err
	}
	child.chunk.EmitOp(bytecode.OpReturn, e.NodeSpan)
	if len(child.scope.localNames) > maxLocals {
		return errors.NewCompileError("more than 256 locals in function", e.NodeSpan)
	}
	if len(child.scope.upvalues) > maxUpvalues {
		return errors.NewCompileError("more than 256 captured variables", e.NodeSpan)
	}
	child.chunk.Arity = len(e.Params)
	child.chunk.NumLocals = len(child.scope.localNames)
	child.chunk.LocalNames = child.scope.localNames
	child.chunk.Upvalues = child.scope.upvalues

	idx, err := fc.addConstant(child.chunk, e.NodeSpan)
	if err != nil {
		return err
	}
	fc.chunk.EmitOp(bytecode.OpClosure, e.NodeSpan)
	fc.chunk.EmitU16(uint16(idx), e.NodeSpan)
	fc.chunk.EmitByte(byte(len(child.chunk.Upvalues)), e.NodeSpan)
	for _, uv := range child.chunk.Upvalues {
		isLocal := byte(0)
		if uv.IsLocal {
			isLocal = 1
		}
		fc.chunk.EmitByte(isLocal, e.NodeSpan)
		fc.chunk.EmitByte(uv.Index, e.NodeSpan)
	}
	return nil
}

// compileUse splices the referenced file's expression tree in place.
func (fc *funcCompiler) compileUse(e *parser.Use) error {
	c := fc.compiler
	resolved := loader.Resolve(c.dirs[len(c.dirs)-1], e.Path)
	if c.loading[resolved] {
		return errors.NewCompileError(fmt.Sprintf("use cycle detected at %q", e.Path), e.NodeSpan)
	}
	src, err := c.loader.Load(resolved)
	if err != nil {
		return errors.NewCompileError(err.Error(), e.NodeSpan)
	}
	tokens, err := lexer.NewScanner(src).ScanTokens()
	if err != nil {
		return errors.NewCompileError(fmt.Sprintf("use %q: %s", e.Path, err), e.NodeSpan)
	}
	program, err := parser.NewParser(tokens).Parse()
	if err != nil {
		return errors.NewCompileError(fmt.Sprintf("use %q: %s", e.Path, err), e.NodeSpan)
	}
	c.loading[resolved] = true
	c.dirs = append(c.dirs, filepath.Dir(resolved))
	compileErr := fc.compileExpr(program)
	c.dirs = c.dirs[:len(c.dirs)-1]
	delete(c.loading, resolved)
	return compileErr
}

// --- name resolution ---

// declare makes sure a plain assignment target has a storage location before
// its value is compiled.
func (fc *funcCompiler) declare(name string, span errors.Span) error {
	if fc.scope.isTop {
		fc.compiler.globals[name] = true
		return nil
	}
	if _, ok := fc.scope.resolveLocal(name); ok {
		return nil
	}
	if _, ok := fc.scope.resolveUpvalue(name); ok {
		return nil
	}
	if fc.compiler.globals[name] {
		return nil
	}
	if len(fc.scope.localNames) >= maxLocals {
		return errors.NewCompileError("more than 256 locals in function", span)
	}
	fc.scope.addLocal(name)
	return nil
}

func (fc *funcCompiler) emitLoad(name string, span errors.Span) {
	if !fc.scope.isTop {
		if slot, ok := fc.scope.resolveLocal(name); ok {
			fc.chunk.EmitOp(bytecode.OpGetLocal, span)
			fc.chunk.EmitByte(byte(slot), span)
			return
		}
		if idx, ok := fc.scope.resolveUpvalue(name); ok {
			fc.chunk.EmitOp(bytecode.OpGetUpvalue, span)
			fc.chunk.EmitByte(byte(idx), span)
			return
		}
	}
	idx := fc.chunk.AddConstant(name)
	fc.chunk.EmitOp(bytecode.OpGetGlobal, span)
	fc.chunk.EmitU16(uint16(idx), span)
}

func (fc *funcCompiler) emitStore(name string, span errors.Span) error {
	if !fc.scope.isTop {
		if slot, ok := fc.scope.resolveLocal(name); ok {
			fc.chunk.EmitOp(bytecode.OpSetLocal, span)
			fc.chunk.EmitByte(byte(slot), span)
			return nil
		}
		if idx, ok := fc.scope.resolveUpvalue(name); ok {
			fc.chunk.EmitOp(bytecode.OpSetUpvalue, span)
			fc.chunk.EmitByte(byte(idx), span)
			return nil
		}
		if !fc.compiler.globals[name] {
			// First assignment allocates a slot valid to function end.
			if err := fc.declare(name, span); err != nil {
				return err
			}
			slot, _ := fc.scope.resolveLocal(name)
			fc.chunk.EmitOp(bytecode.OpSetLocal, span)
			fc.chunk.EmitByte(byte(slot), span)
			return nil
		}
	}
	fc.compiler.globals[name] = true
	idx, err := fc.addConstant(name, span)
	if err != nil {
		return err
	}
	fc.chunk.EmitOp(bytecode.OpSetGlobal, span)
	fc.chunk.EmitU16(uint16(idx), span)
	return nil
}

// --- emit helpers ---

func (fc *funcCompiler) addConstant(v interface{}, span errors.Span) (int, error) {
	idx := fc.chunk.AddConstant(v)
	if idx >= maxConstants {
		return 0, errors.NewCompileError("more than 65536 constants in chunk", span)
	}
	return idx, nil
}

func (fc *funcCompiler) emitConstant(v interface{}, span errors.Span) error {
	idx, err := fc.addConstant(v, span)
	if err != nil {
		return err
	}
	fc.chunk.EmitOp(bytecode.OpConstant, span)
	fc.chunk.EmitU16(uint16(idx), span)
	return nil
}

// emitJump emits op with a placeholder target and returns the operand offset.
func (fc *funcCompiler) emitJump(op bytecode.OpCode, span errors.Span) int {
	fc.chunk.EmitOp(op, span)
	fc.chunk.EmitU16(0xffff, span)
	return len(fc.chunk.Code) - 2
}

func (fc *funcCompiler) patchJump(pos int, span errors.Span) error {
	target := len(fc.chunk.Code)
	if target >= maxCodeSize {
		return errors.NewCompileError("function body too large", span)
	}
	fc.chunk.PatchU16(pos, uint16(target))
	return nil
}

func (fc *funcCompiler) emitLoop(start int, span errors.Span) error {
	if start >= maxCodeSize {
		return errors.NewCompileError("function body too large", span)
	}
	fc.chunk.EmitOp(bytecode.OpJump, span)
	fc.chunk.EmitU16(uint16(start), span)
	return nil
}
