// internal/vm/vm.go
package vm

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"
	"sync/atomic"

	"aoclang/internal/bytecode"
	"aoclang/internal/errors"
)

const maxFrames = 1024

type CallFrame struct {
	closure *Closure
	ip      int
	lastOp  int // offset of the instruction being executed, for spans
	base    int // operand-stack height at entry
	locals  []Value
}

// VM is a stack-based bytecode interpreter with a value stack and a
// call-frame stack. Globals persist across Run calls so a REPL can keep one
// VM and feed it fresh chunks.
type VM struct {
	stack        []Value
	frames       []CallFrame
	globals      map[string]Value
	openUpvalues []*Upvalue

	stdout io.Writer
	stdin  *bufio.Reader
	tracer *Tracer

	interrupted atomic.Bool
	instCount   int64
}

func NewVM(stdout io.Writer, stdin io.Reader) *VM {
	return &VM{
		globals: map[string]Value{},
		stdout:  stdout,
		stdin:   bufio.NewReader(stdin),
	}
}

// SetTracer enables debug single-stepping output. Tracing is observational
// only and never changes program semantics.
func (vm *VM) SetTracer(t *Tracer) {
	vm.tracer = t
}

// Interrupt requests termination; the VM raises Cancelled at the next
// backward jump or call.
func (vm *VM) Interrupt() {
	vm.interrupted.Store(true)
}

// InstructionCount reports how many instructions the VM has executed.
func (vm *VM) InstructionCount() int64 {
	return vm.instCount
}

// Run executes a top-level chunk to completion and returns the program's
// result value: the value of a top-level return, or the last top-level
// expression.
func (vm *VM) Run(chunk *bytecode.Chunk) (Value, error) {
	vm.stack = vm.stack[:0]
	vm.frames = vm.frames[:0]
	vm.openUpvalues = vm.openUpvalues[:0]

	top := &Closure{Chunk: chunk}
	vm.frames = append(vm.frames, CallFrame{closure: top, locals: make([]Value, chunk.NumLocals)})
	if vm.tracer != nil {
		vm.tracer.EnterFunction(chunk)
	}

	for len(vm.frames) > 0 {
		fr := vm.currentFrame()
		code := fr.closure.Chunk.Code
		if fr.ip >= len(code) {
			// Chunks end in RETURN; treat falling off the end as returning nil.
			if done, ret := vm.finishFrame(nil); done {
				return ret, nil
			}
			continue
		}
		fr.lastOp = fr.ip
		if vm.tracer != nil {
			vm.tracer.Step(vm)
		}
		op := bytecode.OpCode(code[fr.ip])
		fr.ip++
		vm.instCount++

		switch op {
		case bytecode.OpConstant:
			idx := vm.readU16(fr)
			vm.push(fr.closure.Chunk.Constants[idx])

		case bytecode.OpNil:
			vm.push(nil)

		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpDup:
			vm.push(vm.peek(0))

		case bytecode.OpClone:
			depth := int(vm.readByte(fr))
			vm.push(vm.peek(depth))

		case bytecode.OpSwap:
			depth := int(vm.readByte(fr))
			last := len(vm.stack) - 1
			vm.stack[last], vm.stack[last-depth] = vm.stack[last-depth], vm.stack[last]

		case bytecode.OpGetLocal:
			slot := int(vm.readByte(fr))
			vm.push(fr.locals[slot])

		case bytecode.OpSetLocal:
			slot := int(vm.readByte(fr))
			fr.locals[slot] = vm.peek(0)

		case bytecode.OpGetUpvalue:
			idx := int(vm.readByte(fr))
			vm.push(fr.closure.Upvalues[idx].Get())

		case bytecode.OpSetUpvalue:
			idx := int(vm.readByte(fr))
			fr.closure.Upvalues[idx].Set(vm.peek(0))

		case bytecode.OpGetGlobal:
			name := fr.closure.Chunk.Constants[vm.readU16(fr)].(string)
			val, ok := vm.globals[name]
			if !ok {
				return nil, vm.runtimeError(errors.UndefinedVariable, fmt.Sprintf("undefined variable %s", name))
			}
			vm.push(val)

		case bytecode.OpSetGlobal:
			name := fr.closure.Chunk.Constants[vm.readU16(fr)].(string)
			vm.globals[name] = vm.peek(0)

		case bytecode.OpGetIndex:
			key := vm.pop()
			container := vm.pop()
			val, err := vm.indexGet(container, key)
			if err != nil {
				return nil, err
			}
			vm.push(val)

		case bytecode.OpSetIndex:
			key := vm.pop()
			container := vm.pop()
			val := vm.pop()
			if err := vm.indexSet(container, key, val); err != nil {
				return nil, err
			}
			vm.push(val)

		case bytecode.OpSlice:
			high := vm.pop()
			low := vm.pop()
			container := vm.pop()
			val, err := vm.slice(container, low, high)
			if err != nil {
				return nil, err
			}
			vm.push(val)

		case bytecode.OpAppend:
			val := vm.pop()
			target := vm.pop()
			vec, ok := target.(*Vec)
			if !ok {
				return nil, vm.runtimeError(errors.TypeMismatch, fmt.Sprintf("cannot append to %s", TypeName(target)))
			}
			vec.Elems = append(vec.Elems, val)
			vm.push(vec)

		case bytecode.OpUnpack:
			count := int(vm.readByte(fr))
			target := vm.pop()
			vec, ok := target.(*Vec)
			if !ok {
				return nil, vm.runtimeError(errors.DestructureLength, fmt.Sprintf("cannot destructure %s", TypeName(target)))
			}
			if len(vec.Elems) != count {
				return nil, vm.runtimeError(errors.DestructureLength,
					fmt.Sprintf("expected %d elements to destructure, got %d", count, len(vec.Elems)))
			}
			for i := count - 1; i >= 0; i-- {
				vm.push(vec.Elems[i])
			}

		case bytecode.OpNegate:
			switch v := vm.pop().(type) {
			case int64:
				vm.push(-v)
			case float64:
				vm.push(-v)
			default:
				return nil, vm.runtimeError(errors.TypeMismatch, fmt.Sprintf("cannot negate %s", TypeName(v)))
			}

		case bytecode.OpNot:
			vm.push(boolInt(!IsTruthy(vm.pop())))

		case bytecode.OpLen:
			val, err := vm.length(vm.pop())
			if err != nil {
				return nil, err
			}
			vm.push(val)

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
			right := vm.pop()
			left := vm.pop()
			val, err := vm.arithmetic(op, left, right)
			if err != nil {
				return nil, err
			}
			vm.push(val)

		case bytecode.OpEqual:
			right := vm.pop()
			left := vm.pop()
			vm.push(boolInt(ValuesEqual(left, right)))

		case bytecode.OpNotEqual:
			right := vm.pop()
			left := vm.pop()
			vm.push(boolInt(!ValuesEqual(left, right)))

		case bytecode.OpLess, bytecode.OpLessEqual, bytecode.OpGreater, bytecode.OpGreaterEqual:
			right := vm.pop()
			left := vm.pop()
			cmp, ok := CompareValues(left, right)
			if !ok {
				return nil, vm.runtimeError(errors.TypeMismatch,
					fmt.Sprintf("cannot order %s and %s", TypeName(left), TypeName(right)))
			}
			var res bool
			switch op {
			case bytecode.OpLess:
				res = cmp < 0
			case bytecode.OpLessEqual:
				res = cmp <= 0
			case bytecode.OpGreater:
				res = cmp > 0
			case bytecode.OpGreaterEqual:
				res = cmp >= 0
			}
			vm.push(boolInt(res))

		case bytecode.OpJump:
			target := vm.readU16(fr)
			if target <= fr.lastOp && vm.interrupted.Load() {
				return nil, vm.runtimeError(errors.Cancelled, "execution cancelled")
			}
			fr.ip = target

		case bytecode.OpJumpIfFalse:
			target := vm.readU16(fr)
			if !IsTruthy(vm.peek(0)) {
				fr.ip = target
			}

		case bytecode.OpJumpIfTrue:
			target := vm.readU16(fr)
			if IsTruthy(vm.peek(0)) {
				fr.ip = target
			}

		case bytecode.OpCall:
			argc := int(vm.readByte(fr))
			if vm.interrupted.Load() {
				return nil, vm.runtimeError(errors.Cancelled, "execution cancelled")
			}
			if err := vm.call(argc); err != nil {
				return nil, err
			}

		case bytecode.OpReturn:
			ret := vm.pop()
			if done, result := vm.finishFrame(ret); done {
				return result, nil
			}

		case bytecode.OpClosure:
			idx := vm.readU16(fr)
			count := int(vm.readByte(fr))
			proto := fr.closure.Chunk.Constants[idx].(*bytecode.Chunk)
			closure := &Closure{Chunk: proto, Upvalues: make([]*Upvalue, count)}
			for i := 0; i < count; i++ {
				isLocal := vm.readByte(fr)
				slot := int(vm.readByte(fr))
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(&fr.locals[slot])
				} else {
					closure.Upvalues[i] = fr.closure.Upvalues[slot]
				}
			}
			vm.push(closure)

		case bytecode.OpMakeVec:
			count := vm.readU16(fr)
			elems := make([]Value, count)
			for i := count - 1; i >= 0; i-- {
				elems[i] = vm.pop()
			}
			vm.push(NewVec(elems))

		case bytecode.OpMakeObj:
			count := vm.readU16(fr)
			pairs := make([]Value, 2*count)
			for i := 2*count - 1; i >= 0; i-- {
				pairs[i] = vm.pop()
			}
			obj := NewObject()
			for i := 0; i < count; i++ {
				if !obj.Set(pairs[2*i], pairs[2*i+1]) {
					return nil, vm.runtimeError(errors.KeyUnhashable,
						fmt.Sprintf("%s is not a hashable key", TypeName(pairs[2*i])))
				}
			}
			vm.push(obj)

		case bytecode.OpPrint:
			argc := int(vm.readByte(fr))
			args := make([]Value, argc)
			for i := argc - 1; i >= 0; i-- {
				args[i] = vm.pop()
			}
			parts := make([]string, argc)
			for i, arg := range args {
				parts[i] = ToString(arg)
			}
			if vm.tracer != nil {
				vm.tracer.Stdout()
			}
			fmt.Fprintln(vm.stdout, strings.Join(parts, " "))
			if argc > 0 {
				vm.push(args[argc-1])
			} else {
				vm.push(nil)
			}

		case bytecode.OpRead:
			line, err := vm.stdin.ReadString('\n')
			if len(line) == 0 && err != nil {
				vm.push(nil)
			} else {
				vm.push(strings.TrimSuffix(line, "\n"))
			}

		default:
			return nil, vm.runtimeError(errors.TypeMismatch, fmt.Sprintf("unknown opcode %d", op))
		}
	}
	return nil, nil
}

func (vm *VM) call(argc int) error {
	callee := vm.peek(argc)
	closure, ok := callee.(*Closure)
	if !ok {
		return vm.runtimeError(errors.NotCallable, fmt.Sprintf("%s is not callable", TypeName(callee)))
	}
	if closure.Chunk.Arity != argc {
		return vm.runtimeError(errors.ArityMismatch,
			fmt.Sprintf("function expects %d arguments, got %d", closure.Chunk.Arity, argc))
	}
	if len(vm.frames) >= maxFrames {
		return vm.runtimeError(errors.StackOverflow, fmt.Sprintf("call depth exceeds %d frames", maxFrames))
	}
	locals := make([]Value, closure.Chunk.NumLocals)
	copy(locals, vm.stack[len(vm.stack)-argc:])
	vm.stack = vm.stack[:len(vm.stack)-argc-1] // drop arguments and callee
	vm.frames = append(vm.frames, CallFrame{
		closure: closure,
		base:    len(vm.stack),
		locals:  locals,
	})
	if vm.tracer != nil {
		vm.tracer.EnterFunction(closure.Chunk)
	}
	return nil
}

// finishFrame pops the current frame, replacing its stack region with the
// return value. Reports true when the top-level frame returned.
func (vm *VM) finishFrame(ret Value) (bool, Value) {
	fr := vm.currentFrame()
	vm.closeUpvalues(fr.locals)
	vm.frames = vm.frames[:len(vm.frames)-1]
	vm.stack = vm.stack[:fr.base]
	if vm.tracer != nil {
		vm.tracer.ExitFunction()
	}
	if len(vm.frames) == 0 {
		return true, ret
	}
	vm.push(ret)
	return false, nil
}

func (vm *VM) captureUpvalue(slot *Value) *Upvalue {
	for _, uv := range vm.openUpvalues {
		if uv.Location == slot {
			return uv
		}
	}
	uv := &Upvalue{Location: slot}
	vm.openUpvalues = append(vm.openUpvalues, uv)
	return uv
}

// closeUpvalues moves captured slots of a dying frame into their cells.
func (vm *VM) closeUpvalues(locals []Value) {
	if len(locals) == 0 || len(vm.openUpvalues) == 0 {
		return
	}
	kept := vm.openUpvalues[:0]
	for _, uv := range vm.openUpvalues {
		if pointsInto(locals, uv.Location) {
			uv.Close()
			continue
		}
		kept = append(kept, uv)
	}
	vm.openUpvalues = kept
}

func pointsInto(locals []Value, slot *Value) bool {
	for i := range locals {
		if &locals[i] == slot {
			return true
		}
	}
	return false
}

// --- operator implementations ---

func (vm *VM) arithmetic(op bytecode.OpCode, left, right Value) (Value, error) {
	switch a := left.(type) {
	case int64:
		switch b := right.(type) {
		case int64:
			return vm.intArithmetic(op, a, b)
		case float64:
			return vm.floatArithmetic(op, float64(a), b)
		case string:
			if op == bytecode.OpMul {
				return vm.repeatString(b, a)
			}
		case *Vec:
			if op == bytecode.OpMul {
				return vm.repeatVec(b, a)
			}
		}
	case float64:
		switch b := right.(type) {
		case int64:
			return vm.floatArithmetic(op, a, float64(b))
		case float64:
			return vm.floatArithmetic(op, a, b)
		}
	case string:
		switch b := right.(type) {
		case string:
			if op == bytecode.OpAdd {
				return a + b, nil
			}
		case int64:
			if op == bytecode.OpMul {
				return vm.repeatString(a, b)
			}
		}
	case *Vec:
		switch b := right.(type) {
		case *Vec:
			if op == bytecode.OpAdd {
				elems := make([]Value, 0, len(a.Elems)+len(b.Elems))
				elems = append(elems, a.Elems...)
				elems = append(elems, b.Elems...)
				return NewVec(elems), nil
			}
		case int64:
			if op == bytecode.OpMul {
				return vm.repeatVec(a, b)
			}
		}
	}
	return nil, vm.runtimeError(errors.TypeMismatch,
		fmt.Sprintf("unsupported %s for %s and %s", op, TypeName(left), TypeName(right)))
}

func (vm *VM) intArithmetic(op bytecode.OpCode, a, b int64) (Value, error) {
	switch op {
	case bytecode.OpAdd:
		return a + b, nil
	case bytecode.OpSub:
		return a - b, nil
	case bytecode.OpMul:
		return a * b, nil
	case bytecode.OpDiv:
		if b == 0 {
			return nil, vm.runtimeError(errors.DivisionByZero, "integer division by zero")
		}
		return a / b, nil
	case bytecode.OpMod:
		if b == 0 {
			return nil, vm.runtimeError(errors.DivisionByZero, "integer modulo by zero")
		}
		return a % b, nil
	}
	return nil, vm.runtimeError(errors.TypeMismatch, fmt.Sprintf("unsupported int operation %s", op))
}

func (vm *VM) floatArithmetic(op bytecode.OpCode, a, b float64) (Value, error) {
	switch op {
	case bytecode.OpAdd:
		return a + b, nil
	case bytecode.OpSub:
		return a - b, nil
	case bytecode.OpMul:
		return a * b, nil
	case bytecode.OpDiv:
		return a / b, nil
	case bytecode.OpMod:
		return math.Mod(a, b), nil
	}
	return nil, vm.runtimeError(errors.TypeMismatch, fmt.Sprintf("unsupported float operation %s", op))
}

func (vm *VM) repeatString(s string, n int64) (Value, error) {
	if n < 0 {
		return nil, vm.runtimeError(errors.TypeMismatch, "negative string repeat count")
	}
	return strings.Repeat(s, int(n)), nil
}

func (vm *VM) repeatVec(v *Vec, n int64) (Value, error) {
	if n < 0 {
		return nil, vm.runtimeError(errors.TypeMismatch, "negative vector repeat count")
	}
	elems := make([]Value, 0, int(n)*len(v.Elems))
	for i := int64(0); i < n; i++ {
		elems = append(elems, v.Elems...)
	}
	return NewVec(elems), nil
}

func (vm *VM) length(val Value) (Value, error) {
	switch v := val.(type) {
	case int64, float64:
		return v, nil
	case string:
		return int64(len(v)), nil
	case *Vec:
		return int64(len(v.Elems)), nil
	case *Object:
		return int64(v.Len()), nil
	}
	return nil, vm.runtimeError(errors.TypeMismatch, fmt.Sprintf("unary + invalid for %s", TypeName(val)))
}

func (vm *VM) indexGet(container, key Value) (Value, error) {
	switch c := container.(type) {
	case *Vec:
		idx, err := vm.wrapIndex(key, len(c.Elems))
		if err != nil {
			return nil, err
		}
		return c.Elems[idx], nil
	case string:
		idx, err := vm.wrapIndex(key, len(c))
		if err != nil {
			return nil, err
		}
		return int64(c[idx]), nil
	case *Object:
		val, found, hashable := c.Get(key)
		if !hashable {
			return nil, vm.runtimeError(errors.KeyUnhashable, fmt.Sprintf("%s is not a hashable key", TypeName(key)))
		}
		if !found {
			return nil, nil
		}
		return val, nil
	}
	return nil, vm.runtimeError(errors.TypeMismatch, fmt.Sprintf("cannot index %s", TypeName(container)))
}

func (vm *VM) indexSet(container, key, val Value) error {
	switch c := container.(type) {
	case *Vec:
		idx, err := vm.wrapIndex(key, len(c.Elems))
		if err != nil {
			return err
		}
		c.Elems[idx] = val
		return nil
	case *Object:
		if !c.Set(key, val) {
			return vm.runtimeError(errors.KeyUnhashable, fmt.Sprintf("%s is not a hashable key", TypeName(key)))
		}
		return nil
	}
	return vm.runtimeError(errors.TypeMismatch, fmt.Sprintf("cannot assign into %s", TypeName(container)))
}

func (vm *VM) slice(container, low, high Value) (Value, error) {
	switch c := container.(type) {
	case *Vec:
		lo, hi, err := vm.sliceBounds(low, high, len(c.Elems))
		if err != nil {
			return nil, err
		}
		elems := make([]Value, hi-lo)
		copy(elems, c.Elems[lo:hi])
		return NewVec(elems), nil
	case string:
		lo, hi, err := vm.sliceBounds(low, high, len(c))
		if err != nil {
			return nil, err
		}
		return c[lo:hi], nil
	}
	return nil, vm.runtimeError(errors.TypeMismatch, fmt.Sprintf("cannot slice %s", TypeName(container)))
}

// wrapIndex resolves a possibly negative index against length; negative
// indices count from the end.
func (vm *VM) wrapIndex(key Value, length int) (int, error) {
	idx, ok := key.(int64)
	if !ok {
		return 0, vm.runtimeError(errors.TypeMismatch, fmt.Sprintf("index must be int, not %s", TypeName(key)))
	}
	wrapped := idx
	if wrapped < 0 {
		wrapped += int64(length)
	}
	if wrapped < 0 || wrapped >= int64(length) {
		return 0, vm.runtimeError(errors.IndexOutOfBounds, fmt.Sprintf("index %d out of range for length %d", idx, length))
	}
	return int(wrapped), nil
}

// sliceBounds resolves slice endpoints; unlike element indexing, an
// endpoint equal to the length is valid.
func (vm *VM) sliceBounds(low, high Value, length int) (int, int, error) {
	resolve := func(v Value) (int, error) {
		idx, ok := v.(int64)
		if !ok {
			return 0, vm.runtimeError(errors.TypeMismatch, fmt.Sprintf("slice bound must be int, not %s", TypeName(v)))
		}
		wrapped := idx
		if wrapped < 0 {
			wrapped += int64(length)
		}
		if wrapped < 0 || wrapped > int64(length) {
			return 0, vm.runtimeError(errors.IndexOutOfBounds, fmt.Sprintf("slice bound %d out of range for length %d", idx, length))
		}
		return int(wrapped), nil
	}
	lo, err := resolve(low)
	if err != nil {
		return 0, 0, err
	}
	hi, err := resolve(high)
	if err != nil {
		return 0, 0, err
	}
	if lo > hi {
		return 0, 0, vm.runtimeError(errors.IndexOutOfBounds, fmt.Sprintf("slice bounds reversed: %d > %d", lo, hi))
	}
	return lo, hi, nil
}

// --- stack helpers ---

func (vm *VM) push(v Value) {
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop() Value {
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VM) peek(depth int) Value {
	return vm.stack[len(vm.stack)-1-depth]
}

func (vm *VM) currentFrame() *CallFrame {
	return &vm.frames[len(vm.frames)-1]
}

func (vm *VM) readByte(fr *CallFrame) byte {
	b := fr.closure.Chunk.Code[fr.ip]
	fr.ip++
	return b
}

func (vm *VM) readU16(fr *CallFrame) int {
	code := fr.closure.Chunk.Code
	v := int(code[fr.ip])<<8 | int(code[fr.ip+1])
	fr.ip += 2
	return v
}

func (vm *VM) runtimeError(kind errors.RuntimeKind, msg string) error {
	fr := vm.currentFrame()
	return errors.NewRuntimeError(kind, msg, fr.closure.Chunk.Span(fr.lastOp))
}

func boolInt(b bool) Value {
	if b {
		return int64(1)
	}
	return int64(0)
}
