package vm

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"aoclang/internal/bytecode"
)

// Tracer emits the debug single-stepping stream: labelled sections delimited
// by lines of the form "=== Title ===". A host driver consumes these
// sections between steps.
type Tracer struct {
	w io.Writer
}

func NewTracer(w io.Writer) *Tracer {
	return &Tracer{w: w}
}

// Emit writes one titled section with arbitrary body text.
func (t *Tracer) Emit(title, body string) {
	fmt.Fprintf(t.w, "=== %s ===\n", title)
	if body != "" {
		fmt.Fprint(t.w, body)
		if !strings.HasSuffix(body, "\n") {
			fmt.Fprintln(t.w)
		}
	}
}

// EnterFunction marks a new frame becoming live.
func (t *Tracer) EnterFunction(chunk *bytecode.Chunk) {
	name := chunk.Name
	if name == "" {
		name = "fn"
	}
	t.Emit("Function "+name, "")
}

// ExitFunction marks the current frame returning.
func (t *Tracer) ExitFunction() {
	t.Emit("Exit function", "")
}

// Stdout labels program output interleaved into the trace stream.
func (t *Tracer) Stdout() {
	t.Emit("Stdout", "")
}

// Step dumps the live frame before the next instruction executes.
func (t *Tracer) Step(vm *VM) {
	fr := vm.currentFrame()
	chunk := fr.closure.Chunk

	parts := make([]string, len(vm.stack))
	for i, v := range vm.stack {
		parts[i] = ToString(v)
	}
	t.Emit("Stack", "["+strings.Join(parts, ", ")+"]")

	text, _ := chunk.Instruction(fr.lastOp)
	t.Emit("Next operation", fmt.Sprintf("%04d %s", fr.lastOp, text))

	t.Emit("Constants", bytecode.FormatConstants(chunk))

	var vars strings.Builder
	for i, v := range fr.locals {
		name := fmt.Sprintf("slot %d", i)
		if i < len(chunk.LocalNames) {
			name = chunk.LocalNames[i]
		}
		fmt.Fprintf(&vars, "%d: %s = %s\n", i, name, ToString(v))
	}
	for i, uv := range fr.closure.Upvalues {
		fmt.Fprintf(&vars, "upvalue %d = %s\n", i, ToString(uv.Get()))
	}
	t.Emit("Variables", vars.String())

	t.Emit("Bytecode", bytecode.Disassemble(chunk, fr.lastOp))
}

// Summary reports totals once execution finishes.
func (t *Tracer) Summary(instructions int64) {
	t.Emit("Stderr", fmt.Sprintf("executed %s instructions", humanize.Comma(instructions)))
}
