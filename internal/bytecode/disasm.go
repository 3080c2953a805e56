package bytecode

import (
	"fmt"
	"strings"
)

// Instruction decodes the instruction starting at offset and returns its
// rendering plus the offset of the next instruction.
func (c *Chunk) Instruction(offset int) (string, int) {
	op := OpCode(c.Code[offset])
	switch op {
	case OpConstant, OpGetGlobal, OpSetGlobal, OpMakeVec, OpMakeObj:
		idx := c.readU16(offset + 1)
		detail := ""
		if op != OpMakeVec && op != OpMakeObj {
			detail = " (" + FormatConstant(c.Constants[idx]) + ")"
		}
		return fmt.Sprintf("%s %d%s", op, idx, detail), offset + 3
	case OpJump, OpJumpIfFalse, OpJumpIfTrue:
		return fmt.Sprintf("%s -> %d", op, c.readU16(offset+1)), offset + 3
	case OpGetLocal, OpSetLocal:
		slot := int(c.Code[offset+1])
		name := ""
		if slot < len(c.LocalNames) {
			name = " (" + c.LocalNames[slot] + ")"
		}
		return fmt.Sprintf("%s %d%s", op, slot, name), offset + 2
	case OpGetUpvalue, OpSetUpvalue, OpCall, OpPrint, OpUnpack, OpClone, OpSwap:
		return fmt.Sprintf("%s %d", op, c.Code[offset+1]), offset + 2
	case OpClosure:
		idx := c.readU16(offset + 1)
		count := int(c.Code[offset+3])
		var ups []string
		pos := offset + 4
		for i := 0; i < count; i++ {
			kind := "upvalue"
			if c.Code[pos] == 1 {
				kind = "local"
			}
			ups = append(ups, fmt.Sprintf("%s %d", kind, c.Code[pos+1]))
			pos += 2
		}
		detail := FormatConstant(c.Constants[idx])
		if len(ups) > 0 {
			detail += " [" + strings.Join(ups, ", ") + "]"
		}
		return fmt.Sprintf("%s %d (%s)", op, idx, detail), pos
	default:
		return op.String(), offset + 1
	}
}

// Disassemble renders every instruction of the chunk, marking current when
// it is a valid offset.
func Disassemble(c *Chunk, current int) string {
	var sb strings.Builder
	for offset := 0; offset < len(c.Code); {
		text, next := c.Instruction(offset)
		marker := "    "
		if offset == current {
			marker = ">>> "
		}
		fmt.Fprintf(&sb, "%s%04d %s\n", marker, offset, text)
		offset = next
	}
	return sb.String()
}

// FormatConstants renders the constant pool one entry per line.
func FormatConstants(c *Chunk) string {
	var sb strings.Builder
	for i, v := range c.Constants {
		fmt.Fprintf(&sb, "%d: %s\n", i, FormatConstant(v))
	}
	return sb.String()
}

// FormatConstant renders a single pool entry. Function prototypes print
// their parameter list, the way the debugger shows callables.
func FormatConstant(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "nil"
	case string:
		return fmt.Sprintf("%q", val)
	case int64:
		return fmt.Sprintf("%d", val)
	case float64:
		return fmt.Sprintf("%v", val)
	case *Chunk:
		params := ""
		if val.Arity <= len(val.LocalNames) {
			params = strings.Join(val.LocalNames[:val.Arity], ", ")
		}
		name := val.Name
		if name == "" {
			name = "fn"
		}
		return fmt.Sprintf("<%s(%s) %d bytes>", name, params, len(val.Code))
	default:
		return fmt.Sprintf("%v", val)
	}
}

func (c *Chunk) readU16(offset int) int {
	return int(c.Code[offset])<<8 | int(c.Code[offset+1])
}
