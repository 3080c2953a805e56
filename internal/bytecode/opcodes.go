package bytecode

type OpCode byte

const (
	OpConstant OpCode = iota // u16 constant index
	OpNil
	OpPop
	OpDup
	OpClone // u8 depth; push a copy of the element that far below the top
	OpSwap  // u8 depth; swap the top with the element that far below it

	OpGetLocal   // u8 slot
	OpSetLocal   // u8 slot
	OpGetUpvalue // u8 upvalue index
	OpSetUpvalue // u8 upvalue index
	OpGetGlobal  // u16 name constant
	OpSetGlobal  // u16 name constant

	OpGetIndex
	OpSetIndex
	OpSlice
	OpAppend
	OpUnpack // u8 element count, destructuring

	OpNegate
	OpNot
	OpLen
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod

	OpEqual
	OpNotEqual
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual

	OpJump        // u16 absolute target
	OpJumpIfFalse // u16 absolute target; leaves the operand on the stack
	OpJumpIfTrue  // u16 absolute target; leaves the operand on the stack

	OpCall // u8 argument count
	OpReturn

	OpMakeVec // u16 element count
	OpMakeObj // u16 entry count
	OpClosure // u16 chunk constant, u8 upvalue count, then (isLocal, index) byte pairs

	OpPrint // u8 argument count
	OpRead
)

var opNames = map[OpCode]string{
	OpConstant:     "CONST",
	OpNil:          "NIL",
	OpPop:          "POP",
	OpDup:          "DUP",
	OpClone:        "CLONE",
	OpSwap:         "SWAP",
	OpGetLocal:     "GET_LOCAL",
	OpSetLocal:     "SET_LOCAL",
	OpGetUpvalue:   "GET_UPVAL",
	OpSetUpvalue:   "SET_UPVAL",
	OpGetGlobal:    "GET_GLOBAL",
	OpSetGlobal:    "SET_GLOBAL",
	OpGetIndex:     "GET_INDEX",
	OpSetIndex:     "SET_INDEX",
	OpSlice:        "SLICE",
	OpAppend:       "APPEND",
	OpUnpack:       "UNPACK",
	OpNegate:       "NEG",
	OpNot:          "NOT",
	OpLen:          "LEN",
	OpAdd:          "ADD",
	OpSub:          "SUB",
	OpMul:          "MUL",
	OpDiv:          "DIV",
	OpMod:          "MOD",
	OpEqual:        "EQ",
	OpNotEqual:     "NEQ",
	OpLess:         "LT",
	OpLessEqual:    "LE",
	OpGreater:      "GT",
	OpGreaterEqual: "GE",
	OpJump:         "JMP",
	OpJumpIfFalse:  "JMP_IF_FALSE",
	OpJumpIfTrue:   "JMP_IF_TRUE",
	OpCall:         "CALL",
	OpReturn:       "RETURN",
	OpMakeVec:      "MAKE_VEC",
	OpMakeObj:      "MAKE_OBJ",
	OpClosure:      "MAKE_CLOSURE",
	OpPrint:        "PRINT",
	OpRead:         "READ_LINE",
}

func (op OpCode) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return "UNKNOWN"
}
