package parser

import (
	"fmt"
	"strings"
)

// Format renders the expression tree as an indented listing for the debug
// trace's Expression section.
func Format(expr Expr) string {
	var sb strings.Builder
	writeExpr(&sb, expr, 0)
	return sb.String()
}

func writeExpr(sb *strings.Builder, expr Expr, depth int) {
	indent := strings.Repeat("  ", depth)
	switch e := expr.(type) {
	case *NilLit:
		fmt.Fprintf(sb, "%sNil\n", indent)
	case *IntLit:
		fmt.Fprintf(sb, "%sInt %d\n", indent, e.Value)
	case *FloatLit:
		fmt.Fprintf(sb, "%sFloat %v\n", indent, e.Value)
	case *StrLit:
		fmt.Fprintf(sb, "%sStr %q\n", indent, e.Value)
	case *Ident:
		fmt.Fprintf(sb, "%sIdent %s\n", indent, e.Name)
	case *VecLit:
		fmt.Fprintf(sb, "%sVec\n", indent)
		for _, el := range e.Elems {
			writeExpr(sb, el, depth+1)
		}
	case *ObjLit:
		fmt.Fprintf(sb, "%sObject\n", indent)
		for i := range e.Keys {
			writeExpr(sb, e.Keys[i], depth+1)
			writeExpr(sb, e.Vals[i], depth+2)
		}
	case *Unary:
		fmt.Fprintf(sb, "%sUnary %s\n", indent, e.Op)
		writeExpr(sb, e.X, depth+1)
	case *Binary:
		fmt.Fprintf(sb, "%sBinary %s\n", indent, e.Op)
		writeExpr(sb, e.Left, depth+1)
		writeExpr(sb, e.Right, depth+1)
	case *Index:
		fmt.Fprintf(sb, "%sIndex\n", indent)
		writeExpr(sb, e.X, depth+1)
		writeExpr(sb, e.Key, depth+1)
	case *Slice:
		fmt.Fprintf(sb, "%sSlice\n", indent)
		writeExpr(sb, e.X, depth+1)
		writeExpr(sb, e.Low, depth+1)
		writeExpr(sb, e.High, depth+1)
	case *Field:
		fmt.Fprintf(sb, "%sField .%s\n", indent, e.Name)
		writeExpr(sb, e.X, depth+1)
	case *Assign:
		fmt.Fprintf(sb, "%sAssign\n", indent)
		writeExpr(sb, e.Target, depth+1)
		writeExpr(sb, e.Value, depth+1)
	case *OpAssign:
		fmt.Fprintf(sb, "%sAssign %s=\n", indent, e.Op)
		writeExpr(sb, e.Target, depth+1)
		writeExpr(sb, e.Value, depth+1)
	case *Block:
		fmt.Fprintf(sb, "%sBlock\n", indent)
		for _, el := range e.Exprs {
			writeExpr(sb, el, depth+1)
		}
	case *If:
		fmt.Fprintf(sb, "%sIf\n", indent)
		writeExpr(sb, e.Cond, depth+1)
		writeExpr(sb, e.Then, depth+1)
		if e.Else != nil {
			fmt.Fprintf(sb, "%sElse\n", indent)
			writeExpr(sb, e.Else, depth+1)
		}
	case *While:
		fmt.Fprintf(sb, "%sWhile\n", indent)
		writeExpr(sb, e.Cond, depth+1)
		writeExpr(sb, e.Body, depth+1)
	case *For:
		fmt.Fprintf(sb, "%sFor\n", indent)
		writeExpr(sb, e.Init, depth+1)
		writeExpr(sb, e.Cond, depth+1)
		writeExpr(sb, e.Step, depth+1)
		writeExpr(sb, e.Body, depth+1)
	case *FnDef:
		fmt.Fprintf(sb, "%sFn (%s)\n", indent, strings.Join(e.Params, ", "))
		writeExpr(sb, e.Body, depth+1)
	case *Call:
		fmt.Fprintf(sb, "%sCall\n", indent)
		writeExpr(sb, e.Callee, depth+1)
		for _, arg := range e.Args {
			writeExpr(sb, arg, depth+1)
		}
	case *Return:
		fmt.Fprintf(sb, "%sReturn\n", indent)
		if e.Value != nil {
			writeExpr(sb, e.Value, depth+1)
		}
	case *Use:
		fmt.Fprintf(sb, "%sUse %q\n", indent, e.Path)
	case *Print:
		fmt.Fprintf(sb, "%sPrint\n", indent)
		for _, arg := range e.Args {
			writeExpr(sb, arg, depth+1)
		}
	case *Read:
		fmt.Fprintf(sb, "%sRead\n", indent)
	default:
		fmt.Fprintf(sb, "%s%T\n", indent, expr)
	}
}
