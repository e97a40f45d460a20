package asm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/skein-lang/skein/src/code"
)

// Disassemble renders a prototype tree as a listing that Compile accepts
// again. Nested prototypes are emitted as .fn blocks after the instructions
// of their parent, in index order so CLOSURE operands stay valid.
func Disassemble(fn *code.Proto) string {
	var out strings.Builder
	writeProto(&out, fn, true)
	return out.String()
}

func writeProto(out *strings.Builder, fn *code.Proto, root bool) {
	if !root {
		fmt.Fprintf(out, ".fn %v\n", fn.Name)
	}
	if fn.Arity > 0 {
		fmt.Fprintf(out, ".param %v\n", fn.Arity)
	}
	if fn.Varargs && !root {
		fmt.Fprintln(out, ".vararg")
	}
	for _, up := range fn.UpIndexes {
		src := "parent"
		if up.FromStack {
			src = "stack"
		}
		fmt.Fprintf(out, ".upval %v %v %v\n", up.Name, src, up.Index)
	}
	for _, kst := range fn.Constants {
		fmt.Fprintf(out, ".const %v\n", formatLiteral(kst))
	}
	for _, in := range fn.Code {
		fmt.Fprintln(out, strings.TrimRight(in.String(), " "))
	}
	for _, nested := range fn.Protos {
		writeProto(out, nested, false)
	}
	if !root {
		fmt.Fprintln(out, ".end")
	}
}

// formatLiteral prints a constant so parseLiteral recovers the same value
// and type. Integral floats keep a trailing .0 so they do not reassemble
// as integers.
func formatLiteral(val any) string {
	switch kst := val.(type) {
	case nil:
		return "nil"
	case bool:
		return strconv.FormatBool(kst)
	case string:
		return strconv.Quote(kst)
	case int64:
		return strconv.FormatInt(kst, 10)
	case float64:
		str := strconv.FormatFloat(kst, 'g', -1, 64)
		if !strings.ContainsAny(str, ".eEnN") {
			str += ".0"
		}
		return str
	default:
		return fmt.Sprintf("%v", val)
	}
}
