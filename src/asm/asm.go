// Package asm assembles mnemonic listings into function prototypes and
// disassembles prototypes back into listings. It is the in-repo Compiler
// implementation: a development harness for driving the runtime without a
// full language frontend.
//
// A listing is line oriented. `;` starts a comment. Directives shape the
// current prototype:
//
//	.fn name      begin a nested prototype, closed by .end
//	.end          close the nested prototype
//	.param n      declare the prototype arity
//	.vararg       mark the prototype as accepting extra arguments
//	.const lit    add a constant: nil, true, false, a number or a "string"
//	.upval name stack|parent idx
//	              declare where an upvalue is captured from
//
// Anything else is an instruction: an opcode mnemonic followed by its
// operands, with a `k` suffix marking a constant-table operand. The top level
// of a listing is the main chunk, which is always variadic.
package asm

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/skein-lang/skein/src/bytecode"
	"github.com/skein-lang/skein/src/code"
	"github.com/skein-lang/skein/src/lerrors"
)

// Assembler implements code.Compiler over the listing format.
type Assembler struct{}

// New creates an assembler. It is stateless and safe to share.
func New() *Assembler { return &Assembler{} }

// Compile assembles a listing into a prototype tree.
func (a *Assembler) Compile(name string, src io.Reader) (*code.Proto, error) {
	root := code.New(name, "main", 0, true, code.LineInfo{Line: 1})
	protoStack := []*code.Proto{root}
	scanner := bufio.NewScanner(src)

	lineNo := int64(0)
	for scanner.Scan() {
		lineNo++
		line := stripComment(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		fn := protoStack[len(protoStack)-1]
		var err error
		if strings.HasPrefix(fields[0], ".") {
			protoStack, err = a.directive(name, protoStack, line, fields, lineNo)
		} else {
			err = a.instruction(fn, fields, lineNo)
		}
		if err != nil {
			return nil, asmErr(name, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, asmErr(name, lineNo, err)
	}
	if len(protoStack) > 1 {
		// Wraps io.EOF so interactive hosts can tell "needs more input"
		// apart from a real assembly fault.
		return nil, asmErr(name, lineNo, fmt.Errorf("%v unclosed .fn block(s): %w", len(protoStack)-1, io.EOF))
	}
	return root, nil
}

// stripComment cuts a trailing `;` comment, ignoring semicolons inside a
// string literal.
func stripComment(line string) string {
	inQuote, escaped := false, false
	for i, r := range line {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && inQuote:
			escaped = true
		case r == '"':
			inQuote = !inQuote
		case r == ';' && !inQuote:
			return line[:i]
		}
	}
	return line
}

func (a *Assembler) directive(filename string, protoStack []*code.Proto, line string, fields []string, lineNo int64) ([]*code.Proto, error) {
	fn := protoStack[len(protoStack)-1]
	switch fields[0] {
	case ".fn":
		if len(fields) != 2 {
			return nil, fmt.Errorf(".fn expects a name, got %v operands", len(fields)-1)
		}
		nested := code.New(filename, fields[1], 0, false, code.LineInfo{Line: lineNo})
		fn.AddProto(nested)
		return append(protoStack, nested), nil
	case ".end":
		if len(protoStack) == 1 {
			return nil, fmt.Errorf(".end outside of a .fn block")
		}
		return protoStack[:len(protoStack)-1], nil
	case ".param":
		if len(fields) != 2 {
			return nil, fmt.Errorf(".param expects a count")
		}
		arity, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil || arity < 0 {
			return nil, fmt.Errorf("bad .param count %q", fields[1])
		}
		fn.Arity = arity
		return protoStack, nil
	case ".vararg":
		fn.Varargs = true
		return protoStack, nil
	case ".const":
		rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), ".const"))
		val, err := parseLiteral(rest)
		if err != nil {
			return nil, err
		}
		if _, err := fn.AddConst(val); err != nil {
			return nil, err
		}
		return protoStack, nil
	case ".upval":
		if len(fields) != 4 {
			return nil, fmt.Errorf(".upval expects name, stack|parent and an index")
		}
		var fromStack bool
		switch fields[2] {
		case "stack":
			fromStack = true
		case "parent":
		default:
			return nil, fmt.Errorf("bad .upval source %q, want stack or parent", fields[2])
		}
		idx, err := strconv.ParseUint(fields[3], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("bad .upval index %q", fields[3])
		}
		fn.UpIndexes = append(fn.UpIndexes, code.UpIndex{
			Name:      fields[1],
			FromStack: fromStack,
			Index:     uint8(idx),
		})
		return protoStack, nil
	default:
		return nil, fmt.Errorf("unknown directive %v", fields[0])
	}
}

func (a *Assembler) instruction(fn *code.Proto, fields []string, lineNo int64) error {
	op, found := bytecode.FromName(fields[0])
	if !found {
		return fmt.Errorf("unknown opcode %v", fields[0])
	}
	operands := fields[1:]
	li := code.LineInfo{Line: lineNo}
	switch bytecode.Instruction(op).Shape() {
	case bytecode.ShapeABx:
		if len(operands) != 2 {
			return fmt.Errorf("%v expects A and Bx operands", op)
		}
		regA, err := parseReg(operands[0])
		if err != nil {
			return err
		}
		bx, err := strconv.ParseUint(operands[1], 10, 16)
		if err != nil {
			return fmt.Errorf("bad Bx operand %q", operands[1])
		}
		fn.Emit(bytecode.IABx(op, regA, uint16(bx)), li)
	case bytecode.ShapeAsBx:
		if len(operands) != 2 {
			return fmt.Errorf("%v expects A and sBx operands", op)
		}
		regA, err := parseReg(operands[0])
		if err != nil {
			return err
		}
		sbx, err := strconv.ParseInt(operands[1], 10, 16)
		if err != nil {
			return fmt.Errorf("bad sBx operand %q", operands[1])
		}
		fn.Emit(bytecode.IAsBx(op, regA, int16(sbx)), li)
	default:
		if len(operands) < 1 || len(operands) > 3 {
			return fmt.Errorf("%v expects A, B and C operands", op)
		}
		regA, err := parseReg(operands[0])
		if err != nil {
			return err
		}
		var b, c uint8
		var bk, ck bool
		if len(operands) > 1 {
			if b, bk, err = parseRegK(operands[1]); err != nil {
				return err
			}
		}
		if len(operands) > 2 {
			if c, ck, err = parseRegK(operands[2]); err != nil {
				return err
			}
		}
		fn.Emit(bytecode.IABCK(op, regA, b, bk, c, ck), li)
	}
	return nil
}

func parseReg(field string) (uint8, error) {
	val, err := strconv.ParseUint(field, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("bad register %q", field)
	}
	return uint8(val), nil
}

func parseRegK(field string) (uint8, bool, error) {
	isConst := strings.HasSuffix(field, "k")
	val, err := parseReg(strings.TrimSuffix(field, "k"))
	return val, isConst, err
}

func parseLiteral(lit string) (any, error) {
	switch {
	case lit == "":
		return nil, fmt.Errorf(".const expects a literal")
	case lit == "nil":
		return nil, nil
	case lit == "true":
		return true, nil
	case lit == "false":
		return false, nil
	case strings.HasPrefix(lit, `"`):
		str, err := strconv.Unquote(lit)
		if err != nil {
			return nil, fmt.Errorf("bad string literal %v", lit)
		}
		return str, nil
	}
	if ival, err := strconv.ParseInt(lit, 0, 64); err == nil {
		return ival, nil
	}
	if fval, err := strconv.ParseFloat(lit, 64); err == nil {
		return fval, nil
	}
	return nil, fmt.Errorf("bad literal %v", lit)
}

func asmErr(filename string, line int64, err error) error {
	if lerr, ok := err.(*lerrors.Error); ok {
		return lerr
	}
	return &lerrors.Error{
		Kind:     lerrors.AsmErr,
		Filename: filename,
		Line:     line,
		Err:      err,
	}
}
