// Package bytecode handles encoding and decoding the uint32 instructions that
// drive the vm.
package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

type (
	// Op is the descriptor of which kind of instruction each bytecode is.
	Op uint8
	// Instruction is a single encoded vm instruction.
	// Layout: | CK: 1 | C: u8 | BK: 1 | B: u8 | A: u8 | Opcode: u6 |.
	Instruction uint32
	// Shape is a descriptor of what operand format an instruction has.
	Shape string
)

const (
	// ShapeABC is an instruction with a, b and c params all uint8, where b and
	// c each carry a flag marking them as constant-table indexes.
	ShapeABC Shape = "iABC"
	// ShapeABx is an instruction with an a uint8 and b uint16 param.
	ShapeABx Shape = "iABx"
	// ShapeAsBx is an instruction with an a uint8 and b int16 param.
	ShapeAsBx Shape = "iAsBx"

	// MOVE copies a value between registers.
	MOVE Op = iota
	// LOADK loads a constant into a register.
	LOADK
	// LOADBOOL loads a boolean into a register.
	LOADBOOL
	// LOADNIL loads nil values into a range of registers.
	LOADNIL
	// LOADI loads a raw int.
	LOADI
	// LOADF loads a raw float.
	LOADF
	// GETUPVAL reads an upvalue into a register.
	GETUPVAL
	// GETTABUP reads a value from a table held in an upvalue into a register.
	GETTABUP
	// GETTABLE reads a table element into a register.
	GETTABLE
	// SETTABUP writes a register value into a table held in an upvalue.
	SETTABUP
	// SETUPVAL writes a register value into an upvalue.
	SETUPVAL
	// SETTABLE writes a register value into a table element.
	SETTABLE
	// NEWTABLE creates a new table.
	NEWTABLE
	// SELF prepares an object method for calling.
	SELF
	// ADD addition operator.
	ADD
	// SUB subtraction operator.
	SUB
	// MUL multiplication operator.
	MUL
	// MOD modulus (remainder) operator.
	MOD
	// POW exponentiation operator.
	POW
	// DIV division operator.
	DIV
	// IDIV integer division operator.
	IDIV
	// BAND bit-wise AND operator.
	BAND
	// BOR bit-wise OR operator.
	BOR
	// BXOR bit-wise exclusive OR operator.
	BXOR
	// SHL shift bits left.
	SHL
	// SHR shift bits right.
	SHR
	// UNM unary minus.
	UNM
	// BNOT bit-wise NOT operator.
	BNOT
	// NOT logical NOT operator.
	NOT
	// LEN length operator.
	LEN
	// CONCAT concatenates a range of registers.
	CONCAT
	// JMP unconditional jump, closing upvalues above A-1 when A > 0.
	JMP
	// CLOSE closes upvalues at or above register A.
	CLOSE
	// EQ equality test, with conditional jump.
	EQ
	// LT less than test, with conditional jump.
	LT
	// LE less than or equal to test, with conditional jump.
	LE
	// TEST boolean test, with conditional jump.
	TEST
	// CALL calls a closure.
	CALL
	// TAILCALL performs a tail call, reusing the caller's frame.
	TAILCALL
	// RETURN returns from a function call.
	RETURN
	// FORLOOP iterates a numeric for loop.
	FORLOOP
	// FORPREP initializes a numeric for loop.
	FORPREP
	// CLOSURE creates a closure of a function prototype.
	CLOSURE
	// VARARG assigns vararg function arguments to registers.
	VARARG
	// max possible is 6 bits or 64 codes.
)

var opNames = map[Op]string{
	MOVE:     "MOVE",
	LOADK:    "LOADK",
	LOADBOOL: "LOADBOOL",
	LOADNIL:  "LOADNIL",
	LOADI:    "LOADI",
	LOADF:    "LOADF",
	GETUPVAL: "GETUPVAL",
	GETTABUP: "GETTABUP",
	GETTABLE: "GETTABLE",
	SETTABUP: "SETTABUP",
	SETUPVAL: "SETUPVAL",
	SETTABLE: "SETTABLE",
	NEWTABLE: "NEWTABLE",
	SELF:     "SELF",
	ADD:      "ADD",
	SUB:      "SUB",
	MUL:      "MUL",
	MOD:      "MOD",
	POW:      "POW",
	DIV:      "DIV",
	IDIV:     "IDIV",
	BAND:     "BAND",
	BOR:      "BOR",
	BXOR:     "BXOR",
	SHL:      "SHL",
	SHR:      "SHR",
	UNM:      "UNM",
	BNOT:     "BNOT",
	NOT:      "NOT",
	LEN:      "LEN",
	CONCAT:   "CONCAT",
	JMP:      "JMP",
	CLOSE:    "CLOSE",
	EQ:       "EQ",
	LT:       "LT",
	LE:       "LE",
	TEST:     "TEST",
	CALL:     "CALL",
	TAILCALL: "TAILCALL",
	RETURN:   "RETURN",
	FORLOOP:  "FORLOOP",
	FORPREP:  "FORPREP",
	CLOSURE:  "CLOSURE",
	VARARG:   "VARARG",
}

var namesToOp = func() map[string]Op {
	out := make(map[string]Op, len(opNames))
	for op, name := range opNames {
		out[name] = op
	}
	return out
}()

// Operand bit offsets within the 32 bit instruction.
const (
	aShift     = 6
	bShift     = aShift + 8
	bKShift    = bShift + 8
	cShift     = bKShift + 1
	cKShift    = cShift + 8
	mask6bits  = 0x3F
	mask2Bytes = 0xFFFF
	maskByte   = 0xFF
)

// IABCK creates a new instruction with b and c params that can be flagged as
// constant-table indexes.
func IABCK(op Op, a uint8, b uint8, bconst bool, c uint8, cconst bool) Instruction {
	bbit, cbit := 0, 0
	if bconst {
		bbit = 1
	}
	if cconst {
		cbit = 1
	}
	return Instruction(cbit)<<cKShift |
		Instruction(c)<<cShift |
		Instruction(bbit)<<bKShift |
		Instruction(b)<<bShift |
		Instruction(a)<<aShift |
		Instruction(op)
}

// IAB is a helper to create an IABCK instruction without constants or a c param.
func IAB(op Op, a uint8, b uint8) Instruction { return IABC(op, a, b, 0) }

// IABC is a helper to create an IABCK without constant flags.
func IABC(op Op, a uint8, b uint8, c uint8) Instruction { return IABCK(op, a, b, false, c, false) }

// IABx creates an instruction with a register and a uint16 value, usually a
// constant or prototype index.
func IABx(op Op, a uint8, b uint16) Instruction {
	return Instruction(b)<<bShift | Instruction(a)<<aShift | Instruction(op)
}

// IAsBx creates an instruction with a register and a signed int16 value, often
// used for jumps.
func IAsBx(op Op, a uint8, b int16) Instruction {
	return Instruction(uint16(b))<<bShift | Instruction(a)<<aShift | Instruction(op)
}

// FromName resolves an opcode mnemonic as printed by String.
func FromName(name string) (Op, bool) {
	op, found := namesToOp[strings.ToUpper(name)]
	return op, found
}

func (op Op) String() string {
	name, found := opNames[op]
	if !found {
		return "UNDEFINED"
	}
	return name
}

// Op extracts which opcode the instruction carries. Used for the switch in the vm.
func (in Instruction) Op() Op { return Op(in & mask6bits) }

// A gets the a param present in all instruction shapes.
func (in Instruction) A() int64 { return int64(in >> aShift & maskByte) }

// B gets the b param in IABCK instructions.
func (in Instruction) B() int64 { return int64(in >> bShift & maskByte) }

// C gets the c param in IABCK instructions.
func (in Instruction) C() int64 { return int64(in >> cShift & maskByte) }

// Bx gets the b param in IABx instructions.
func (in Instruction) Bx() int64 { return int64(in >> bShift & mask2Bytes) }

// SBx gets the b param in IAsBx instructions.
func (in Instruction) SBx() int64 { return int64(int16(in >> bShift & mask2Bytes)) }

// BK gets the b param in IABCK instructions along with its constant flag.
func (in Instruction) BK() (int64, bool) { return in.B(), in&(1<<bKShift) > 0 }

// CK gets the c param in IABCK instructions along with its constant flag.
func (in Instruction) CK() (int64, bool) { return in.C(), in&(1<<cKShift) > 0 }

// Shape returns which operand format the instruction has: iABC, iABx or iAsBx.
func (in Instruction) Shape() Shape {
	switch in.Op() {
	case LOADK, CLOSURE:
		return ShapeABx
	case JMP, FORLOOP, FORPREP, LOADI, LOADF:
		return ShapeAsBx
	default:
		return ShapeABC
	}
}

// String formats an instruction the way the assembler accepts it.
func (in Instruction) String() string {
	op := in.Op().String()
	switch in.Shape() {
	case ShapeABx:
		return fmt.Sprintf("%-10v %-5v %-5v %-5v", op, in.A(), in.Bx(), "")
	case ShapeAsBx:
		return fmt.Sprintf("%-10v %-5v %-5v %-5v", op, in.A(), in.SBx(), "")
	default:
		b, bconst := in.BK()
		c, cconst := in.CK()
		bstr := strconv.FormatInt(b, 10)
		if bconst {
			bstr += "k"
		}
		cstr := strconv.FormatInt(c, 10)
		if cconst {
			cstr += "k"
		}
		return fmt.Sprintf("%-10v %-5v %-5v %-5v", op, in.A(), bstr, cstr)
	}
}
