package asm

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skein-lang/skein/src/bytecode"
	"github.com/skein-lang/skein/src/code"
	"github.com/skein-lang/skein/src/lerrors"
)

var ignoreLines = cmpopts.IgnoreFields(code.Proto{}, "LineTrace", "LineInfo")

func TestAssembler_Compile(t *testing.T) {
	t.Parallel()
	listing := `
; add the two constants and return the result
.const 10
.const 32
LOADK 0 0
LOADK 1 1
ADD 2 0 1
RETURN 2 2
`
	fn, err := New().Compile("add.ska", strings.NewReader(listing))
	require.NoError(t, err)
	assert.Equal(t, "add.ska", fn.Filename)
	assert.Equal(t, "main", fn.Name)
	assert.True(t, fn.Varargs)
	assert.Equal(t, []any{int64(10), int64(32)}, fn.Constants)
	require.Equal(t, []bytecode.Instruction{
		bytecode.IABx(bytecode.LOADK, 0, 0),
		bytecode.IABx(bytecode.LOADK, 1, 1),
		bytecode.IABC(bytecode.ADD, 2, 0, 1),
		bytecode.IAB(bytecode.RETURN, 2, 2),
	}, fn.Code)
	assert.Equal(t, int64(5), fn.LineAt(0).Line)
	assert.Equal(t, int64(8), fn.LineAt(3).Line)
}

func TestAssembler_CompileDirectives(t *testing.T) {
	t.Parallel()
	listing := `
.const "answer"
.fn double
.param 1
.upval _ENV parent 0
ADD 1 0 0
RETURN 1 2
.end
.fn spread
.vararg
.upval x stack 2
VARARG 0 0
RETURN 0 0
.end
CLOSURE 0 0
RETURN 0 1
`
	fn, err := New().Compile("dir.ska", strings.NewReader(listing))
	require.NoError(t, err)
	require.Len(t, fn.Protos, 2)

	double := fn.Protos[0]
	assert.Equal(t, "double", double.Name)
	assert.Equal(t, int64(1), double.Arity)
	assert.False(t, double.Varargs)
	assert.Equal(t, []code.UpIndex{{Name: "_ENV", FromStack: false, Index: 0}}, double.UpIndexes)

	spread := fn.Protos[1]
	assert.True(t, spread.Varargs)
	assert.Equal(t, []code.UpIndex{{Name: "x", FromStack: true, Index: 2}}, spread.UpIndexes)
}

func TestAssembler_CompileLiterals(t *testing.T) {
	t.Parallel()
	listing := `
.const nil
.const true
.const false
.const 42
.const -7
.const 0xff
.const 3.14
.const 1e3
.const "hello\nworld"
.const "keeps ; inside quotes" ; but cuts this
RETURN 0 1
`
	fn, err := New().Compile("lit.ska", strings.NewReader(listing))
	require.NoError(t, err)
	assert.Equal(t, []any{
		nil, true, false,
		int64(42), int64(-7), int64(255),
		float64(3.14), float64(1000),
		"hello\nworld",
		"keeps ; inside quotes",
	}, fn.Constants)
}

func TestAssembler_CompileOperands(t *testing.T) {
	t.Parallel()
	listing := `
.const 1
.const 2
ADD 0 0k 1k   ; constant-table operands
EQ 1 0k 1k
JMP 0 -2
LOADI 3 512
FORPREP 0 4
`
	fn, err := New().Compile("ops.ska", strings.NewReader(listing))
	require.NoError(t, err)
	require.Equal(t, []bytecode.Instruction{
		bytecode.IABCK(bytecode.ADD, 0, 0, true, 1, true),
		bytecode.IABCK(bytecode.EQ, 1, 0, true, 1, true),
		bytecode.IAsBx(bytecode.JMP, 0, -2),
		bytecode.IAsBx(bytecode.LOADI, 3, 512),
		bytecode.IAsBx(bytecode.FORPREP, 0, 4),
	}, fn.Code)
}

func TestAssembler_CompileErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		listing string
		errMsg  string
		line    int64
	}{
		{"unknown opcode", "FROB 0 1 2", "unknown opcode FROB", 1},
		{"unknown directive", ".fnord main", "unknown directive .fnord", 1},
		{"bad register", "MOVE 300 0", `bad register "300"`, 1},
		{"bad constant flag", "ADD 0 0q 1", `bad register "0q"`, 1},
		{"missing operand", "\nLOADK 0", "LOADK expects A and Bx operands", 2},
		{"too many operands", "MOVE 0 1 2 3", "MOVE expects A, B and C operands", 1},
		{"bad sbx", "JMP 0 99999", `bad sBx operand "99999"`, 1},
		{"bad literal", ".const @wat", "bad literal @wat", 1},
		{"bad string", `.const "unterminated`, `bad string literal "unterminated`, 1},
		{"empty const", ".const", ".const expects a literal", 1},
		{"bad param", ".param -1", `bad .param count "-1"`, 1},
		{"bad upval source", ".upval x global 0", `bad .upval source "global"`, 1},
		{"upval arity", ".upval x stack", ".upval expects name, stack|parent and an index", 1},
		{"stray end", "RETURN 0 1\n.end", ".end outside of a .fn block", 2},
		{"unclosed fn", ".fn inner\nRETURN 0 1", "1 unclosed .fn block(s)", 2},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New().Compile("bad.ska", strings.NewReader(tt.listing))
			require.Error(t, err)
			var lerr *lerrors.Error
			require.ErrorAs(t, err, &lerr)
			assert.Equal(t, lerrors.AsmErr, lerr.Kind)
			assert.Equal(t, "bad.ska", lerr.Filename)
			assert.Equal(t, tt.line, lerr.Line)
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestDisassemble_RoundTrip(t *testing.T) {
	t.Parallel()
	listing := `
.const "counter"
.const 0
.const 1.5
.const true
.fn step
.param 2
.upval _ENV parent 0
.const 1
ADD 2 0 1k
RETURN 2 2
.end
.fn gather
.vararg
.upval n stack 1
VARARG 0 0
RETURN 0 0
.end
CLOSURE 0 0
CLOSURE 1 1
LOADK 2 0
SETTABUP 0 2k 0
EQ 0 1 2k
JMP 0 -3
FORPREP 1 2
FORLOOP 1 -1
RETURN 0 1
`
	first, err := New().Compile("trip.ska", strings.NewReader(listing))
	require.NoError(t, err)

	dumped := Disassemble(first)
	second, err := New().Compile("trip.ska", strings.NewReader(dumped))
	require.NoError(t, err)

	if diff := cmp.Diff(first, second, ignoreLines); diff != "" {
		t.Errorf("round trip drifted (-first +second):\n%v", diff)
	}
}

func TestDisassemble_LiteralFidelity(t *testing.T) {
	t.Parallel()
	fn := code.New("lit.ska", "main", 0, true, code.LineInfo{})
	for _, kst := range []any{int64(5), float64(5), "5", float64(0.25), true, nil, "line\nbreak"} {
		_, err := fn.AddConst(kst)
		require.NoError(t, err)
	}
	fn.Emit(bytecode.IAB(bytecode.RETURN, 0, 1), code.LineInfo{Line: 1})

	redone, err := New().Compile("lit.ska", strings.NewReader(Disassemble(fn)))
	require.NoError(t, err)
	assert.Equal(t, fn.Constants, redone.Constants)
}
