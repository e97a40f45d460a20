// Package code describes compiled function prototypes: the unit of executable
// code the runtime evaluates. Prototypes are produced outside the core by a
// Compiler implementation; the runtime only ever consumes them.
package code

import (
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/pkg/errors"
	"github.com/skein-lang/skein/src/bytecode"
	"github.com/skein-lang/skein/src/conf"
)

type (
	// LineInfo is a shared struct that is used for tracking where behaviour
	// originated from in a source listing.
	LineInfo struct {
		Line   int64
		Column int64
	}
	// UpIndex describes where a closure finds one of its upvalues: either on
	// the enclosing frame's stack or in the enclosing closure's own upvalues.
	UpIndex struct {
		Name      string
		FromStack bool
		Index     uint8
	}
	// Proto is a function prototype: constants, instructions, upvalue
	// descriptors and nested prototypes. It is immutable once handed to the
	// runtime; every Closure over it shares one Proto.
	Proto struct {
		Name      string
		Filename  string
		Constants []any
		UpIndexes []UpIndex
		Code      []bytecode.Instruction
		Protos    []*Proto
		LineTrace []LineInfo

		LineInfo
		Arity   int64
		Varargs bool
	}
	// Compiler is the seam to whatever produces prototypes from text. The
	// runtime core never parses source itself; hosts plug in an
	// implementation (the in-repo assembler, or a real language frontend).
	Compiler interface {
		Compile(name string, src io.Reader) (*Proto, error)
	}
)

const protoTemplate = `{{.Name}} <{{.Filename}}:{{.Line}}> ({{.Code | len}} instructions)
{{.Arity}}{{if .Varargs}}+{{end}} params, {{.UpIndexes | len}} upvalues, {{.Constants | len}} constants, {{.Protos | len}} functions
{{- range $i, $code := .Code}}
	{{$i}}	[{{with $li := lineAt $ $i}}{{$li.Line}}{{end}}]	{{$code}}
{{- end}}
{{range .Protos}}
{{. -}}
{{end}}`

// New creates an empty prototype for a compiler to fill in.
func New(filename, name string, arity int64, varargs bool, linfo LineInfo) *Proto {
	return &Proto{
		Filename: filename,
		Name:     name,
		Arity:    arity,
		Varargs:  varargs,
		LineInfo: linfo,
	}
}

// AddConst stores a constant, deduplicating repeats, and returns its index.
func (fn *Proto) AddConst(val any) (uint16, error) {
	for i, existing := range fn.Constants {
		if existing == val {
			return uint16(i), nil
		}
	}
	if len(fn.Constants) >= conf.MAXCONST {
		return 0, errors.Errorf("too many constants in %v, max %v", fn.Name, conf.MAXCONST)
	}
	fn.Constants = append(fn.Constants, val)
	return uint16(len(fn.Constants) - 1), nil
}

// GetConst loads a constant, returning nil for an out of range index rather
// than faulting; the vm treats nil constants as a normal value.
func (fn *Proto) GetConst(idx int64) any {
	if idx < 0 || idx >= int64(len(fn.Constants)) {
		return nil
	}
	return fn.Constants[idx]
}

// AddProto registers a nested prototype and returns its index for CLOSURE.
func (fn *Proto) AddProto(nested *Proto) uint16 {
	fn.Protos = append(fn.Protos, nested)
	return uint16(len(fn.Protos) - 1)
}

// Emit appends an instruction along with the listing line it came from.
func (fn *Proto) Emit(in bytecode.Instruction, li LineInfo) {
	fn.Code = append(fn.Code, in)
	fn.LineTrace = append(fn.LineTrace, li)
}

// LineAt returns the listing position of the instruction at pc, or a zero
// LineInfo when the compiler supplied no trace.
func (fn *Proto) LineAt(pc int64) LineInfo {
	if pc >= 0 && pc < int64(len(fn.LineTrace)) {
		return fn.LineTrace[pc]
	}
	return LineInfo{}
}

func (fn *Proto) String() string {
	tmpl := template.Must(template.New("proto").
		Funcs(template.FuncMap{
			"lineAt": func(p *Proto, i int) LineInfo { return p.LineAt(int64(i)) },
		}).
		Parse(protoTemplate))
	var out strings.Builder
	if err := tmpl.Execute(&out, fn); err != nil {
		return fmt.Sprintf("bad prototype %v: %v", fn.Name, err)
	}
	return out.String()
}
