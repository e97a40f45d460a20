package runtime

import (
	"errors"
	"fmt"

	"github.com/skein-lang/skein/src/bytecode"
	"github.com/skein-lang/skein/src/code"
)

var arithEvents = map[bytecode.Op]Event{
	bytecode.ADD:  MetaAdd,
	bytecode.SUB:  MetaSub,
	bytecode.MUL:  MetaMul,
	bytecode.MOD:  MetaMod,
	bytecode.POW:  MetaPow,
	bytecode.DIV:  MetaDiv,
	bytecode.IDIV: MetaIDiv,
	bytecode.BAND: MetaBAnd,
	bytecode.BOR:  MetaBOr,
	bytecode.BXOR: MetaBXOr,
	bytecode.SHL:  MetaShl,
	bytecode.SHR:  MetaShr,
	bytecode.UNM:  MetaUNM,
	bytecode.BNOT: MetaBNot,
}

var forNumNames = []string{"initial", "limit", "step"}

// eval drives the instruction loop for a chain of activation frames. Nested
// closure calls push frames onto the chain without recursing in Go; only
// native callbacks that call back into guest code re-enter eval.
//
// An error unwinds the whole chain before it is returned: every abandoned
// frame is cleaned up and the stack drops back to the chain's base, so a
// protected boundary catches the error with no activation state left behind.
// Interrupts skip the unwind: a yield keeps its frames live for resume, and
// an exit already unwound in execCall.
func (t *Thread) eval(f *frame) (res []any, err error) {
	defer func() {
		if err == nil {
			return
		}
		var intr *Interrupt
		if errors.As(err, &intr) {
			return
		}
		base := int64(-1)
		for f != nil {
			base = f.framePointer
			t.cleanup(f)
			f = f.prev
		}
		if base >= 0 {
			_ = t.stack.setRawTop(base - 1)
		}
	}()
	for {
		if err := t.state.ctx.Err(); err != nil {
			return nil, errors.New("execution interrupted")
		}
		if f.pc >= int64(len(f.fn.Code)) {
			return nil, nil
		}

		var err error
		in := f.fn.Code[f.pc]
		li := f.fn.LineAt(f.pc)
		op := in.Op()
		switch op {
		case bytecode.MOVE:
			err = t.setReg(f, in.A(), t.get(f, in.B(), false))
		case bytecode.LOADK:
			err = t.setReg(f, in.A(), f.fn.GetConst(in.Bx()))
		case bytecode.LOADBOOL:
			err = t.setReg(f, in.A(), in.B() == 1)
			if in.C() != 0 {
				f.pc++
			}
		case bytecode.LOADI:
			err = t.setReg(f, in.A(), in.SBx())
		case bytecode.LOADF:
			err = t.setReg(f, in.A(), float64(in.SBx()))
		case bytecode.LOADNIL:
			a, b := in.A(), in.Bx()
			for i := a; i <= a+b; i++ {
				if err := t.setReg(f, i, nil); err != nil {
					return nil, newRuntimeErr(t, li, err)
				}
			}
		case bytecode.NEWTABLE:
			t.state.collector.Allocate(KindTable)
			err = t.setReg(f, in.A(), newSizedTable(int(in.B()), int(in.C())))
		case bytecode.ADD, bytecode.SUB, bytecode.MUL, bytecode.MOD, bytecode.POW,
			bytecode.DIV, bytecode.IDIV, bytecode.BAND, bytecode.BOR, bytecode.BXOR,
			bytecode.SHL, bytecode.SHR, bytecode.UNM, bytecode.BNOT:
			b, bK := in.BK()
			c, cK := in.CK()
			val, aerr := arith(t, arithEvents[op], t.get(f, b, bK), t.get(f, c, cK))
			if aerr != nil {
				return nil, newRuntimeErr(t, li, aerr)
			}
			err = t.setReg(f, in.A(), val)
		case bytecode.NOT:
			b, bK := in.BK()
			err = t.setReg(f, in.A(), !toBool(t.get(f, b, bK)))
		case bytecode.CONCAT:
			b, c := in.B(), in.C()
			if c < b {
				c = b + 1
			}
			result := t.get(f, b, false)
			for i := b + 1; i <= c; i++ {
				next := t.get(f, i, false)
				resCoercible := isString(result) || isNumber(result)
				nextCoercible := isString(next) || isNumber(next)
				if resCoercible && nextCoercible {
					result = ToString(result) + ToString(next)
				} else if didDelegate, res, derr := t.delegateBinop(MetaConcat, result, next); derr != nil {
					return nil, newRuntimeErr(t, li, derr)
				} else if didDelegate && len(res) > 0 {
					result = res[0]
				} else {
					return nil, newRuntimeErr(t, li, fmt.Errorf("attempt to concatenate a %v value", typeName(next)))
				}
			}
			err = t.setReg(f, in.A(), result)
		case bytecode.JMP:
			if from := in.A() - 1; from >= 0 {
				t.closeRange(f, from)
			}
			f.pc += in.SBx()
		case bytecode.CLOSE:
			t.closeRange(f, in.A())
		case bytecode.EQ:
			expected := in.A() != 0
			b, bK := in.BK()
			c, cK := in.CK()
			isEq, eqErr := eq(t, t.get(f, b, bK), t.get(f, c, cK))
			if eqErr != nil {
				return nil, newRuntimeErr(t, li, eqErr)
			}
			if isEq != expected {
				f.pc++
			}
		case bytecode.LT, bytecode.LE:
			expected := in.A() != 0
			event := MetaLt
			if op == bytecode.LE {
				event = MetaLe
			}
			b, bK := in.BK()
			c, cK := in.CK()
			res, cmpErr := compareVal(t, event, t.get(f, b, bK), t.get(f, c, cK))
			if cmpErr != nil {
				return nil, newRuntimeErr(t, li, cmpErr)
			}
			isMatch := res < 0
			if op == bytecode.LE {
				isMatch = res <= 0
			}
			if isMatch != expected {
				f.pc++
			}
		case bytecode.TEST:
			expected := in.B() != 0
			if toBool(t.get(f, in.A(), false)) != expected {
				f.pc++
			}
		case bytecode.LEN:
			b, bK := in.BK()
			val := t.get(f, b, bK)
			switch tval := val.(type) {
			case string:
				err = t.setReg(f, in.A(), int64(len(tval)))
			case *Table:
				if method := findMetavalue(t, MetaLen, tval); method != nil {
					res, lerr := t.call(method, []any{tval})
					if lerr != nil {
						return nil, newRuntimeErr(t, li, lerr)
					}
					var out any
					if len(res) > 0 {
						out = res[0]
					}
					err = t.setReg(f, in.A(), out)
				} else {
					err = t.setReg(f, in.A(), tval.Len())
				}
			default:
				return nil, newRuntimeErr(t, li, fmt.Errorf("attempt to get length of a %v value", typeName(val)))
			}
		case bytecode.GETTABLE:
			keyIdx, keyK := in.CK()
			val, gerr := t.index(t.get(f, in.B(), false), nil, t.get(f, keyIdx, keyK))
			if gerr != nil {
				return nil, newRuntimeErr(t, li, gerr)
			}
			err = t.setReg(f, in.A(), val)
		case bytecode.SETTABLE:
			keyIdx, keyK := in.BK()
			valueIdx, valueK := in.CK()
			err = t.newIndex(
				t.get(f, in.A(), false),
				t.get(f, keyIdx, keyK),
				t.get(f, valueIdx, valueK),
			)
		case bytecode.GETUPVAL:
			err = t.setReg(f, in.A(), f.upvals[in.B()].Get())
		case bytecode.SETUPVAL:
			f.upvals[in.B()].Set(t.get(f, in.A(), false))
		case bytecode.GETTABUP:
			keyIdx, keyK := in.CK()
			val, gerr := t.index(f.upvals[in.B()].Get(), nil, t.get(f, keyIdx, keyK))
			if gerr != nil {
				return nil, newRuntimeErr(t, li, gerr)
			}
			err = t.setReg(f, in.A(), val)
		case bytecode.SETTABUP:
			keyIdx, keyK := in.BK()
			valueIdx, valueK := in.CK()
			err = t.newIndex(
				f.upvals[in.A()].Get(),
				t.get(f, keyIdx, keyK),
				t.get(f, valueIdx, valueK),
			)
		case bytecode.SELF:
			tbl := t.get(f, in.B(), false)
			keyIdx, keyK := in.CK()
			fn, gerr := t.index(tbl, nil, t.get(f, keyIdx, keyK))
			if gerr != nil {
				return nil, newRuntimeErr(t, li, gerr)
			}
			if err = t.setReg(f, in.A(), fn); err == nil {
				err = t.setReg(f, in.A()+1, tbl)
			}
		case bytecode.CALL, bytecode.TAILCALL:
			var retVals []any
			retVals, f, err = t.execCall(f, in, li)
			if err != nil {
				return nil, err
			}
			if f == nil {
				// a native tail call from the chain's root frame finishes
				// the chain the way RETURN does.
				return retVals, nil
			}
		case bytecode.RETURN:
			retVals, done, rerr := t.execReturn(f, in)
			if done || rerr != nil {
				return retVals, rerr
			}
			f = f.prev
		case bytecode.VARARG:
			if err = t.stack.setRawTop(f.framePointer + in.A()); err == nil {
				_, err = t.stack.Push(ensureLenNil(f.xargs, int(in.B()-1))...)
			}
		case bytecode.CLOSURE:
			cls := f.fn.Protos[in.Bx()]
			closureUpvals := make([]*upvalueBroker, len(cls.UpIndexes))
			for i, idx := range cls.UpIndexes {
				if idx.FromStack {
					if j, ok := search(f.openBrokers, uint64(f.framePointer)+uint64(idx.Index), findBroker); ok {
						closureUpvals[i] = f.openBrokers[j]
					} else {
						newBroker := t.newUpValueBroker(
							idx.Name,
							t.get(f, int64(idx.Index), false),
							uint64(f.framePointer)+uint64(idx.Index),
						)
						f.openBrokers = append(f.openBrokers, newBroker)
						closureUpvals[i] = newBroker
					}
				} else {
					closureUpvals[i] = f.upvals[idx.Index]
				}
			}
			t.state.collector.Allocate(KindClosure)
			err = t.setReg(f, in.A(), &Closure{val: cls, upvalues: closureUpvals})
		case bytecode.FORPREP:
			if err := t.execForPrep(f, in); err != nil {
				return nil, newRuntimeErr(t, li, err)
			}
			f.pc += in.SBx()
		case bytecode.FORLOOP:
			jump, ferr := t.execForLoop(f, in)
			if ferr != nil {
				return nil, newRuntimeErr(t, li, ferr)
			}
			if jump {
				f.pc += in.SBx()
			}
		default:
			return nil, newRuntimeErr(t, li, fmt.Errorf("unknown opcode %v", op))
		}
		if err != nil {
			return nil, newRuntimeErr(t, li, err)
		}
		f.pc++
	}
}

// execCall handles CALL and TAILCALL. A tail call first dismantles the
// current frame and slides the callee's window down into it, so self
// recursive tail loops run in constant activation depth. Returns the frame
// the loop should continue with; a nil frame with results means a native
// tail call from the chain's root frame completed the chain.
func (t *Thread) execCall(f *frame, in bytecode.Instruction, li code.LineInfo) ([]any, *frame, error) {
	ifn := f.framePointer + in.A()
	nargs := in.B() - 1
	nret := in.C() - 1
	fnVal := t.get(f, in.A(), false)

	if in.Op() == bytecode.TAILCALL {
		t.cleanup(f)
		copy(t.stack.slots[f.framePointer-1:], t.stack.slots[ifn:t.stack.RawTop()])
		if err := t.stack.setRawTop(t.stack.RawTop() - (ifn - f.framePointer + 1)); err != nil {
			return nil, nil, newRuntimeErr(t, li, err)
		}
		ifn = f.framePointer - 1
		f = f.prev
	}

	// a table with a __call handler is callable; the handler may itself be a
	// table, so resolution loops.
	for {
		switch fnVal.(type) {
		case *Closure, *GoFunc:
		case *Table, *Userdata:
			fnVal = findMetavalue(t, MetaCall, fnVal)
			continue
		default:
			return nil, nil, newRuntimeErr(t, li, fmt.Errorf("expected callable but found %v", typeName(fnVal)))
		}
		break
	}

	switch tfn := fnVal.(type) {
	case *Closure:
		if err := t.pushCallstack(tfn.val); err != nil {
			return nil, nil, newRuntimeErr(t, li, err)
		}
		// extra args end at the call's declared window, not the raw top:
		// registers left above the window by earlier instructions are not
		// arguments.
		argTop := t.stack.RawTop()
		if nargs >= 0 && ifn+1+nargs < argTop {
			argTop = ifn + 1 + nargs
		}
		var xargs []any
		if ifn+1+tfn.val.Arity < argTop {
			xargs = make([]any, argTop-(ifn+1+tfn.val.Arity))
			copy(xargs, t.stack.slots[ifn+1+tfn.val.Arity:argTop])
		}
		newFrame := &frame{
			prev:         f,
			fn:           tfn.val,
			framePointer: ifn + 1,
			pc:           -1, // incremented to 0 at the end of this instruction
			xargs:        xargs,
			upvals:       tfn.upvalues,
		}
		if nargs >= 0 && nargs < tfn.val.Arity {
			for i := nargs; i < tfn.val.Arity; i++ {
				if err := t.setReg(newFrame, i, nil); err != nil {
					t.popCallstack()
					return nil, nil, newRuntimeErr(t, li, err)
				}
			}
		}
		return nil, newFrame, nil
	case *GoFunc:
		if err := t.pushNativeCall(tfn.name); err != nil {
			return nil, nil, newRuntimeErr(t, li, err)
		}
		retVals, err := tfn.val(t, t.argsFromStack(ifn+1, nargs))
		if err != nil {
			var intr *Interrupt
			if !errors.As(err, &intr) {
				t.popCallstack()
				return nil, nil, newRuntimeErr(t, li, err)
			}
			switch intr.kind {
			case InterruptYield:
				if !t.yieldable {
					t.popCallstack()
					return nil, nil, newRuntimeErr(t, li, yieldErr("attempt to yield from outside a coroutine"))
				}
				t.popCallstack()
				if f != nil {
					f.pc++
				}
				t.yield = &yieldPoint{f: f, retBase: ifn, nret: nret, values: retVals}
				return nil, nil, intr
			case InterruptExit:
				t.popCallstack()
				t.unwind(f)
				return nil, nil, intr
			}
		}
		t.popCallstack()
		if err := t.stack.setRawTop(ifn); err != nil {
			return nil, nil, newRuntimeErr(t, li, err)
		}
		if nret >= 0 {
			retVals = ensureLenNil(retVals, int(nret))
		}
		if f == nil {
			// the tail-calling frame was the chain's root; the native
			// results are the chain's results.
			return retVals, nil, nil
		}
		if _, err := t.stack.Push(retVals...); err != nil {
			return nil, nil, newRuntimeErr(t, li, err)
		}
		return nil, f, nil
	default:
		return nil, nil, newRuntimeErr(t, li, fmt.Errorf("expected callable but found %v", typeName(fnVal)))
	}
}

// execReturn copies the result window down to the caller and pops the frame.
// done reports that this was the chain's root frame and eval should return
// the values to the native caller.
func (t *Thread) execReturn(f *frame, in bytecode.Instruction) ([]any, bool, error) {
	addr := f.framePointer + in.A()
	nret := in.B() - 1
	if nret == -1 {
		nret = t.stack.RawTop() - addr
	}
	if err := t.stack.ensureSize(addr + nret); err != nil {
		return nil, false, err
	}
	t.cleanup(f)
	if f.prev == nil {
		retVals := make([]any, nret)
		copy(retVals, t.stack.slots[addr:addr+nret])
		_ = t.stack.setRawTop(f.framePointer - 1)
		return retVals, true, nil
	}

	copy(t.stack.slots[f.framePointer-1:], t.stack.slots[addr:addr+nret])
	if err := t.stack.setRawTop(f.framePointer - 1 + nret); err != nil {
		return nil, false, err
	}
	return nil, false, nil
}

func (t *Thread) execForPrep(f *frame, in bytecode.Instruction) error {
	ivar := in.A()
	hasFloat := false
	for i := ivar; i < ivar+3; i++ {
		switch t.get(f, i, false).(type) {
		case int64:
		case float64:
			hasFloat = true
		default:
			return fmt.Errorf("non-numeric for loop %v value", forNumNames[i-ivar])
		}
	}
	if hasFloat {
		for i := ivar; i < ivar+3; i++ {
			if _, isInt := t.get(f, i, false).(int64); isInt {
				if err := t.setReg(f, i, toFloat(t.get(f, i, false))); err != nil {
					return err
				}
			}
		}
	}
	if toFloat(t.get(f, ivar+2, false)) == 0 {
		return errors.New("0 step in numerical for")
	}
	// back the control variable off one step so the first FORLOOP lands on
	// the initial value.
	if ival, isInt := t.get(f, ivar, false).(int64); isInt {
		return t.setReg(f, ivar, ival-t.get(f, ivar+2, false).(int64))
	}
	return t.setReg(f, ivar, t.get(f, ivar, false).(float64)-t.get(f, ivar+2, false).(float64))
}

func (t *Thread) execForLoop(f *frame, in bytecode.Instruction) (bool, error) {
	ivar := in.A()
	i := t.get(f, ivar, false)
	limit := t.get(f, ivar+1, false)
	step := t.get(f, ivar+2, false)
	var err error
	if ival, isInt := i.(int64); isInt {
		err = t.setReg(f, ivar, ival+step.(int64))
	} else {
		err = t.setReg(f, ivar, i.(float64)+step.(float64))
	}
	if err != nil {
		return false, err
	}
	i = t.get(f, ivar, false)
	return (toFloat(step) > 0 && toFloat(i) <= toFloat(limit)) ||
		(toFloat(step) < 0 && toFloat(i) >= toFloat(limit)), nil
}

// unwind closes out the remaining frame chain after an exit interrupt.
func (t *Thread) unwind(f *frame) {
	for f != nil {
		t.cleanup(f)
		f = f.prev
	}
	_ = t.stack.setRawTop(0)
}

func (t *Thread) get(f *frame, id int64, isConst bool) any {
	if isConst {
		return f.fn.GetConst(id)
	}
	return t.stack.Get(f.framePointer + id)
}

func (t *Thread) setReg(f *frame, reg int64, val any) error {
	return t.stack.Set(f.framePointer+reg, val)
}

func ensureLenNil(values []any, want int) []any {
	if want < 0 {
		return values
	} else if len(values) > want {
		values = values[:want:want]
	} else if len(values) < want {
		for n := want - len(values); n > 0; n-- {
			values = append(values, nil)
		}
	}
	return values
}

// ensures that we can safely use an index if required.
func ensureSize[T any](slice *[]T, index int) {
	if index < len(*slice) {
		return
	}
	newSlice := make([]T, index+1)
	copy(newSlice, *slice)
	*slice = newSlice
}

// this is good for slices of non-simple datatypes.
func search[S ~[]E, E, T any](x S, target T, cmp func(E, T) bool) (int, bool) {
	for i := range x {
		if cmp(x[i], target) {
			return i, true
		}
	}
	return -1, false
}

func findBroker(b *upvalueBroker, idx uint64) bool { return idx == b.index }
