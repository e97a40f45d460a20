package runtime

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/skein-lang/skein/src/code"
	"github.com/skein-lang/skein/src/lerrors"
)

type (
	// GoFunc is a native go callback usable by the vm. It is invoked
	// synchronously with the running thread and its argument window and is
	// expected to return exactly the results it produces.
	GoFunc struct {
		val  func(*Thread, []any) ([]any, error)
		name string
	}
	// Closure is a compiled prototype bound to the upvalues it captured.
	Closure struct {
		val      *code.Proto
		upvalues []*upvalueBroker
	}
	// Userdata is an opaque host value carried through the runtime. The Tag
	// identifies the host type for checked retrieval.
	Userdata struct {
		Value     any
		Tag       string
		metatable *Table
	}
)

func (fn *GoFunc) String() string {
	return fmt.Sprintf("function:[%s()]", fn.name)
}

func (fn *Closure) String() string {
	if fn.val.Name != "" {
		return fmt.Sprintf("function:[%s()]", fn.val.Name)
	}
	return fmt.Sprintf("function:[%p]", fn)
}

func (u *Userdata) String() string {
	return fmt.Sprintf("userdata:[%s %p]", u.Tag, u)
}

// Fn creates a value that is callable by the vm from a go function. This is
// how a host exposes native behaviour to guest code.
func Fn(name string, fn func(*Thread, []any) ([]any, error)) *GoFunc {
	return &GoFunc{
		name: name,
		val:  fn,
	}
}

func typeName(in any) string {
	switch in.(type) {
	case int64, float64:
		return "number"
	case string:
		return "string"
	case bool:
		return "boolean"
	case *Closure, *GoFunc:
		return "function"
	case *Table:
		return "table"
	case *Thread:
		return "thread"
	case *Userdata:
		return "userdata"
	case error:
		return "error"
	case nil:
		return "nil"
	default:
		return fmt.Sprintf("%T", in)
	}
}

// toBool is the only implicit conversion in the runtime: everything but nil
// and false is truthy.
func toBool(in any) bool {
	switch tin := in.(type) {
	case bool:
		return tin
	case nil:
		return false
	default:
		return true
	}
}

func isNumber(in any) bool {
	switch in.(type) {
	case int64, float64:
		return true
	default:
		return false
	}
}

func isString(in any) bool {
	_, ok := in.(string)
	return ok
}

func toFloat(val any) float64 {
	switch tval := val.(type) {
	case int64:
		return float64(tval)
	case float64:
		return tval
	default:
		return math.NaN()
	}
}

func toInt(val any) int64 {
	switch tval := val.(type) {
	case int64:
		return tval
	case float64:
		return int64(tval)
	default:
		return 0
	}
}

// toNumber converts a value to an int64 or float64 following the numeral
// grammar: optional sign, decimal or hex, with `.` or an exponent selecting
// float. It never coerces silently; failure is a ConversionErr.
func toNumber(in any) (any, error) {
	switch tin := in.(type) {
	case int64, float64:
		return in, nil
	case string:
		if num, ok := parseNumber(tin); ok {
			return num, nil
		}
		return nil, conversionErr("number", in)
	default:
		return nil, conversionErr("number", in)
	}
}

// toInteger converts to int64, failing on floats with a fractional part and
// strings that do not spell an integral number.
func toInteger(in any) (int64, error) {
	switch tin := in.(type) {
	case int64:
		return tin, nil
	case float64:
		if ival := int64(tin); float64(ival) == tin {
			return ival, nil
		}
		return 0, &lerrors.Error{
			Kind: lerrors.ConversionErr,
			Err:  errors.New("number has no integer representation"),
		}
	case string:
		num, ok := parseNumber(tin)
		if !ok {
			return 0, conversionErr("integer", in)
		}
		return toInteger(num)
	default:
		return 0, conversionErr("integer", in)
	}
}

// parseNumber implements the numeral-literal grammar shared by the assembler
// and tonumber: [+-] (0x hex [. p-exp] | digits [. e-exp]).
func parseNumber(str string) (any, bool) {
	str = strings.TrimSpace(str)
	if str == "" {
		return nil, false
	}
	body := strings.TrimPrefix(strings.TrimPrefix(str, "-"), "+")
	if strings.HasPrefix(body, "0x") || strings.HasPrefix(body, "0X") {
		if strings.ContainsAny(body, ".pP") {
			fval, err := strconv.ParseFloat(str, 64)
			if err != nil {
				return nil, false
			}
			return fval, true
		}
		ival, err := strconv.ParseUint(body[2:], 16, 64)
		if err != nil {
			return nil, false
		}
		if strings.HasPrefix(str, "-") {
			return -int64(ival), true
		}
		return int64(ival), true
	}
	if strings.ContainsAny(body, ".eE") {
		fval, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return nil, false
		}
		return fval, true
	}
	ival, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		// integral literals too large for int64 degrade to float
		fval, ferr := strconv.ParseFloat(str, 64)
		if ferr != nil {
			return nil, false
		}
		return fval, true
	}
	return ival, true
}

// ToString formats a runtime value to a printable string without consulting
// metamethods; Thread.tostring layers __tostring on top of this.
func ToString(val any) string {
	switch tin := val.(type) {
	case nil:
		return "nil"
	case string:
		return tin
	case bool:
		return strconv.FormatBool(tin)
	case int64:
		return strconv.FormatInt(tin, 10)
	case float64:
		return strconv.FormatFloat(tin, 'g', -1, 64)
	case *Table:
		return fmt.Sprintf("table: %p", tin)
	case error:
		return tin.Error()
	case fmt.Stringer:
		return tin.String()
	default:
		return fmt.Sprintf("unknown value type: %v", val)
	}
}

func conversionErr(target string, val any) error {
	return &lerrors.Error{
		Kind: lerrors.ConversionErr,
		Err:  fmt.Errorf("cannot convert %v to %v", typeName(val), target),
	}
}

func arith(t *Thread, op Event, lval, rval any) (any, error) {
	switch op {
	case MetaUNM:
		if lint, isInt := lval.(int64); isInt {
			return -lint, nil
		} else if isNumber(lval) {
			return -toFloat(lval), nil
		}
	case MetaBNot:
		if isNumber(lval) {
			ival, err := toInteger(lval)
			if err != nil {
				return nil, err
			}
			return ^ival, nil
		}
	default:
		if isNumber(lval) && isNumber(rval) {
			return numericArith(op, lval, rval)
		}
	}
	didDelegate, res, err := t.delegateBinop(op, lval, rval)
	if err != nil {
		return nil, err
	} else if !didDelegate {
		if op == MetaUNM || op == MetaBNot {
			return nil, fmt.Errorf("cannot %v a %v value", op, typeName(lval))
		}
		return nil, fmt.Errorf("cannot %v %v with %v", op, typeName(lval), typeName(rval))
	} else if len(res) > 0 {
		return res[0], nil
	}
	return nil, nil
}

func numericArith(op Event, lval, rval any) (any, error) {
	switch op {
	case MetaBAnd, MetaBOr, MetaBXOr, MetaShl, MetaShr:
		lint, err := toInteger(lval)
		if err != nil {
			return nil, err
		}
		rint, err := toInteger(rval)
		if err != nil {
			return nil, err
		}
		return intArith(op, lint, rint), nil
	case MetaDiv, MetaPow:
		return floatArith(op, toFloat(lval), toFloat(rval)), nil
	default:
		lint, lisInt := lval.(int64)
		rint, risInt := rval.(int64)
		if lisInt && risInt {
			if (op == MetaMod || op == MetaIDiv) && rint == 0 {
				return nil, errors.New("attempt to perform 'n//0'")
			}
			return intArith(op, lint, rint), nil
		}
		return floatArith(op, toFloat(lval), toFloat(rval)), nil
	}
}

func intArith(op Event, lval, rval int64) int64 {
	switch op {
	case MetaAdd:
		return lval + rval
	case MetaSub:
		return lval - rval
	case MetaMul:
		return lval * rval
	case MetaIDiv:
		quo := lval / rval
		if lval%rval != 0 && (lval < 0) != (rval < 0) {
			quo--
		}
		return quo
	case MetaMod:
		rem := lval % rval
		if rem != 0 && (rem < 0) != (rval < 0) {
			rem += rval
		}
		return rem
	case MetaUNM:
		return -lval
	case MetaBAnd:
		return lval & rval
	case MetaBOr:
		return lval | rval
	case MetaBXOr:
		return lval ^ rval
	case MetaShl:
		if rval >= 0 {
			return lval << rval
		}
		return int64(uint64(lval) >> -rval)
	case MetaShr:
		if rval >= 0 {
			return int64(uint64(lval) >> rval)
		}
		return lval << -rval
	case MetaBNot:
		return ^lval
	default:
		panic(fmt.Sprintf("cannot perform int %v op", op))
	}
}

func floatArith(op Event, lval, rval float64) float64 {
	switch op {
	case MetaAdd:
		return lval + rval
	case MetaSub:
		return lval - rval
	case MetaMul:
		return lval * rval
	case MetaDiv:
		return lval / rval
	case MetaPow:
		return math.Pow(lval, rval)
	case MetaIDiv:
		return math.Floor(lval / rval)
	case MetaUNM:
		return -lval
	case MetaMod:
		rem := math.Mod(lval, rval)
		if rem != 0 && (rem < 0) != (rval < 0) {
			rem += rval
		}
		return rem
	default:
		panic(fmt.Sprintf("cannot perform float %v op", op))
	}
}

// eq compares by value for nil/boolean/number/string and by identity for
// everything else, falling back to the __eq event for two tables or userdata.
func eq(t *Thread, lVal, rVal any) (bool, error) {
	if typeName(lVal) != typeName(rVal) {
		return false, nil
	}
	switch tlval := lVal.(type) {
	case nil:
		return true, nil
	case string:
		return tlval == rVal.(string), nil
	case int64, float64:
		return toFloat(lVal) == toFloat(rVal), nil
	case bool:
		return tlval == rVal.(bool), nil
	case *Closure:
		// closures compare by identity: sharing a prototype does not make
		// two closures equal.
		return tlval == rVal.(*Closure), nil
	case *Table, *Userdata:
		if lVal == rVal {
			return true, nil
		}
		didDelegate, res, err := t.delegateBinop(MetaEq, lVal, rVal)
		if err != nil {
			return false, err
		} else if didDelegate && len(res) > 0 {
			return toBool(res[0]), nil
		}
		return false, nil
	default:
		return lVal == rVal, nil
	}
}

// compareVal orders numbers and strings natively; anything else is defined
// only via the comparison events.
func compareVal(t *Thread, op Event, lVal, rVal any) (int, error) {
	if isNumber(lVal) && isNumber(rVal) {
		vA, vB := toFloat(lVal), toFloat(rVal)
		switch {
		case vA < vB:
			return -1, nil
		case vA > vB:
			return 1, nil
		default:
			return 0, nil
		}
	} else if isString(lVal) && isString(rVal) {
		return strings.Compare(lVal.(string), rVal.(string)), nil
	}
	didDelegate, res, err := t.delegateBinop(op, lVal, rVal)
	if err != nil {
		return 0, err
	} else if !didDelegate {
		return 0, fmt.Errorf("cannot compare %v with %v", typeName(lVal), typeName(rVal))
	} else if len(res) > 0 {
		if toBool(res[0]) {
			return -1, nil
		}
		return 1, nil
	}
	return 0, fmt.Errorf("cannot compare %v with %v", typeName(lVal), typeName(rVal))
}
