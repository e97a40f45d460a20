package runtime

import (
	"errors"
	"fmt"
	"io"
	"os"
	gruntime "runtime"
	"strconv"
	"strings"

	"github.com/skein-lang/skein/src/conf"
)

func createBaseEnv(s *State) *Table {
	env := &Table{
		hashtable: map[any]any{
			"HOST_OS":        gruntime.GOOS,
			"HOST_ARCH":      gruntime.GOARCH,
			"_VERSION":       conf.VERSION,
			"assert":         Fn("assert", stdAssert),
			"collectgarbage": Fn("collectgarbage", stdCollectgarbage),
			"error":          Fn("error", stdError),
			"exit":           Fn("exit", stdExit),
			"getmetatable":   Fn("getmetatable", stdGetMetatable),
			"ipairs":         Fn("ipairs", stdIPairs),
			"next":           Fn("next", stdNext),
			"pairs":          Fn("pairs", stdPairs),
			"pcall":          Fn("pcall", stdPCall),
			"print":          Fn("print", stdPrint),
			"rawequal":       Fn("rawequal", stdRawEq),
			"rawget":         Fn("rawget", stdRawGet),
			"rawlen":         Fn("rawlen", stdRawLen),
			"rawset":         Fn("rawset", stdRawSet),
			"select":         Fn("select", stdSelect),
			"setmetatable":   Fn("setmetatable", stdSetMetatable),
			"tonumber":       Fn("tonumber", stdToNumber),
			"tostring":       Fn("tostring", stdToString),
			"type":           Fn("type", stdType),
			"xpcall":         Fn("xpcall", stdXPCall),
			"coroutine":      createCoroutineLib(s),
		},
	}
	return env
}

func stdCollectgarbage(t *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "collectgarbage", "~string"); err != nil {
		return nil, err
	}
	mode := "collect"
	if len(args) > 0 {
		mode = args[0].(string)
	}
	counter, isCounting := t.state.collector.(*countingCollector)
	switch mode {
	case "collect", "step":
		gruntime.GC()
	case "stop":
		if isCounting {
			counter.paused = true
		}
	case "restart":
		if isCounting {
			counter.paused = false
		}
	case "count":
		var m gruntime.MemStats
		gruntime.ReadMemStats(&m)
		return []any{int64(m.TotalAlloc / 1024)}, nil
	case "isrunning":
		return []any{!isCounting || !counter.paused}, nil
	case "incremental", "generational":
	}
	return []any{}, nil
}

func stdprintaux(t *Thread, args []any, out io.Writer, split string) ([]any, error) {
	strParts := make([]string, len(args))
	for i, arg := range args {
		str, err := t.tostring(arg)
		if err != nil {
			return nil, err
		}
		strParts[i] = str
	}
	_, err := fmt.Fprintln(out, strings.Join(strParts, split))
	return nil, err
}

func stdPrint(t *Thread, args []any) ([]any, error) {
	return stdprintaux(t, args, os.Stdout, "\t")
}

func stdAssert(t *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "assert", "value", "~value"); err != nil {
		return nil, err
	} else if toBool(args[0]) {
		return args, nil
	} else if len(args) > 1 {
		return nil, newUserErr(t, 1, args[1])
	}
	return nil, newUserErr(t, 1, "assertion failed")
}

func stdToString(t *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "tostring", "value"); err != nil {
		return nil, err
	}
	str, err := t.tostring(args[0])
	if err != nil {
		return nil, err
	}
	return []any{str}, nil
}

func stdToNumber(_ *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "tonumber", "value", "~number"); err != nil {
		return nil, err
	}
	if len(args) > 1 {
		base, err := toInteger(args[1])
		if err != nil {
			return nil, argumentErr(2, "tonumber", errors.New("number has no integer representation"))
		}
		str, isStr := args[0].(string)
		if !isStr {
			return nil, argumentErr(1, "tonumber", fmt.Errorf("string expected, got %v", typeName(args[0])))
		}
		parsed, perr := strconv.ParseInt(strings.TrimSpace(str), int(base), 64)
		if perr != nil {
			return []any{nil}, nil
		}
		return []any{parsed}, nil
	}
	num, err := toNumber(args[0])
	if err != nil {
		return []any{nil}, nil
	}
	return []any{num}, nil
}

func stdType(_ *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "type", "value"); err != nil {
		return nil, err
	}
	return []any{typeName(args[0])}, nil
}

func stdNext(t *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "next", "table", "~value"); err != nil {
		return nil, err
	}

	table := args[0].(*Table)
	keys := table.Keys()
	if len(table.val) > 0 {
		allKeys := make([]any, 0, len(table.val)+len(keys))
		for i := range table.val {
			allKeys = append(allKeys, int64(i+1))
		}
		keys = append(allKeys, keys...)
	}
	if len(keys) == 0 {
		return []any{nil}, nil
	}

	var toFind any
	if len(args) > 1 {
		toFind = args[1]
	}
	if toFind == nil {
		key := keys[0]
		val, _ := t.index(table, nil, key)
		return []any{key, val}, nil
	}
	for i, key := range keys {
		if key == normalizeKey(toFind) {
			if i < len(keys)-1 {
				tkey := keys[i+1]
				val, _ := t.index(table, nil, tkey)
				return []any{tkey, val}, nil
			}
			break
		}
	}
	return []any{nil}, nil
}

func stdPairs(t *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "pairs", "table"); err != nil {
		return nil, err
	}
	if method := findMetavalue(t, MetaPairs, args[0]); method != nil {
		res, err := t.call(method, []any{args[0]})
		if err != nil {
			return nil, err
		} else if len(res) < 3 {
			return nil, errors.New("not enough return values from __pairs metamethod")
		}
		return res, nil
	}
	return []any{Fn("pairs.next", stdNext), args[0], nil}, nil
}

func stdIPairsIterator(t *Thread, args []any) ([]any, error) {
	table := args[0].(*Table)
	i := args[1].(int64) + 1
	val, err := t.index(table, nil, i)
	if err != nil {
		return nil, err
	} else if val == nil {
		return []any{nil}, nil
	}
	return []any{i, val}, nil
}

func stdIPairs(_ *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "ipairs", "table"); err != nil {
		return nil, err
	}
	return []any{Fn("ipairs.next", stdIPairsIterator), args[0], int64(0)}, nil
}

func stdSetMetatable(t *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "setmetatable", "table", "~table|nil"); err != nil {
		return nil, err
	}
	if method := findMetavalue(t, MetaMeta, args[0]); method != nil {
		return nil, errors.New("cannot change a protected metatable")
	}
	table := args[0].(*Table)
	if len(args) > 1 && args[1] != nil {
		table.metatable = args[1].(*Table)
	} else {
		table.metatable = nil
	}
	return []any{table}, nil
}

func stdGetMetatable(t *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "getmetatable", "value"); err != nil {
		return nil, err
	}
	if method := findMetavalue(t, MetaMeta, args[0]); method != nil {
		return []any{method}, nil
	}
	mt := metatableOf(t, args[0])
	if mt == nil {
		return []any{nil}, nil
	}
	return []any{mt}, nil
}

func metatableOf(t *Thread, val any) *Table {
	switch tval := val.(type) {
	case *Table:
		return tval.metatable
	case *Userdata:
		return tval.metatable
	case *Thread:
		return t.state.threadMeta
	default:
		return nil
	}
}

func stdError(t *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "error", "~value", "~number"); err != nil {
		return nil, err
	}
	var errObj any
	if len(args) > 0 {
		errObj = args[0]
	}
	level := 1
	if len(args) > 1 {
		level = int(toInt(args[1]))
	}
	return nil, newUserErr(t, level, errObj)
}

func stdExit(_ *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "exit", "~number|boolean"); err != nil {
		return nil, err
	}
	code := 0
	if len(args) > 0 {
		switch tval := args[0].(type) {
		case bool:
			if !tval {
				code = 1
			}
		default:
			code = int(toInt(tval))
		}
	}
	return nil, ExitInterrupt(code)
}

func stdPCall(t *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "pcall", "function"); err != nil {
		return nil, err
	}
	values, err := t.call(args[0], args[1:])
	if err != nil {
		var intr *Interrupt
		if errors.As(err, &intr) {
			if intr.kind == InterruptYield {
				t.yield = nil
				return []any{false, errValue(yieldErr("attempt to yield across a protected call boundary"))}, nil
			}
			return nil, err
		}
		return []any{false, errValue(err)}, nil
	}
	return append([]any{true}, values...), nil
}

func stdXPCall(t *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "xpcall", "function", "function"); err != nil {
		return nil, err
	}
	values, err := t.call(args[0], args[2:])
	if err != nil {
		var intr *Interrupt
		if errors.As(err, &intr) {
			if intr.kind == InterruptYield {
				t.yield = nil
				err = yieldErr("attempt to yield across a protected call boundary")
			} else {
				return nil, err
			}
		}
		res, herr := t.call(args[1], []any{errValue(err)})
		return append([]any{false}, res...), herr
	}
	return append([]any{true}, values...), nil
}

func stdRawGet(_ *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "rawget", "table", "value"); err != nil {
		return nil, err
	}
	res, err := args[0].(*Table).Get(args[1])
	if err != nil {
		return nil, err
	}
	return []any{res}, nil
}

func stdRawSet(_ *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "rawset", "table", "value", "value"); err != nil {
		return nil, err
	}
	return []any{}, args[0].(*Table).Set(args[1], args[2])
}

func stdRawEq(_ *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "rawequal", "value", "value"); err != nil {
		return nil, err
	}
	lVal, rVal := args[0], args[1]
	if typeName(lVal) != typeName(rVal) {
		return []any{false}, nil
	}
	switch tval := lVal.(type) {
	case string:
		return []any{tval == rVal.(string)}, nil
	case int64, float64:
		return []any{toFloat(lVal) == toFloat(rVal)}, nil
	case bool:
		return []any{tval == rVal.(bool)}, nil
	case nil:
		return []any{true}, nil
	default:
		return []any{lVal == rVal}, nil
	}
}

func stdRawLen(_ *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "rawlen", "string|table"); err != nil {
		return nil, err
	}
	switch tval := args[0].(type) {
	case string:
		return []any{int64(len(tval))}, nil
	case *Table:
		return []any{tval.Len()}, nil
	}
	return []any{}, nil
}

func stdSelect(_ *Thread, args []any) ([]any, error) {
	if err := assertArguments(args, "select", "number|string"); err != nil {
		return nil, err
	}
	if isString(args[0]) {
		if args[0].(string) != "#" {
			return nil, argumentErr(1, "select", errors.New("number expected, got string"))
		}
		return []any{int64(len(args) - 1)}, nil
	}

	out := []any{}
	rest := args[1:]
	if sel := toInt(args[0]); sel > 0 {
		if int(sel) <= len(rest) {
			out = rest[sel-1:]
		}
	} else if sel < 0 {
		idx := len(rest) + int(sel)
		if idx < 0 {
			return nil, argumentErr(1, "select", errors.New("index out of range"))
		}
		out = rest[idx:]
	}
	return out, nil
}

// assertArguments validates native call arguments against simple type specs:
// a bare type name, alternatives joined with |, "value" for anything, and a ~
// prefix marking the argument optional.
func assertArguments(args []any, methodName string, assertions ...string) error {
	for i, assertion := range assertions {
		optional := strings.HasPrefix(assertion, "~")
		expectedTypes := strings.Split(strings.TrimPrefix(assertion, "~"), "|")
		if i >= len(args) && !optional {
			return argumentErr(i+1, methodName, fmt.Errorf("%v expected", assertion))
		} else if i >= len(args) && optional {
			return nil
		} else if strings.TrimPrefix(assertion, "~") == "value" {
			continue
		}

		typeFound := false
		valType := typeName(args[i])
		for _, expected := range expectedTypes {
			if expected == valType {
				typeFound = true
				break
			}
		}
		if !typeFound {
			return argumentErr(
				i+1,
				methodName,
				fmt.Errorf(
					"%v expected but received %v",
					strings.Join(expectedTypes, ", "),
					valType,
				))
		}
	}
	return nil
}

func argumentErr(nArg int, methodName string, err error) error {
	return fmt.Errorf("bad argument #%v to '%v' (%w)", nArg, methodName, err)
}
