package runtime

type (
	// Event names an operation the core cannot satisfy natively and delegates
	// to the metamethod resolver: arithmetic, comparison, indexing, calling.
	Event string
	// Resolver is the seam between the core and metamethod dispatch. The
	// default implementation reads metatables attached to tables and
	// userdata; hosts may install their own resolution strategy on the State.
	Resolver interface {
		// Resolve returns the handler for the event on the given value, or
		// nil when the default behaviour should apply.
		Resolve(val any, event Event) any
	}
)

// Metamethod events understood by the vm.
const (
	MetaAdd      Event = "__add"
	MetaSub      Event = "__sub"
	MetaMul      Event = "__mul"
	MetaDiv      Event = "__div"
	MetaMod      Event = "__mod"
	MetaPow      Event = "__pow"
	MetaIDiv     Event = "__idiv"
	MetaBAnd     Event = "__band"
	MetaBOr      Event = "__bor"
	MetaBXOr     Event = "__bxor"
	MetaShl      Event = "__shl"
	MetaShr      Event = "__shr"
	MetaUNM      Event = "__unm"
	MetaBNot     Event = "__bnot"
	MetaConcat   Event = "__concat"
	MetaLen      Event = "__len"
	MetaEq       Event = "__eq"
	MetaLt       Event = "__lt"
	MetaLe       Event = "__le"
	MetaIndex    Event = "__index"
	MetaNewIndex Event = "__newindex"
	MetaCall     Event = "__call"
	MetaToString Event = "__tostring"
	MetaPairs    Event = "__pairs"
	MetaClose    Event = "__close"
	MetaMeta     Event = "__metatable"
	MetaName     Event = "__name"
)

// tableResolver is the default Resolver: metatables on tables and userdata,
// plus the state-registered thread metatable.
type tableResolver struct {
	state *State
}

func (r *tableResolver) Resolve(val any, event Event) any {
	mt := r.metatable(val)
	if mt == nil {
		return nil
	}
	return mt.hashtable[string(event)]
}

func (r *tableResolver) metatable(val any) *Table {
	switch tval := val.(type) {
	case *Table:
		return tval.metatable
	case *Userdata:
		return tval.metatable
	case *Thread:
		return r.state.threadMeta
	default:
		return nil
	}
}

func findMetavalue(t *Thread, event Event, val any) any {
	if val == nil {
		return nil
	}
	return t.state.resolver.Resolve(val, event)
}
