package runtime

import (
	gruntime "runtime"

	"github.com/skein-lang/skein/src/conf"
)

type (
	// Kind names the heap object classes the collector is told about.
	Kind int
	// Collector is the seam between the core and whatever reclaims memory.
	// The core reports allocations and can enumerate roots and children for
	// a tracing implementation; collection cadence is the collector's
	// business entirely.
	Collector interface {
		// Allocate notes that the runtime created a heap object of kind.
		Allocate(kind Kind)
		// MarkRoots returns the values collection must start from.
		MarkRoots(s *State) []any
		// TraceChildren returns the values directly reachable from val.
		TraceChildren(val any) []any
	}
)

const (
	// KindTable is a table allocation.
	KindTable Kind = iota
	// KindClosure is a closure allocation.
	KindClosure
	// KindUserdata is a userdata allocation.
	KindUserdata
	// KindThread is a coroutine allocation.
	KindThread
)

func (k Kind) String() string {
	switch k {
	case KindTable:
		return "table"
	case KindClosure:
		return "function"
	case KindUserdata:
		return "userdata"
	case KindThread:
		return "thread"
	default:
		return "unknown"
	}
}

// countingCollector is the default collector. Reclamation itself is the Go
// runtime's job; this tracks allocation tallies and nudges the Go collector
// every GCPAUSE allocations so guest allocation bursts do not outrun it.
type countingCollector struct {
	counts    map[Kind]int64
	sincePoke int64
	paused    bool
}

func newCountingCollector() *countingCollector {
	return &countingCollector{counts: map[Kind]int64{}}
}

func (c *countingCollector) Allocate(kind Kind) {
	c.counts[kind]++
	c.sincePoke++
	if !c.paused && c.sincePoke >= conf.GCPAUSE {
		c.sincePoke = 0
		gruntime.GC()
	}
}

func (c *countingCollector) MarkRoots(s *State) []any {
	roots := []any{s.globals, s.registry}
	for _, t := range s.threads {
		roots = append(roots, t)
	}
	return roots
}

func (c *countingCollector) TraceChildren(val any) []any {
	return TraceChildren(val)
}

// TraceChildren returns the heap values directly reachable from val: table
// entries and metatables, closure upvalues and nested prototypes' constants,
// thread stacks. Scalar values have no children.
func TraceChildren(val any) []any {
	switch tval := val.(type) {
	case *Table:
		children := make([]any, 0, len(tval.val)+len(tval.keyCache)+1)
		children = append(children, tval.val...)
		for _, key := range tval.keyCache {
			children = append(children, key, tval.hashtable[key])
		}
		if tval.metatable != nil {
			children = append(children, tval.metatable)
		}
		return children
	case *Closure:
		children := make([]any, 0, len(tval.upvalues))
		for _, upval := range tval.upvalues {
			children = append(children, upval.Get())
		}
		return children
	case *Userdata:
		if tval.metatable != nil {
			return []any{tval.metatable}
		}
		return nil
	case *Thread:
		children := make([]any, 0, tval.stack.RawTop()+1)
		for i := int64(0); i < tval.stack.RawTop(); i++ {
			children = append(children, tval.stack.Get(i))
		}
		if tval.fn != nil {
			children = append(children, tval.fn)
		}
		return children
	default:
		return nil
	}
}
