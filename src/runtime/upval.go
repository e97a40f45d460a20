package runtime

import (
	"fmt"
)

// upvalueBroker mediates access to a captured variable. While open it reads
// through to the owning thread's stack slot; once closed it owns the value
// itself and outlives the frame that produced it.
type upvalueBroker struct {
	index uint64
	open  bool
	name  string
	stack *Stack
	val   any
}

func (t *Thread) newUpValueBroker(name string, val any, index uint64) *upvalueBroker {
	return &upvalueBroker{
		stack: t.stack,
		name:  name,
		val:   val,
		index: index,
		open:  true,
	}
}

func (b *upvalueBroker) String() string {
	return fmt.Sprintf("<-id: %v name: %v open: %v->", b.index, b.name, b.open)
}

func (b *upvalueBroker) Get() any {
	if b.open {
		b.stack.mu.Lock()
		defer b.stack.mu.Unlock()
		return b.stack.slots[b.index]
	}
	return b.val
}

func (b *upvalueBroker) Set(val any) {
	if b.open {
		b.stack.mu.Lock()
		defer b.stack.mu.Unlock()
		b.stack.slots[b.index] = val
	}
	b.val = val
}

func (b *upvalueBroker) Close() {
	if !b.open {
		return
	}
	b.stack.mu.Lock()
	defer b.stack.mu.Unlock()
	b.val = b.stack.slots[b.index]
	b.open = false
	b.stack = nil
}
