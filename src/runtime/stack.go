package runtime

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/skein-lang/skein/src/conf"
	"github.com/skein-lang/skein/src/lerrors"
)

// Stack is the register stack owned by exactly one thread. Raw slots are
// addressed 0-based by the vm; the frame-relative API resolves 1-based
// positive indices from a frame base and negative indices from the top, so a
// frame can never observe slots below its own base. Growth reallocates the
// backing slice but logical indices stay stable.
type Stack struct {
	mu    sync.Mutex
	slots []any
	top   int64
	limit int64
}

func newStack(limit int64) *Stack {
	if limit <= 0 || limit > conf.MAXSTACKSIZE {
		limit = conf.MAXSTACKSIZE
	}
	size := int64(conf.INITIALSTACKSIZE)
	if size > limit {
		size = limit
	}
	return &Stack{
		slots: make([]any, size),
		limit: limit,
	}
}

// RawTop returns the raw slot index one past the last live value.
func (s *Stack) RawTop() int64 { return s.top }

// Top returns the number of live values above base; with indices starting at
// 1 this is also the index of the topmost value.
func (s *Stack) Top(base int64) int64 { return s.top - base }

// Absolute resolves a frame-relative index against the current top: positive
// indices count 1-based from base, negative from the top (-1 is the topmost
// value). Indices that land outside the frame's window fail with an IndexErr;
// slots below base are unreachable by construction.
func (s *Stack) Absolute(base, idx int64) (int64, error) {
	if idx == 0 {
		return 0, indexErr(idx, s.Top(base))
	}
	if idx < 0 {
		idx = s.Top(base) + idx + 1
	}
	if idx < 1 || idx > s.Top(base) {
		return 0, indexErr(idx, s.Top(base))
	}
	return idx, nil
}

// GetIndex reads the value at a frame-relative index.
func (s *Stack) GetIndex(base, idx int64) (any, error) {
	abs, err := s.Absolute(base, idx)
	if err != nil {
		return nil, err
	}
	return s.slots[base+abs-1], nil
}

// SetIndex writes the value at a frame-relative index.
func (s *Stack) SetIndex(base, idx int64, val any) error {
	abs, err := s.Absolute(base, idx)
	if err != nil {
		return err
	}
	s.slots[base+abs-1] = val
	return nil
}

// SetTop truncates the frame's window to n values, clearing dropped slots, or
// pads with nil up to n.
func (s *Stack) SetTop(base, n int64) error {
	if n < 0 {
		abs, err := s.Absolute(base, n)
		if err != nil {
			return err
		}
		n = abs
	}
	newTop := base + n
	if newTop < s.top {
		clear(s.slots[newTop:s.top])
		s.top = newTop
		return nil
	}
	if err := s.ensureSize(newTop); err != nil {
		return err
	}
	s.top = newTop
	return nil
}

// Rotate shifts the values between the frame-relative index and the top n
// positions toward the top (negative n rotates toward the bottom).
func (s *Stack) Rotate(base, idx int64, n int) error {
	abs, err := s.Absolute(base, idx)
	if err != nil {
		return err
	}
	window := s.slots[base+abs-1 : s.top]
	absN := n
	if n < 0 {
		absN = -n
	}
	if int64(absN) > int64(len(window)) {
		return indexErr(int64(n), int64(len(window)))
	}
	m := len(window) - n
	if n < 0 {
		m = -n
	}
	slices.Reverse(window[:m])
	slices.Reverse(window[m:])
	slices.Reverse(window)
	return nil
}

// Insert moves the top value into the given frame-relative index, shifting
// the values above it up to open space.
func (s *Stack) Insert(base, idx int64) error {
	return s.Rotate(base, idx, 1)
}

// Get reads a raw slot; out of range reads observe nil, matching unset
// registers.
func (s *Stack) Get(i int64) any {
	if i < 0 || i >= s.top {
		return nil
	}
	return s.slots[i]
}

// Set writes a raw slot, growing the stack when the write lands past the end.
func (s *Stack) Set(i int64, val any) error {
	if i < 0 {
		return &lerrors.Error{
			Kind: lerrors.IndexErr,
			Err:  errors.New("cannot address negatively in the stack"),
		}
	}
	if err := s.ensureSize(i + 1); err != nil {
		return err
	}
	s.slots[i] = val
	if i+1 > s.top {
		s.top = i + 1
	}
	return nil
}

// Push appends values and returns the raw slot the first value landed in.
func (s *Stack) Push(vals ...any) (int64, error) {
	if len(vals) == 0 {
		return s.top, nil
	}
	addr := s.top
	if err := s.ensureSize(s.top + int64(len(vals))); err != nil {
		return -1, err
	}
	for _, val := range vals {
		s.slots[s.top] = val
		s.top++
	}
	return addr, nil
}

// Pop removes and returns the top n values.
func (s *Stack) Pop(n int64) []any {
	if n > s.top {
		n = s.top
	}
	vals := make([]any, n)
	copy(vals, s.slots[s.top-n:s.top])
	clear(s.slots[s.top-n : s.top])
	s.top -= n
	return vals
}

// EnsureCapacity pre-reserves room for n more values, failing with a
// StackOverflowErr only when growth would exceed the configured hard limit.
func (s *Stack) EnsureCapacity(n int64) error {
	return s.ensureSize(s.top + n)
}

func (s *Stack) ensureSize(size int64) error {
	sliceLen := int64(len(s.slots))
	if size <= sliceLen {
		return nil
	}
	if size > s.limit {
		return &lerrors.Error{
			Kind: lerrors.StackOverflowErr,
			Err:  fmt.Errorf("stack overflow: growth to %v exceeds limit %v", size, s.limit),
		}
	}
	growthAmount := (size - sliceLen) * 2
	if sliceLen+growthAmount > s.limit {
		growthAmount = s.limit - sliceLen
	}
	newSlots := make([]any, sliceLen+growthAmount)
	copy(newSlots, s.slots)
	s.mu.Lock()
	s.slots = newSlots
	s.mu.Unlock()
	return nil
}

// setRawTop moves the raw top, clearing dropped slots when lowering so dead
// values do not pin heap objects, or growing when raising.
func (s *Stack) setRawTop(rawTop int64) error {
	if rawTop < 0 {
		rawTop = 0
	}
	if rawTop < s.top {
		clear(s.slots[rawTop:s.top])
		s.top = rawTop
		return nil
	}
	if err := s.ensureSize(rawTop); err != nil {
		return err
	}
	s.top = rawTop
	return nil
}

func indexErr(idx, top int64) error {
	return &lerrors.Error{
		Kind: lerrors.IndexErr,
		Err:  fmt.Errorf("index %v out of range (top = %v)", idx, top),
	}
}
