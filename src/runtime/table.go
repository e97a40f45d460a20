package runtime

import (
	"errors"
)

// Table is the container object of the runtime, acting both as an array and a
// map. The array part stores 1-based integer keys; everything else lives in
// the hash part. Tables are heap handles: values hold shared references.
type Table struct {
	val       []any
	hashtable map[any]any
	metatable *Table
	keyCache  []any
}

// NewTable will create a new table with default values contained in it. Since
// tables act as both array and map, both can be passed in to seed the table.
func NewTable(arr []any, hash map[any]any) *Table {
	if hash == nil {
		hash = map[any]any{}
	}
	keycache := make([]any, 0, len(hash))
	for key := range hash {
		keycache = append(keycache, key)
	}
	return &Table{
		val:       arr,
		hashtable: hash,
		keyCache:  keycache,
	}
}

func newSizedTable(arraySize, tableSize int) *Table {
	return &Table{
		val:       make([]any, 0, arraySize),
		hashtable: make(map[any]any, tableSize),
	}
}

// Keys returns the hash part keys in insertion order, used for iteration.
func (t *Table) Keys() []any { return t.keyCache }

// Len returns the array part length, the value the LEN opcode reports when no
// __len handler is installed.
func (t *Table) Len() int64 { return int64(len(t.val)) }

// Metatable returns the metatable handle, nil when none was set.
func (t *Table) Metatable() *Table { return t.metatable }

// SetMetatable replaces the table's metatable; nil removes it.
func (t *Table) SetMetatable(mt *Table) { t.metatable = mt }

// normalizeKey collapses float keys with an integral value into int64 so that
// t[1] and t[1.0] address the same slot.
func normalizeKey(key any) any {
	if fval, isFloat := key.(float64); isFloat {
		if ival := int64(fval); float64(ival) == fval {
			return ival
		}
	}
	return key
}

// Get will return the value for the key. Positive in-range integer keys read
// the array part, everything else the hash part. Nil keys are not allowed.
func (t *Table) Get(key any) (any, error) {
	if key == nil {
		return nil, errors.New("table index is nil")
	}
	key = normalizeKey(key)
	if ikey, isInt := key.(int64); isInt && ikey > 0 && ikey <= int64(len(t.val)) {
		return t.val[ikey-1], nil
	}
	return t.hashtable[key], nil
}

// Set will store a value at a given key. Integer keys within or directly
// after the array part extend it; everything else goes to the hash part. Nil
// keys are not allowed, and nil values delete hash entries.
func (t *Table) Set(key, val any) error {
	if key == nil {
		return errors.New("table index is nil")
	}
	key = normalizeKey(key)
	if ikey, isInt := key.(int64); isInt && ikey > 0 {
		switch {
		case ikey <= int64(len(t.val)):
			t.val[ikey-1] = val
			if val == nil && ikey == int64(len(t.val)) {
				t.val = t.val[:ikey-1]
			}
			return nil
		case ikey == int64(len(t.val))+1 && val != nil:
			t.val = append(t.val, val)
			return nil
		}
	}
	if _, exists := t.hashtable[key]; !exists && val != nil {
		t.keyCache = append(t.keyCache, key)
	}
	if val == nil {
		for i, cached := range t.keyCache {
			if key == cached {
				t.keyCache = append(t.keyCache[:i], t.keyCache[i+1:]...)
				break
			}
		}
		delete(t.hashtable, key)
		return nil
	}
	t.hashtable[key] = val
	return nil
}
