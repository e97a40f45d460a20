package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_GetSet(t *testing.T) {
	t.Parallel()

	t.Run("array part", func(t *testing.T) {
		t.Parallel()
		tbl := NewTable(nil, nil)
		require.NoError(t, tbl.Set(int64(1), "a"))
		require.NoError(t, tbl.Set(int64(2), "b"))
		assert.Equal(t, int64(2), tbl.Len())

		val, err := tbl.Get(int64(1))
		require.NoError(t, err)
		assert.Equal(t, "a", val)

		// float keys with integral values address the same slot.
		val, err = tbl.Get(float64(2))
		require.NoError(t, err)
		assert.Equal(t, "b", val)

		// removing the last element shrinks the array part.
		require.NoError(t, tbl.Set(int64(2), nil))
		assert.Equal(t, int64(1), tbl.Len())
	})

	t.Run("hash part", func(t *testing.T) {
		t.Parallel()
		tbl := NewTable(nil, nil)
		require.NoError(t, tbl.Set("key", int64(12)))
		require.NoError(t, tbl.Set(int64(100), "sparse"))
		assert.Equal(t, int64(0), tbl.Len())

		val, err := tbl.Get("key")
		require.NoError(t, err)
		assert.Equal(t, int64(12), val)

		val, err = tbl.Get(int64(100))
		require.NoError(t, err)
		assert.Equal(t, "sparse", val)

		assert.Len(t, tbl.Keys(), 2)

		// nil value deletes the entry and its cached key.
		require.NoError(t, tbl.Set("key", nil))
		val, err = tbl.Get("key")
		require.NoError(t, err)
		assert.Nil(t, val)
		assert.Len(t, tbl.Keys(), 1)
	})

	t.Run("nil keys are rejected", func(t *testing.T) {
		t.Parallel()
		tbl := NewTable(nil, nil)
		_, err := tbl.Get(nil)
		require.ErrorContains(t, err, "table index is nil")
		require.ErrorContains(t, tbl.Set(nil, "x"), "table index is nil")
	})

	t.Run("missing keys read nil", func(t *testing.T) {
		t.Parallel()
		tbl := NewTable([]any{"a"}, nil)
		val, err := tbl.Get("nope")
		require.NoError(t, err)
		assert.Nil(t, val)
		val, err = tbl.Get(int64(9))
		require.NoError(t, err)
		assert.Nil(t, val)
	})
}

func TestTable_Metatable(t *testing.T) {
	t.Parallel()

	tbl := NewTable(nil, nil)
	assert.Nil(t, tbl.Metatable())
	mt := NewTable(nil, map[any]any{"__index": NewTable(nil, nil)})
	tbl.SetMetatable(mt)
	assert.Same(t, mt, tbl.Metatable())
	tbl.SetMetatable(nil)
	assert.Nil(t, tbl.Metatable())
}

func TestNormalizeKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(1), normalizeKey(float64(1)))
	assert.Equal(t, float64(1.5), normalizeKey(float64(1.5)))
	assert.Equal(t, int64(3), normalizeKey(int64(3)))
	assert.Equal(t, "key", normalizeKey("key"))
}
