package runtime

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skein-lang/skein/src/lerrors"
)

func TestStack_PushPop(t *testing.T) {
	t.Parallel()

	s := newStack(0)
	assert.Equal(t, int64(0), s.RawTop())

	addr, err := s.Push("a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, int64(0), addr)
	assert.Equal(t, int64(3), s.RawTop())
	assert.Equal(t, int64(3), s.Top(0))

	addr, err = s.Push(int64(42))
	require.NoError(t, err)
	assert.Equal(t, int64(3), addr)
	assert.Equal(t, int64(4), s.RawTop())

	assert.Equal(t, []any{"c", int64(42)}, s.Pop(2))
	assert.Equal(t, int64(2), s.RawTop())

	// popping more than live just drains the stack.
	assert.Equal(t, []any{"a", "b"}, s.Pop(5))
	assert.Equal(t, int64(0), s.RawTop())
}

func TestStack_Absolute(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		desc string
		base int64
		idx  int64
		want int64
		err  bool
	}{
		{desc: "first value", base: 0, idx: 1, want: 1},
		{desc: "topmost value", base: 0, idx: 4, want: 4},
		{desc: "negative resolves from top", base: 0, idx: -1, want: 4},
		{desc: "negative to bottom", base: 0, idx: -4, want: 1},
		{desc: "zero is invalid", base: 0, idx: 0, err: true},
		{desc: "past the top", base: 0, idx: 5, err: true},
		{desc: "below the bottom", base: 0, idx: -5, err: true},
		{desc: "relative to base", base: 2, idx: 1, want: 1},
		{desc: "negative relative to base", base: 2, idx: -1, want: 2},
		{desc: "base hides lower slots", base: 2, idx: 3, err: true},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			s := newStack(0)
			_, err := s.Push("a", "b", "c", "d")
			require.NoError(t, err)

			abs, err := s.Absolute(tc.base, tc.idx)
			if tc.err {
				var lerr *lerrors.Error
				require.Error(t, err)
				require.True(t, errors.As(err, &lerr))
				assert.Equal(t, lerrors.IndexErr, lerr.Kind)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.want, abs)
			}
		})
	}
}

func TestStack_GetSetIndex(t *testing.T) {
	t.Parallel()

	s := newStack(0)
	_, err := s.Push("bottom", int64(1), int64(2), "top")
	require.NoError(t, err)

	val, err := s.GetIndex(1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)

	val, err = s.GetIndex(1, -1)
	require.NoError(t, err)
	assert.Equal(t, "top", val)

	require.NoError(t, s.SetIndex(1, 2, "replaced"))
	val, err = s.GetIndex(1, 2)
	require.NoError(t, err)
	assert.Equal(t, "replaced", val)

	require.Error(t, s.SetIndex(1, 12, "nope"))
}

func TestStack_SetTop(t *testing.T) {
	t.Parallel()

	s := newStack(0)
	_, err := s.Push("a", "b", "c", "d")
	require.NoError(t, err)

	// lowering clears the dropped slots.
	require.NoError(t, s.SetTop(1, 1))
	assert.Equal(t, int64(2), s.RawTop())
	assert.Nil(t, s.Get(2))

	// raising pads with nil.
	require.NoError(t, s.SetTop(1, 3))
	assert.Equal(t, int64(4), s.RawTop())
	assert.Nil(t, s.Get(3))

	// negative index resolves against the current top first.
	require.NoError(t, s.SetTop(1, -1))
	assert.Equal(t, int64(4), s.RawTop())
}

func TestStack_Rotate(t *testing.T) {
	t.Parallel()

	s := newStack(0)
	_, err := s.Push(int64(1), int64(2), int64(3), int64(4), int64(5))
	require.NoError(t, err)

	require.NoError(t, s.Rotate(0, 2, 1))
	assert.Equal(t, []any{int64(1), int64(5), int64(2), int64(3), int64(4)}, s.slots[:5])

	require.NoError(t, s.Rotate(0, 2, -1))
	assert.Equal(t, []any{int64(1), int64(2), int64(3), int64(4), int64(5)}, s.slots[:5])

	require.Error(t, s.Rotate(0, 2, 12))
}

func TestStack_Insert(t *testing.T) {
	t.Parallel()

	s := newStack(0)
	_, err := s.Push("a", "b", "c", "new")
	require.NoError(t, err)
	require.NoError(t, s.Insert(0, 1))
	assert.Equal(t, []any{"new", "a", "b", "c"}, s.slots[:4])
}

func TestStack_Growth(t *testing.T) {
	t.Parallel()

	t.Run("grows past initial size", func(t *testing.T) {
		t.Parallel()
		s := newStack(0)
		initial := len(s.slots)
		for i := 0; i < initial+10; i++ {
			_, err := s.Push(int64(i))
			require.NoError(t, err)
		}
		assert.Equal(t, int64(initial+10), s.RawTop())
		// values survive reallocation.
		assert.Equal(t, int64(0), s.Get(0))
		assert.Equal(t, int64(initial+9), s.Get(int64(initial+9)))
	})

	t.Run("overflow at the limit", func(t *testing.T) {
		t.Parallel()
		s := newStack(4)
		_, err := s.Push(1, 2, 3, 4)
		require.NoError(t, err)
		_, err = s.Push(5)
		var lerr *lerrors.Error
		require.True(t, errors.As(err, &lerr))
		assert.Equal(t, lerrors.StackOverflowErr, lerr.Kind)
	})

	t.Run("raw set grows on demand", func(t *testing.T) {
		t.Parallel()
		s := newStack(0)
		require.NoError(t, s.Set(200, "far"))
		assert.Equal(t, int64(201), s.RawTop())
		assert.Equal(t, "far", s.Get(200))
		assert.Nil(t, s.Get(100))
		require.Error(t, s.Set(-1, "no"))
	})
}
