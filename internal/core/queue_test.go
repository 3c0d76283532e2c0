package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueueOrder(t *testing.T) {
	q := NewQueue[string](4, OverflowError)
	for _, v := range []string{"a", "b"} {
		_, err := q.PushBack(v)
		require.NoError(t, err)
	}
	_, err := q.PushFront("c")
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a", "b"}, q.Items())

	v, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, "c", v)
	require.Equal(t, 2, q.Len())
}

func TestQueueOverflow(t *testing.T) {
	fill := func(p OverflowPolicy) *Queue[string] {
		q := NewQueue[string](2, p)
		_, _ = q.PushBack("a")
		_, _ = q.PushBack("b")
		return q
	}

	q := fill(OverflowDropOldest)
	dropped, err := q.PushFront("c")
	require.NoError(t, err)
	require.Equal(t, "a", *dropped, "oldest is the longest queued, not the back")
	require.Equal(t, []string{"c", "b"}, q.Items())

	q = fill(OverflowDropNewest)
	dropped, err = q.PushBack("c")
	require.NoError(t, err)
	require.Equal(t, "c", *dropped)
	require.Equal(t, []string{"a", "b"}, q.Items())

	_, err = fill(OverflowError).PushBack("c")
	require.ErrorIs(t, err, ErrQueueOverflow)
	_, err = fill(OverflowAssert).PushBack("c")
	require.ErrorIs(t, err, ErrAssertion)
}

func TestParseOverflowPolicy(t *testing.T) {
	for _, p := range []OverflowPolicy{OverflowAssert, OverflowDropOldest, OverflowDropNewest, OverflowError} {
		got, err := ParseOverflowPolicy(p.String())
		require.NoError(t, err)
		require.Equal(t, p, got)
	}
	_, err := ParseOverflowPolicy("grow")
	require.Error(t, err)
}
