package slices

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPop(t *testing.T) {
	s := []int{1, 2}
	e, s, ok := Pop(s)
	assert.True(t, ok)
	assert.Equal(t, 2, e)
	e, s, ok = Pop(s)
	assert.True(t, ok)
	assert.Equal(t, 1, e)
	_, s, ok = Pop(s)
	assert.False(t, ok)
	assert.Empty(t, s)
}

func TestDedup(t *testing.T) {
	assert.Equal(t, []int64{3, 1, 2}, Dedup([]int64{3, 1, 3, 2, 1}))
	assert.Empty(t, Dedup([]int64(nil)))
}

func TestRemove(t *testing.T) {
	s, ok := Remove([]string{"a", "b", "c", "b"}, "b")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "c", "b"}, s)
	s, ok = Remove(s, "z")
	assert.False(t, ok)
	assert.Len(t, s, 3)
}
