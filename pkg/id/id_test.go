package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsEmpty(t *testing.T) {
	assert.True(t, Empty.IsEmpty())
	assert.True(t, ID("").IsEmpty())
	assert.False(t, ID("abc").IsEmpty())
}

func TestSortIDs(t *testing.T) {
	ids := []ID{"c", "a", "b"}
	got := SortIDs(ids)
	assert.Equal(t, []ID{"a", "b", "c"}, got)
}

func TestSortIDsStableForAlreadySorted(t *testing.T) {
	ids := []ID{"a", "b", "c"}
	got := SortIDs(ids)
	assert.Equal(t, []ID{"a", "b", "c"}, got)
}

func TestDedupSorted(t *testing.T) {
	ids := []ID{"a", "a", "b", "b", "b", "c"}
	got := DedupSorted(ids)
	assert.Equal(t, []ID{"a", "b", "c"}, got)
}

func TestDedupSortedEmpty(t *testing.T) {
	assert.Empty(t, DedupSorted(nil))
}

func TestSortDedup(t *testing.T) {
	ids := []ID{"c", "a", "b", "a", "c"}
	got := SortDedup(ids)
	assert.Equal(t, []ID{"a", "b", "c"}, got)
}

func TestJoin(t *testing.T) {
	got := Join([]ID{"a", "b", "c"})
	assert.Equal(t, "a:b:c", got)
}

func TestJoinEmpty(t *testing.T) {
	assert.Equal(t, "", Join(nil))
}

func TestJoinOrderMatters(t *testing.T) {
	assert.NotEqual(t, Join([]ID{"a", "b"}), Join([]ID{"b", "a"}))
}
