package store

import (
	"testing"

	"github.com/cuemby/eidetica/pkg/crdt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetPersistsThroughCallback(t *testing.T) {
	var persisted *crdt.Doc
	s := New("test", crdt.NewDoc(), func(d *crdt.Doc) error {
		persisted = d
		return nil
	})

	require.NoError(t, s.Set("k", crdt.TextValue("v")))
	require.NotNil(t, persisted)
	v, ok := persisted.Get("k")
	require.True(t, ok)
	text, _ := v.Text()
	assert.Equal(t, "v", text)
}

func TestReadOnlyStoreRejectsMutation(t *testing.T) {
	s := New("test", crdt.NewDoc(), nil)
	assert.True(t, s.ReadOnly())
	assert.Error(t, s.Set("k", crdt.TextValue("v")))
	assert.Error(t, s.Delete("k"))
	assert.Error(t, s.SetPath("a.b", crdt.TextValue("v")))
}

func TestSetPathPersists(t *testing.T) {
	calls := 0
	s := New("test", crdt.NewDoc(), func(d *crdt.Doc) error { calls++; return nil })
	require.NoError(t, s.SetPath("a.b", crdt.TextValue("v")))
	assert.Equal(t, 1, calls)

	v, ok, err := s.GetPath("a.b")
	require.NoError(t, err)
	require.True(t, ok)
	text, _ := v.Text()
	assert.Equal(t, "v", text)
}

func TestDeleteTombstonesAndPersists(t *testing.T) {
	s := New("test", crdt.NewDoc(), func(d *crdt.Doc) error { return nil })
	require.NoError(t, s.Set("k", crdt.TextValue("v")))
	require.NoError(t, s.Delete("k"))

	_, ok := s.Get("k")
	assert.False(t, ok)
}

func TestKeysLenIsEmpty(t *testing.T) {
	s := New("test", crdt.NewDoc(), func(d *crdt.Doc) error { return nil })
	assert.True(t, s.IsEmpty())
	require.NoError(t, s.Set("a", crdt.IntValue(1)))
	require.NoError(t, s.Set("b", crdt.IntValue(2)))
	assert.ElementsMatch(t, []string{"a", "b"}, s.Keys())
	assert.Equal(t, 2, s.Len())
	assert.False(t, s.IsEmpty())
}

func TestListAddRemoveGet(t *testing.T) {
	s := New("test", crdt.NewDoc(), func(d *crdt.Doc) error { return nil })
	elemID, err := s.ListAdd("items", crdt.TextValue("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, s.ListLen("items"))

	v, ok := s.ListGet("items", elemID)
	require.True(t, ok)
	text, _ := v.Text()
	assert.Equal(t, "a", text)

	removed, err := s.ListRemove("items", elemID)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, 0, s.ListLen("items"))
}

func TestListRemoveMissingReportsFalseWithoutPersisting(t *testing.T) {
	calls := 0
	s := New("test", crdt.NewDoc(), func(d *crdt.Doc) error { calls++; return nil })
	removed, err := s.ListRemove("items", "nope")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, 0, calls, "a no-op removal must not trigger a persist")
}

type record struct {
	Count int `json:"count"`
}

func TestTypedGetSetRoundTrip(t *testing.T) {
	s := New("test", crdt.NewDoc(), func(d *crdt.Doc) error { return nil })
	require.NoError(t, Set(s, "rec", record{Count: 9}))

	got, err := Get[record](s, "rec")
	require.NoError(t, err)
	assert.Equal(t, 9, got.Count)
}

func TestTypedGetMissingKeyReturnsKeyNotFound(t *testing.T) {
	s := New("test", crdt.NewDoc(), func(d *crdt.Doc) error { return nil })
	_, err := Get[record](s, "missing")
	assert.Error(t, err)
}

func TestTypedGetWrongShapeReturnsTypeMismatch(t *testing.T) {
	s := New("test", crdt.NewDoc(), func(d *crdt.Doc) error { return nil })
	require.NoError(t, s.Set("notjson", crdt.IntValue(1)))
	_, err := Get[record](s, "notjson")
	assert.Error(t, err)
}

func TestNameReportsBoundSubtree(t *testing.T) {
	s := New("messages", crdt.NewDoc(), nil)
	assert.Equal(t, "messages", s.Name())
}

func TestGetStringAndSetString(t *testing.T) {
	s := New("test", crdt.NewDoc(), func(d *crdt.Doc) error { return nil })
	require.NoError(t, s.SetString("greeting", "hello"))

	got, err := s.GetString("greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	_, err = s.GetString("missing")
	assert.Error(t, err)

	require.NoError(t, s.Set("count", crdt.IntValue(3)))
	_, err = s.GetString("count")
	assert.Error(t, err, "a non-text value must surface as a type mismatch")
}

func TestGetAllReturnsLivePairsOnly(t *testing.T) {
	s := New("test", crdt.NewDoc(), func(d *crdt.Doc) error { return nil })
	require.NoError(t, s.SetString("a", "1"))
	require.NoError(t, s.SetString("b", "2"))
	require.NoError(t, s.Delete("b"))

	all := s.GetAll()
	require.Len(t, all, 1)
	v, ok := all["a"]
	require.True(t, ok)
	text, _ := v.Text()
	assert.Equal(t, "1", text)
}

func TestValueEditorChainedSetAndGet(t *testing.T) {
	s := New("test", crdt.NewDoc(), func(d *crdt.Doc) error { return nil })
	require.NoError(t, s.GetValueMut("user").GetValueMut("profile").Set(crdt.TextValue("Alice")))

	v, ok, err := s.GetPath("user.profile")
	require.NoError(t, err)
	require.True(t, ok)
	text, _ := v.Text()
	assert.Equal(t, "Alice", text)

	got, ok, err := s.GetValueMut("user").GetValueMut("profile").Get()
	require.NoError(t, err)
	require.True(t, ok)
	text, _ = got.Text()
	assert.Equal(t, "Alice", text)
}

func TestValueEditorDeleteTombstones(t *testing.T) {
	s := New("test", crdt.NewDoc(), func(d *crdt.Doc) error { return nil })
	require.NoError(t, s.GetValueMut("user").GetValueMut("profile").Set(crdt.TextValue("Alice")))
	require.NoError(t, s.GetValueMut("user").GetValueMut("profile").Delete())

	_, ok, err := s.GetPath("user.profile")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValueEditorOnViewerRejectsWrite(t *testing.T) {
	s := New("test", crdt.NewDoc(), nil)
	assert.Error(t, s.GetValueMut("user").Set(crdt.TextValue("nope")))
}
