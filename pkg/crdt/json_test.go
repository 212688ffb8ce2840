package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocJSONRoundTripPreservesTombstones(t *testing.T) {
	d := NewDoc()
	d.Set("live", TextValue("v"))
	d.Delete("gone")

	raw, err := d.MarshalJSON()
	require.NoError(t, err)

	back := NewDoc()
	require.NoError(t, back.UnmarshalJSON(raw))

	v, ok := back.Get("live")
	require.True(t, ok)
	text, _ := v.Text()
	assert.Equal(t, "v", text)

	assert.True(t, back.IsTombstone("gone"))
}

func TestDocJSONRoundTripPreservesListElementIDs(t *testing.T) {
	d := NewDoc()
	id1 := d.ListAdd("items", TextValue("a"))
	id2 := d.ListAdd("items", TextValue("b"))
	d.ListRemove("items", id2)

	raw, err := d.MarshalJSON()
	require.NoError(t, err)

	back := NewDoc()
	require.NoError(t, back.UnmarshalJSON(raw))

	assert.Equal(t, []string{id1}, back.ListIDs("items"))
	_, ok := back.ListGet("items", id2)
	assert.False(t, ok, "removed element must stay hidden after round-trip")
}

func TestToPublicJSONOmitsTombstones(t *testing.T) {
	d := NewDoc()
	d.Set("live", TextValue("v"))
	d.Delete("gone")

	id1 := d.ListAdd("items", TextValue("a"))
	id2 := d.ListAdd("items", TextValue("b"))
	d.ListRemove("items", id2)
	_ = id1

	public, ok := d.ToPublicJSON().(map[string]any)
	require.True(t, ok)
	_, hasLive := public["live"]
	assert.True(t, hasLive)
	_, hasGone := public["gone"]
	assert.False(t, hasGone, "public JSON must not expose a tombstoned top-level key")

	items, ok := public["items"].([]any)
	require.True(t, ok)
	assert.Len(t, items, 1, "public JSON list must omit the tombstoned element entirely")
}

func TestDocMarshalUnmarshalSelfRoundTrip(t *testing.T) {
	d := NewDoc()
	require.NoError(t, d.SetPath("a.b.c", IntValue(7)))
	d.WithBool("flag", true)

	raw1, err := d.MarshalJSON()
	require.NoError(t, err)

	back := NewDoc()
	require.NoError(t, back.UnmarshalJSON(raw1))

	raw2, err := back.MarshalJSON()
	require.NoError(t, err)

	assert.JSONEq(t, string(raw1), string(raw2))
}
