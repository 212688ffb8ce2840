package crdt

import (
	"sort"

	"github.com/google/uuid"
)

// List is an ordered sequence of (elementID, Value) pairs, iterated in
// elementID-sorted order. Element IDs are UUIDv4 strings: lexicographically
// orderable, unique, and stable across merges. Removing an element
// tombstones it in place rather than deleting the map entry, so the
// deletion survives a merge with a peer that has no element at that ID.
// Where both sides hold the ID, mergeValue decides: the right-hand side
// wins, so a live right-hand element replaces a left-hand tombstone.
type List struct {
	elements map[string]Value
}

// NewList returns an empty List.
func NewList() *List {
	return &List{elements: make(map[string]Value)}
}

// Clone returns a deep-enough copy of l.
func (l *List) Clone() *List {
	out := NewList()
	for id, v := range l.elements {
		out.elements[id] = cloneValue(v)
	}
	return out
}

// Add appends value under a freshly generated element ID and returns it.
func (l *List) Add(value Value) string {
	id := uuid.NewString()
	l.elements[id] = value
	return id
}

// Remove tombstones the element at id. It reports whether a live element
// existed at id before the call.
func (l *List) Remove(id string) bool {
	v, ok := l.elements[id]
	if !ok || v.kind == KindDeleted {
		return false
	}
	l.elements[id] = DeletedValue()
	return true
}

// Get returns the live value at id, if any.
func (l *List) Get(id string) (Value, bool) {
	v, ok := l.elements[id]
	if !ok || v.kind == KindDeleted {
		return Value{}, false
	}
	return v, true
}

// IDs returns the live element IDs in sorted order.
func (l *List) IDs() []string {
	ids := make([]string, 0, len(l.elements))
	for id, v := range l.elements {
		if v.kind != KindDeleted {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live elements.
func (l *List) Len() int {
	return len(l.IDs())
}

// IsEmpty reports whether l has no live elements.
func (l *List) IsEmpty() bool {
	return l.Len() == 0
}

// Clear tombstones every element currently in the list.
func (l *List) Clear() {
	for id, v := range l.elements {
		if v.kind != KindDeleted {
			l.elements[id] = DeletedValue()
		}
	}
}

// Merge returns a new List unioning l and other by element ID, resolving
// per-element conflicts via mergeValue.
func (l *List) Merge(other *List) *List {
	out := l.Clone()
	for id, ov := range other.elements {
		if ev, ok := out.elements[id]; ok {
			out.elements[id] = mergeValue(ev, ov)
		} else {
			out.elements[id] = cloneValue(ov)
		}
	}
	return out
}
