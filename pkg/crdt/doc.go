package crdt

import (
	"github.com/cuemby/eidetica/pkg/eideticaerr"
)

// Doc is a rooted Node carried inside an Entry's RawData for a given
// store, and the public face of this package.
type Doc struct {
	root *Node
}

// NewDoc returns an empty Doc.
func NewDoc() *Doc {
	return &Doc{root: NewNode()}
}

// FromNode wraps an existing Node as a Doc's root.
func FromNode(n *Node) *Doc {
	if n == nil {
		n = NewNode()
	}
	return &Doc{root: n}
}

// Root exposes the underlying root Node, e.g. for Value construction that
// needs to nest a Doc inside another Doc as a KindNode value.
func (d *Doc) Root() *Node { return d.root }

// Clone returns a deep copy of d. Backends return their cached merged Doc
// itself; Transaction.GetFullState and Database.GetSettings/GetStoreViewer
// Clone it before handing it on, so a caller mutation never reaches the
// shared cache entry.
func (d *Doc) Clone() *Doc {
	return &Doc{root: d.root.Clone()}
}

// Get returns the live value at the top-level key.
func (d *Doc) Get(key string) (Value, bool) { return d.root.Get(key) }

// Set stores value at the top-level key.
func (d *Doc) Set(key string, value Value) { d.root.Set(key, value) }

// Remove tombstones the top-level key.
func (d *Doc) Remove(key string) { d.root.Remove(key) }

// Delete is an alias for Remove.
func (d *Doc) Delete(key string) { d.root.Delete(key) }

// IsTombstone reports whether the exact path is recorded as deleted.
// Traversal through a deleted intermediate node returns false for the
// deeper path (GetPath already returns not-found there); only the deleted
// node itself reports true.
func (d *Doc) IsTombstone(path string) bool {
	p, err := NewPath(path)
	if err != nil {
		return false
	}
	comps := p.Components()
	cur := d.root
	for i, c := range comps {
		last := i == len(comps)-1
		if last {
			return cur.IsTombstone(c)
		}
		v, ok := cur.fields[c]
		if !ok {
			return false
		}
		node, isNode := v.Node()
		if !isNode {
			return false
		}
		cur = node
	}
	return false
}

// Keys returns the Doc's live top-level keys.
func (d *Doc) Keys() []string { return d.root.Keys() }

// Values returns the Doc's live top-level values.
func (d *Doc) Values() []Value { return d.root.Values() }

// Len returns the number of live top-level keys.
func (d *Doc) Len() int { return d.root.Len() }

// IsEmpty reports whether the Doc has no live top-level keys.
func (d *Doc) IsEmpty() bool { return d.root.IsEmpty() }

// GetPath walks a dotted path, returning false if any component is absent
// or an intermediate segment is a tombstone.
func (d *Doc) GetPath(path string) (Value, bool, error) {
	p, err := NewPath(path)
	if err != nil {
		return Value{}, false, err
	}
	cur := d.root
	comps := p.Components()
	for i, c := range comps {
		v, ok := cur.Get(c)
		if !ok {
			return Value{}, false, nil
		}
		if i == len(comps)-1 {
			return v, true, nil
		}
		node, isNode := v.Node()
		if !isNode {
			return Value{}, false, nil
		}
		cur = node
	}
	return Value{}, false, nil
}

// SetPath creates intermediate Nodes as needed, replacing scalars (and
// tombstones) with fresh Nodes when the path must continue through them.
// Setting the empty path requires value to be a KindNode.
func (d *Doc) SetPath(path string, value Value) error {
	if path == "" {
		n, isNode := value.Node()
		if !isNode {
			return eideticaerr.New(eideticaerr.KindCRDTTypeMismatch, "setting the empty path requires a node value")
		}
		d.root = n
		return nil
	}
	p, err := NewPath(path)
	if err != nil {
		return err
	}
	comps := p.Components()
	cur := d.root
	for _, c := range comps[:len(comps)-1] {
		v, ok := cur.fields[c]
		var next *Node
		if ok {
			if n, isNode := v.Node(); isNode {
				next = n
			}
		}
		if next == nil {
			next = NewNode()
			cur.Set(c, NodeValue(next))
		}
		cur = next
	}
	cur.Set(comps[len(comps)-1], value)
	return nil
}

// GetPathAsText is the text-typed path-read convenience; additional typed
// accessors follow the same pattern.
func (d *Doc) GetPathAsText(path string) (string, bool, error) {
	v, ok, err := d.GetPath(path)
	if err != nil || !ok {
		return "", ok, err
	}
	s, isText := v.Text()
	if !isText {
		return "", false, eideticaerr.Newf(eideticaerr.KindCRDTTypeMismatch, "value at %q is not text", path)
	}
	return s, true, nil
}

// GetPathAsInt is the int64-typed counterpart to GetPathAsText.
func (d *Doc) GetPathAsInt(path string) (int64, bool, error) {
	v, ok, err := d.GetPath(path)
	if err != nil || !ok {
		return 0, ok, err
	}
	i, isInt := v.Int()
	if !isInt {
		return 0, false, eideticaerr.Newf(eideticaerr.KindCRDTTypeMismatch, "value at %q is not int", path)
	}
	return i, true, nil
}

// Merge returns a new Doc combining d and other.
func (d *Doc) Merge(other *Doc) *Doc {
	return &Doc{root: d.root.Merge(other.root)}
}

// With is a builder method: sets key to value and returns d for chaining.
func (d *Doc) With(key string, value Value) *Doc {
	d.Set(key, value)
	return d
}

func (d *Doc) WithText(key, value string) *Doc { return d.With(key, TextValue(value)) }
func (d *Doc) WithInt(key string, value int64) *Doc { return d.With(key, IntValue(value)) }
func (d *Doc) WithBool(key string, value bool) *Doc { return d.With(key, BoolValue(value)) }
func (d *Doc) WithNode(key string, value *Node) *Doc { return d.With(key, NodeValue(value)) }
func (d *Doc) WithList(key string, value *List) *Doc { return d.With(key, ListValue(value)) }

// List operations, delegating to the Value's underlying List.

func (d *Doc) listAt(key string) *List {
	v, ok := d.root.fields[key]
	if ok {
		if l, isList := v.List(); isList {
			return l
		}
	}
	l := NewList()
	d.root.Set(key, ListValue(l))
	return l
}

func (d *Doc) ListAdd(key string, value Value) string {
	return d.listAt(key).Add(value)
}

func (d *Doc) ListRemove(key, id string) bool {
	v, ok := d.root.fields[key]
	if !ok {
		return false
	}
	l, isList := v.List()
	if !isList {
		return false
	}
	return l.Remove(id)
}

func (d *Doc) ListGet(key, id string) (Value, bool) {
	v, ok := d.root.fields[key]
	if !ok {
		return Value{}, false
	}
	l, isList := v.List()
	if !isList {
		return Value{}, false
	}
	return l.Get(id)
}

func (d *Doc) ListIDs(key string) []string {
	v, ok := d.root.fields[key]
	if !ok {
		return nil
	}
	l, isList := v.List()
	if !isList {
		return nil
	}
	return l.IDs()
}

func (d *Doc) ListLen(key string) int {
	return len(d.ListIDs(key))
}

func (d *Doc) ListIsEmpty(key string) bool {
	return d.ListLen(key) == 0
}

func (d *Doc) ListClear(key string) {
	v, ok := d.root.fields[key]
	if !ok {
		return
	}
	if l, isList := v.List(); isList {
		l.Clear()
	}
}
