// Package crdt implements Eidetica's CRDT document model: a recursive Node
// (map), an ordered List with stable element IDs, and the Doc façade over
// both. Merge is deterministic, commutative for structurally equal inputs,
// associative, and idempotent, per the laws in the accompanying tests.
package crdt

// Kind tags which field of a Value is populated. Go has no native sum
// types; this is the same tagged-struct pattern used by identity.PublicKey
// and auth.Permission elsewhere in this module.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindText
	KindList
	KindNode
	KindDeleted
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindText:
		return "text"
	case KindList:
		return "list"
	case KindNode:
		return "node"
	case KindDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Value is one entry in a Node or List: a scalar, a nested Node, a List, or
// a tombstone.
type Value struct {
	kind Kind
	b    bool
	i    int64
	text string
	list *List
	node *Node
}

// NullValue returns an explicit JSON-null value (distinct from absence).
func NullValue() Value { return Value{kind: KindNull} }

// BoolValue wraps a bool.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// IntValue wraps an int64.
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }

// TextValue wraps a string.
func TextValue(s string) Value { return Value{kind: KindText, text: s} }

// NodeValue wraps a nested Node.
func NodeValue(n *Node) Value { return Value{kind: KindNode, node: n} }

// ListValue wraps a List.
func ListValue(l *List) Value { return Value{kind: KindList, list: l} }

// DeletedValue is a tombstone marker.
func DeletedValue() Value { return Value{kind: KindDeleted} }

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// IsTombstone reports whether v is a deletion marker.
func (v Value) IsTombstone() bool { return v.kind == KindDeleted }

// Bool returns v's bool payload and whether v is actually a bool.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Int returns v's int payload and whether v is actually an int.
func (v Value) Int() (int64, bool) { return v.i, v.kind == KindInt }

// Text returns v's text payload and whether v is actually text.
func (v Value) Text() (string, bool) { return v.text, v.kind == KindText }

// Node returns v's nested Node and whether v is actually a node.
func (v Value) Node() (*Node, bool) { return v.node, v.kind == KindNode }

// List returns v's List and whether v is actually a list.
func (v Value) List() (*List, bool) { return v.list, v.kind == KindList }

// mergeValue resolves a same-key conflict between two Values present on
// both sides of a merge. Node and Node recurse, List and List recurse;
// every other combination (including any tombstone combination) resolves
// to b: the right-hand operand wins, since a standalone two-Value merge
// has no causal clock to consult. Backends apply merges across tips in a
// fixed, sorted order so the overall DAG-level merge is still
// deterministic regardless of which branch a reader visits first (see
// backend.MergeMergedState).
func mergeValue(a, b Value) Value {
	if a.kind == KindNode && b.kind == KindNode {
		return NodeValue(a.node.Merge(b.node))
	}
	if a.kind == KindList && b.kind == KindList {
		return ListValue(a.list.Merge(b.list))
	}
	return b
}
