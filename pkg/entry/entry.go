// Package entry implements Eidetica's immutable, content-addressed Entry
// object: the sole persisted unit, carrying a main-tree node plus ordered
// named sub-tree nodes and a signature.
package entry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/cuemby/eidetica/pkg/eideticaerr"
	"github.com/cuemby/eidetica/pkg/id"
)

// CurrentVersion is the only Entry format tag this module knows how to
// build and validate.
const CurrentVersion uint32 = 1

// ReservedRootStore is the store name present on every top-level root
// Entry.
const ReservedRootStore = "_root"

// ReservedSettingsStore holds a Database's configuration Doc.
const ReservedSettingsStore = "_settings"

// ReservedIndexStore, when staged, names the set of stores whose presence
// must survive build-time cleanup even with no data of their own.
const ReservedIndexStore = "_index"

// TreeNode is the main-DAG component of an Entry.
type TreeNode struct {
	Root     id.ID
	Parents  []id.ID
	Metadata *string
	Height   uint64
}

type treeNodeWire struct {
	Root     id.ID   `json:"root"`
	Parents  []id.ID `json:"parents"`
	Metadata *string `json:"metadata,omitempty"`
	Height   uint64  `json:"height"`
}

func (t TreeNode) MarshalJSON() ([]byte, error) {
	parents := t.Parents
	if parents == nil {
		parents = []id.ID{}
	}
	return json.Marshal(treeNodeWire{Root: t.Root, Parents: parents, Metadata: t.Metadata, Height: t.Height})
}

func (t *TreeNode) UnmarshalJSON(data []byte) error {
	var w treeNodeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return eideticaerr.Wrap(eideticaerr.KindSerialize, "decode TreeNode", err)
	}
	t.Root, t.Parents, t.Metadata, t.Height = w.Root, w.Parents, w.Metadata, w.Height
	return nil
}

// SubTreeNode is one named store's snapshot within an Entry.
type SubTreeNode struct {
	Name    string
	Parents []id.ID
	// Data is nil for "no change, store parents only updated"; a pointer to
	// "" is distinct from nil and means "explicitly cleared". Both are
	// subject to build-time cleanup (see Builder.Build).
	Data   *string
	Height *uint64
}

type subTreeNodeWire struct {
	Name    string  `json:"name"`
	Parents []id.ID `json:"parents"`
	Data    *string `json:"data,omitempty"`
	Height  *uint64 `json:"height,omitempty"`
}

func (s SubTreeNode) MarshalJSON() ([]byte, error) {
	parents := s.Parents
	if parents == nil {
		parents = []id.ID{}
	}
	return json.Marshal(subTreeNodeWire{Name: s.Name, Parents: parents, Data: s.Data, Height: s.Height})
}

func (s *SubTreeNode) UnmarshalJSON(data []byte) error {
	var w subTreeNodeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return eideticaerr.Wrap(eideticaerr.KindSerialize, "decode SubTreeNode", err)
	}
	s.Name, s.Parents, s.Data, s.Height = w.Name, w.Parents, w.Data, w.Height
	return nil
}

// Entry is the immutable, signed, content-addressed unit of storage.
type Entry struct {
	Version  uint32
	Tree     TreeNode
	Subtrees []SubTreeNode
	Sig      SigInfo
}

type entryWire struct {
	Version  uint32        `json:"version"`
	Tree     TreeNode      `json:"tree"`
	Subtrees []SubTreeNode `json:"subtrees"`
	Sig      SigInfo       `json:"sig"`
}

func (e Entry) toWire() entryWire {
	subtrees := e.Subtrees
	if subtrees == nil {
		subtrees = []SubTreeNode{}
	}
	return entryWire{Version: e.Version, Tree: e.Tree, Subtrees: subtrees, Sig: e.Sig}
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.toWire())
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var w entryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return eideticaerr.Wrap(eideticaerr.KindSerialize, "decode Entry", err)
	}
	e.Version, e.Tree, e.Subtrees, e.Sig = w.Version, w.Tree, w.Subtrees, w.Sig
	return nil
}

// IsRoot reports whether e is a root Entry in its tree (no tree parents).
func (e *Entry) IsRoot() bool {
	return len(e.Tree.Parents) == 0
}

// IsToplevelRoot reports whether e is the root of a brand-new Database
// (tree.root is the empty synthetic ID).
func (e *Entry) IsToplevelRoot() bool {
	return e.Tree.Root.IsEmpty() && e.IsRoot()
}

// InSubtree reports whether e carries a SubTreeNode named name.
func (e *Entry) InSubtree(name string) bool {
	_, ok := e.Subtree(name)
	return ok
}

// InTree reports whether e belongs to the Database rooted at root: either e
// is itself that root, or e.Tree.Root == root.
func (e *Entry) InTree(root id.ID) bool {
	if e.IsToplevelRoot() {
		selfID, err := e.ID()
		return err == nil && selfID == root
	}
	return e.Tree.Root == root
}

// Subtree returns the named SubTreeNode, if present.
func (e *Entry) Subtree(name string) (*SubTreeNode, bool) {
	for i := range e.Subtrees {
		if e.Subtrees[i].Name == name {
			return &e.Subtrees[i], true
		}
	}
	return nil, false
}

// SubtreeNames returns the sorted list of store names carried by e.
func (e *Entry) SubtreeNames() []string {
	names := make([]string, len(e.Subtrees))
	for i, s := range e.Subtrees {
		names[i] = s.Name
	}
	return names
}

// CanonicalBytes returns the exact bytes this Entry hashes to for its ID:
// the full Entry (including sig.sig, if present) in field order
// version/tree/subtrees/sig.
func (e *Entry) CanonicalBytes() ([]byte, error) {
	b, err := json.Marshal(e.toWire())
	if err != nil {
		return nil, eideticaerr.Wrap(eideticaerr.KindSerialize, "marshal entry", err)
	}
	return b, nil
}

// CanonicalForSigning returns the Entry's bytes with sig.sig cleared: the
// form that is actually signed and actually verified.
func (e *Entry) CanonicalForSigning() ([]byte, error) {
	clone := *e
	clone.Sig.Sig = nil
	return clone.CanonicalBytes()
}

// SigningBytes is an alias for CanonicalForSigning.
func (e *Entry) SigningBytes() ([]byte, error) {
	return e.CanonicalForSigning()
}

// ID computes the Entry's content address: the lowercase hex SHA-256 digest
// of CanonicalBytes.
func (e *Entry) ID() (id.ID, error) {
	b, err := e.CanonicalBytes()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return id.ID(hex.EncodeToString(sum[:])), nil
}

// Validate checks the structural invariants an Entry must hold independent
// of any particular backend state: known version, sorted+deduplicated
// parent lists, subtrees sorted by name with no duplicate names, and a
// top-level root carries no tree parents. Signature verification needs
// auth context and is done by backend.Backend.Validate, which
// transaction.Transaction.Commit calls. Heights are not checked against
// the parents' heights, here or by Backend.Validate; Commit computes them
// from the parents when it builds an Entry.
func (e *Entry) Validate() error {
	if e.Version != CurrentVersion {
		return eideticaerr.Newf(eideticaerr.KindEntryValidationFailed, "unknown entry version %d", e.Version)
	}
	if !sort.SliceIsSorted(e.Tree.Parents, func(i, j int) bool { return e.Tree.Parents[i] < e.Tree.Parents[j] }) {
		return eideticaerr.New(eideticaerr.KindEntryValidationFailed, "tree parents not sorted")
	}
	if hasAdjacentDup(e.Tree.Parents) {
		return eideticaerr.New(eideticaerr.KindEntryValidationFailed, "tree parents contain duplicates")
	}
	if e.Tree.Root.IsEmpty() && len(e.Tree.Parents) != 0 {
		return eideticaerr.New(eideticaerr.KindEntryValidationFailed, "top-level root entry must not have parents")
	}
	seen := make(map[string]bool, len(e.Subtrees))
	for i, s := range e.Subtrees {
		if seen[s.Name] {
			return eideticaerr.Newf(eideticaerr.KindEntryValidationFailed, "duplicate subtree %q", s.Name)
		}
		seen[s.Name] = true
		if i > 0 && e.Subtrees[i-1].Name > s.Name {
			return eideticaerr.New(eideticaerr.KindEntryValidationFailed, "subtrees not sorted by name")
		}
		if hasAdjacentDup(s.Parents) || !sort.SliceIsSorted(s.Parents, func(a, b int) bool { return s.Parents[a] < s.Parents[b] }) {
			return eideticaerr.Newf(eideticaerr.KindEntryValidationFailed, "subtree %q parents not sorted/deduplicated", s.Name)
		}
	}
	return nil
}

func hasAdjacentDup(ids []id.ID) bool {
	for i := 1; i < len(ids); i++ {
		if ids[i] == ids[i-1] {
			return true
		}
	}
	return false
}
