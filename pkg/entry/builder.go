package entry

import (
	"github.com/cuemby/eidetica/pkg/crdt"
	"github.com/cuemby/eidetica/pkg/eideticaerr"
	"github.com/cuemby/eidetica/pkg/id"
)

type stagedSubtree struct {
	parents []id.ID
	data    *string
	height  *uint64
}

// Builder assembles an Entry step by step and performs build-time cleanup
// and structural validation. Transactions are the usual caller; tests may
// also drive it directly.
type Builder struct {
	root     id.ID
	parents  []id.ID
	metadata *string
	height   uint64
	subtrees map[string]*stagedSubtree
	sig      SigInfo
}

// NewBuilder starts building an Entry belonging to the Database rooted at
// root (id.Empty for a brand-new top-level root).
func NewBuilder(root id.ID) *Builder {
	return &Builder{root: root, subtrees: make(map[string]*stagedSubtree)}
}

// SetParents stages the main-tree parent list.
func (b *Builder) SetParents(parents []id.ID) *Builder {
	b.parents = append([]id.ID(nil), parents...)
	return b
}

// SetMetadata stages optional, never-merged root-entry hint data.
func (b *Builder) SetMetadata(metadata string) *Builder {
	b.metadata = &metadata
	return b
}

// SetHeight stages the main-tree height (normally 1 + max(parent heights),
// computed by the caller since only it has backend access).
func (b *Builder) SetHeight(height uint64) *Builder {
	b.height = height
	return b
}

func (b *Builder) subtree(name string) *stagedSubtree {
	s, ok := b.subtrees[name]
	if !ok {
		s = &stagedSubtree{}
		b.subtrees[name] = s
	}
	return s
}

// SetSubtreeData stages serialized store data for name.
func (b *Builder) SetSubtreeData(name, data string) *Builder {
	b.subtree(name).data = &data
	return b
}

// ClearSubtreeData marks name as explicitly cleared (Some("")), distinct
// from never having staged data for it at all (None).
func (b *Builder) ClearSubtreeData(name string) *Builder {
	empty := ""
	b.subtree(name).data = &empty
	return b
}

// SetSubtreeParents stages name's store-scoped parent list.
func (b *Builder) SetSubtreeParents(name string, parents []id.ID) *Builder {
	b.subtree(name).parents = append([]id.ID(nil), parents...)
	return b
}

// SetSubtreeHeight stages name's store-scoped height.
func (b *Builder) SetSubtreeHeight(name string, height uint64) *Builder {
	h := height
	b.subtree(name).height = &h
	return b
}

// SetSig stages the signature info (key reference now, raw signature bytes
// added once the unsigned form has been computed and signed).
func (b *Builder) SetSig(sig SigInfo) *Builder {
	b.sig = sig
	return b
}

// indexReferencedSubtrees returns the set of store names the locally
// staged _index store's Doc references at its top level. Returns an error
// only if _index has staged, non-empty data that fails to parse as a Doc.
func (b *Builder) indexReferencedSubtrees() (map[string]bool, error) {
	idx, ok := b.subtrees[ReservedIndexStore]
	if !ok || idx.data == nil || *idx.data == "" {
		return nil, nil
	}
	doc := crdt.NewDoc()
	if err := doc.UnmarshalJSON([]byte(*idx.data)); err != nil {
		return nil, eideticaerr.Wrap(eideticaerr.KindEntryInvalidIndexData, "parse _index store data", err)
	}
	referenced := make(map[string]bool)
	for _, k := range doc.Keys() {
		referenced[k] = true
	}
	return referenced, nil
}

// Build assembles, cleans up, sorts, and structurally validates the final
// Entry.
//
// Build-time cleanup: a subtree staged with empty-string data is always
// discarded; a subtree staged with no data at all is kept (with no data,
// just updated parents/height) only if its name is index-referenced, and
// discarded otherwise; any other staged data is kept as-is.
func (b *Builder) Build() (*Entry, error) {
	referenced, err := b.indexReferencedSubtrees()
	if err != nil {
		return nil, err
	}

	var subtrees []SubTreeNode
	for name, staged := range b.subtrees {
		if staged.data != nil && *staged.data == "" {
			continue
		}
		if staged.data == nil && !referenced[name] {
			continue
		}
		subtrees = append(subtrees, SubTreeNode{
			Name:    name,
			Parents: id.SortDedup(append([]id.ID(nil), staged.parents...)),
			Data:    staged.data,
			Height:  staged.height,
		})
	}
	sortSubtrees(subtrees)

	e := &Entry{
		Version: CurrentVersion,
		Tree: TreeNode{
			Root:     b.root,
			Parents:  id.SortDedup(append([]id.ID(nil), b.parents...)),
			Metadata: b.metadata,
			Height:   b.height,
		},
		Subtrees: subtrees,
		Sig:      b.sig,
	}

	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func sortSubtrees(s []SubTreeNode) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1].Name > s[j].Name; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
