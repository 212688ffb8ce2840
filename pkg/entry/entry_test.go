package entry

import (
	"encoding/json"
	"testing"

	"github.com/cuemby/eidetica/pkg/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sig(hint string) SigInfo { return SigInfo{Key: DirectSigKey(hint)} }

func TestEntryIDStableAcrossReserialization(t *testing.T) {
	e := &Entry{
		Version: CurrentVersion,
		Tree:    TreeNode{Root: id.Empty, Height: 0},
		Sig:     sig("k1"),
	}
	eid1, err := e.ID()
	require.NoError(t, err)

	raw, err := e.CanonicalBytes()
	require.NoError(t, err)

	back := &Entry{}
	require.NoError(t, json.Unmarshal(raw, back))

	eid2, err := back.ID()
	require.NoError(t, err)
	assert.Equal(t, eid1, eid2)

	raw2, err := back.CanonicalBytes()
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(raw2))
}

func TestSigningBytesExcludeSignature(t *testing.T) {
	signed := "a-signature"
	e := &Entry{
		Version: CurrentVersion,
		Tree:    TreeNode{Root: id.Empty, Height: 0},
		Sig:     SigInfo{Key: DirectSigKey("k1"), Sig: &signed},
	}
	unsigned := &Entry{
		Version: CurrentVersion,
		Tree:    TreeNode{Root: id.Empty, Height: 0},
		Sig:     SigInfo{Key: DirectSigKey("k1")},
	}

	signingBytes, err := e.SigningBytes()
	require.NoError(t, err)
	unsignedBytes, err := unsigned.CanonicalBytes()
	require.NoError(t, err)
	assert.JSONEq(t, string(unsignedBytes), string(signingBytes))

	fullBytes, err := e.CanonicalBytes()
	require.NoError(t, err)
	assert.NotEqual(t, string(fullBytes), string(signingBytes))
}

func TestTwoRootsWithDifferentMetadataHaveDifferentIDs(t *testing.T) {
	meta1 := "meta-1"
	meta2 := "meta-2"
	e1 := &Entry{Version: CurrentVersion, Tree: TreeNode{Root: id.Empty, Metadata: &meta1}, Sig: sig("k1")}
	e2 := &Entry{Version: CurrentVersion, Tree: TreeNode{Root: id.Empty, Metadata: &meta2}, Sig: sig("k1")}

	id1, err := e1.ID()
	require.NoError(t, err)
	id2, err := e2.ID()
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestIsRootAndIsToplevelRoot(t *testing.T) {
	root := &Entry{Version: CurrentVersion, Tree: TreeNode{Root: id.Empty}, Sig: sig("k1")}
	assert.True(t, root.IsRoot())
	assert.True(t, root.IsToplevelRoot())

	nonToplevel := &Entry{Version: CurrentVersion, Tree: TreeNode{Root: "some-tree"}, Sig: sig("k1")}
	assert.True(t, nonToplevel.IsRoot())
	assert.False(t, nonToplevel.IsToplevelRoot(), "a root within an existing tree is not a brand-new top-level root")

	child := &Entry{Version: CurrentVersion, Tree: TreeNode{Root: "some-tree", Parents: []id.ID{"p1"}}, Sig: sig("k1")}
	assert.False(t, child.IsRoot())
}

func TestInTree(t *testing.T) {
	child := &Entry{Version: CurrentVersion, Tree: TreeNode{Root: "tree-a", Parents: []id.ID{"p1"}}, Sig: sig("k1")}
	assert.True(t, child.InTree("tree-a"))
	assert.False(t, child.InTree("tree-b"))

	root := &Entry{Version: CurrentVersion, Tree: TreeNode{Root: id.Empty}, Sig: sig("k1")}
	rootID, err := root.ID()
	require.NoError(t, err)
	assert.True(t, root.InTree(rootID))
}

func TestSubtreeLookupAndNames(t *testing.T) {
	e := &Entry{
		Version: CurrentVersion,
		Tree:    TreeNode{Root: id.Empty},
		Subtrees: []SubTreeNode{
			{Name: "alpha"},
			{Name: "beta"},
		},
		Sig: sig("k1"),
	}
	st, ok := e.Subtree("beta")
	require.True(t, ok)
	assert.Equal(t, "beta", st.Name)

	_, ok = e.Subtree("missing")
	assert.False(t, ok)

	assert.True(t, e.InSubtree("alpha"))
	assert.False(t, e.InSubtree("missing"))
	assert.Equal(t, []string{"alpha", "beta"}, e.SubtreeNames())
}

func TestValidateRejectsUnknownVersion(t *testing.T) {
	e := &Entry{Version: 99, Tree: TreeNode{Root: id.Empty}, Sig: sig("k1")}
	assert.Error(t, e.Validate())
}

func TestValidateRejectsUnsortedParents(t *testing.T) {
	e := &Entry{
		Version: CurrentVersion,
		Tree:    TreeNode{Root: "tree", Parents: []id.ID{"b", "a"}},
		Sig:     sig("k1"),
	}
	assert.Error(t, e.Validate())
}

func TestValidateRejectsDuplicateParents(t *testing.T) {
	e := &Entry{
		Version: CurrentVersion,
		Tree:    TreeNode{Root: "tree", Parents: []id.ID{"a", "a", "b"}},
		Sig:     sig("k1"),
	}
	assert.Error(t, e.Validate())
}

func TestValidateRejectsTopLevelRootWithParents(t *testing.T) {
	e := &Entry{
		Version: CurrentVersion,
		Tree:    TreeNode{Root: id.Empty, Parents: []id.ID{"a"}},
		Sig:     sig("k1"),
	}
	assert.Error(t, e.Validate())
}

func TestValidateRejectsUnsortedSubtrees(t *testing.T) {
	e := &Entry{
		Version: CurrentVersion,
		Tree:    TreeNode{Root: "tree"},
		Subtrees: []SubTreeNode{
			{Name: "beta"},
			{Name: "alpha"},
		},
		Sig: sig("k1"),
	}
	assert.Error(t, e.Validate())
}

func TestValidateRejectsDuplicateSubtreeNames(t *testing.T) {
	e := &Entry{
		Version: CurrentVersion,
		Tree:    TreeNode{Root: "tree"},
		Subtrees: []SubTreeNode{
			{Name: "alpha"},
			{Name: "alpha"},
		},
		Sig: sig("k1"),
	}
	assert.Error(t, e.Validate())
}

func TestValidateRejectsUnsortedSubtreeParents(t *testing.T) {
	e := &Entry{
		Version: CurrentVersion,
		Tree:    TreeNode{Root: "tree"},
		Subtrees: []SubTreeNode{
			{Name: "alpha", Parents: []id.ID{"b", "a"}},
		},
		Sig: sig("k1"),
	}
	assert.Error(t, e.Validate())
}

func TestValidateAcceptsWellFormedEntry(t *testing.T) {
	e := &Entry{
		Version: CurrentVersion,
		Tree:    TreeNode{Root: "tree", Parents: []id.ID{"a", "b"}, Height: 2},
		Subtrees: []SubTreeNode{
			{Name: "alpha", Parents: []id.ID{"a"}},
			{Name: "beta", Parents: []id.ID{"a", "b"}},
		},
		Sig: sig("k1"),
	}
	assert.NoError(t, e.Validate())
}
