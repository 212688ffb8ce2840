package boltbackend

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"testing"

	"github.com/cuemby/eidetica/pkg/crdt"
	"github.com/cuemby/eidetica/pkg/entry"
	"github.com/cuemby/eidetica/pkg/id"
	"github.com/cuemby/eidetica/pkg/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStore = "data"

func openTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(filepath.Join(t.TempDir(), "eidetica.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func signedEntry(t *testing.T, priv identity.PrivateKey, b *entry.Builder) (*entry.Entry, id.ID) {
	t.Helper()
	b.SetSig(entry.SigInfo{Key: entry.DirectSigKey(priv.PublicKey().ToPrefixedString())})
	e, err := b.Build()
	require.NoError(t, err)

	signingBytes, err := e.SigningBytes()
	require.NoError(t, err)
	sig, err := priv.Sign(signingBytes)
	require.NoError(t, err)
	sigStr := base64.StdEncoding.EncodeToString(sig)
	e.Sig.Sig = &sigStr

	eid, err := e.ID()
	require.NoError(t, err)
	return e, eid
}

func docData(t *testing.T, pairs map[string]string) string {
	t.Helper()
	doc := crdt.NewDoc()
	for k, v := range pairs {
		doc.Set(k, crdt.TextValue(v))
	}
	raw, err := doc.MarshalJSON()
	require.NoError(t, err)
	return string(raw)
}

func put(t *testing.T, ctx context.Context, b *Backend, e *entry.Entry) {
	t.Helper()
	require.NoError(t, b.PutVerified(ctx, e))
}

// TestDiamondMerge runs the diamond-merge scenario against the bolt-backed
// implementation, the same as membackend's TestDiamondMerge.
func TestDiamondMerge(t *testing.T) {
	ctx := context.Background()
	priv, err := identity.GenerateKey()
	require.NoError(t, err)
	b := openTestBackend(t)

	r, rid := signedEntry(t, priv, entry.NewBuilder(id.Empty).
		SetHeight(0).
		SetSubtreeData(testStore, docData(t, map[string]string{"base": "initial"})).
		SetSubtreeHeight(testStore, 0))
	put(t, ctx, b, r)

	l, lid := signedEntry(t, priv, entry.NewBuilder(rid).
		SetParents([]id.ID{rid}).
		SetHeight(1).
		SetSubtreeData(testStore, docData(t, map[string]string{"left": "L", "shared": "left"})).
		SetSubtreeParents(testStore, []id.ID{rid}).
		SetSubtreeHeight(testStore, 1))
	put(t, ctx, b, l)

	rg, rgid := signedEntry(t, priv, entry.NewBuilder(rid).
		SetParents([]id.ID{rid}).
		SetHeight(1).
		SetSubtreeData(testStore, docData(t, map[string]string{"right": "R", "shared": "right"})).
		SetSubtreeParents(testStore, []id.ID{rid}).
		SetSubtreeHeight(testStore, 1))
	put(t, ctx, b, rg)

	doc, err := b.GetMergedState(ctx, rid, testStore, []id.ID{lid, rgid})
	require.NoError(t, err)

	base, ok := doc.Get("base")
	require.True(t, ok)
	text, _ := base.Text()
	assert.Equal(t, "initial", text)

	mergeBase, err := b.FindMergeBase(ctx, rid, testStore, []id.ID{lid, rgid})
	require.NoError(t, err)
	assert.Equal(t, rid, mergeBase)
}

// TestPutVerifiedIsIdempotentAcrossReopen checks that entries persist to
// disk: closing and reopening the same bolt file must still find them, and
// re-putting the same entry must not error or duplicate.
func TestPutVerifiedIsIdempotentAcrossReopen(t *testing.T) {
	ctx := context.Background()
	priv, err := identity.GenerateKey()
	require.NoError(t, err)
	dir := t.TempDir()
	path := filepath.Join(dir, "eidetica.db")

	b, err := Open(path)
	require.NoError(t, err)

	r, rid := signedEntry(t, priv, entry.NewBuilder(id.Empty).SetHeight(0))
	put(t, ctx, b, r)
	require.NoError(t, b.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, rid)
	require.NoError(t, err)
	gotID, err := got.ID()
	require.NoError(t, err)
	assert.Equal(t, rid, gotID)

	// Re-putting the same already-persisted entry must be a no-op, not an
	// error.
	require.NoError(t, reopened.PutVerified(ctx, r))
}

func TestValidatePassesForCorrectlySignedEntry(t *testing.T) {
	ctx := context.Background()
	priv, err := identity.GenerateKey()
	require.NoError(t, err)
	b := openTestBackend(t)

	e, _ := signedEntry(t, priv, entry.NewBuilder(id.Empty).SetHeight(0))
	assert.NoError(t, b.Validate(ctx, e, priv.PublicKey()))
}

func TestGetMissingEntry(t *testing.T) {
	b := openTestBackend(t)
	_, err := b.Get(context.Background(), id.ID("nope"))
	assert.Error(t, err)
}
