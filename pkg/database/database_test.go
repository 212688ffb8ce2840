package database

import (
	"context"
	"testing"

	"github.com/cuemby/eidetica/pkg/auth"
	"github.com/cuemby/eidetica/pkg/backend/membackend"
	"github.com/cuemby/eidetica/pkg/crdt"
	"github.com/cuemby/eidetica/pkg/identity"
	"github.com/cuemby/eidetica/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBootstrapsNameAndAdminKey(t *testing.T) {
	ctx := context.Background()
	b := membackend.New()
	priv, err := identity.GenerateKey()
	require.NoError(t, err)

	db, err := Create(ctx, b, priv, "notes")
	require.NoError(t, err)
	assert.False(t, db.Root().IsEmpty())

	name, err := db.GetName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "notes", name)

	settings, err := db.GetSettings(ctx)
	require.NoError(t, err)
	key, err := settings.GetKeyByPubkey(priv.PublicKey().ToPrefixedString())
	require.NoError(t, err)
	assert.Equal(t, auth.AdminPermission(0), key.Permission)
	assert.Equal(t, auth.StatusActive, key.Status)
}

func TestCreateIsCollisionResistantAcrossIdenticalBootstraps(t *testing.T) {
	ctx := context.Background()
	b := membackend.New()
	priv, err := identity.GenerateKey()
	require.NoError(t, err)

	first, err := Create(ctx, b, priv, "same-name")
	require.NoError(t, err)
	second, err := Create(ctx, b, priv, "same-name")
	require.NoError(t, err)

	assert.NotEqual(t, first.Root(), second.Root())
}

func TestTransactionWriteThroughGetStore(t *testing.T) {
	ctx := context.Background()
	b := membackend.New()
	priv, err := identity.GenerateKey()
	require.NoError(t, err)

	db, err := Create(ctx, b, priv, "notes")
	require.NoError(t, err)

	tx, err := db.NewTransaction(ctx)
	require.NoError(t, err)
	s, err := tx.GetStore(ctx, "data")
	require.NoError(t, err)
	require.NoError(t, s.Set("title", crdt.TextValue("hello")))
	_, err = tx.Commit(ctx)
	require.NoError(t, err)

	tx2, err := db.NewTransaction(ctx)
	require.NoError(t, err)
	viewer, err := tx2.GetStoreViewer(ctx, "data")
	require.NoError(t, err)
	v, ok := viewer.Get("title")
	require.True(t, ok)
	text, _ := v.Text()
	assert.Equal(t, "hello", text)
	assert.True(t, viewer.ReadOnly())
	assert.Error(t, viewer.Set("title", crdt.TextValue("nope")))
}

func TestTypedStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := membackend.New()
	priv, err := identity.GenerateKey()
	require.NoError(t, err)

	db, err := Create(ctx, b, priv, "notes")
	require.NoError(t, err)

	type record struct {
		Count int `json:"count"`
	}

	tx, err := db.NewTransaction(ctx)
	require.NoError(t, err)
	s, err := tx.GetStore(ctx, "data")
	require.NoError(t, err)
	require.NoError(t, store.Set(s, "rec", record{Count: 3}))
	_, err = tx.Commit(ctx)
	require.NoError(t, err)

	tx2, err := db.NewTransaction(ctx)
	require.NoError(t, err)
	viewer, err := tx2.GetStoreViewer(ctx, "data")
	require.NoError(t, err)
	got, err := store.Get[record](viewer, "rec")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Count)
}

func TestFindSigKeysFindsDirectAdminKey(t *testing.T) {
	ctx := context.Background()
	b := membackend.New()
	priv, err := identity.GenerateKey()
	require.NoError(t, err)

	db, err := Create(ctx, b, priv, "notes")
	require.NoError(t, err)

	keys, err := FindSigKeys(ctx, b, db.Root(), priv.PublicKey().ToPrefixedString())
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, auth.AdminPermission(0), keys[0].Permission)
}

func TestFindSigKeysEmptyForUnknownPubkey(t *testing.T) {
	ctx := context.Background()
	b := membackend.New()
	priv, err := identity.GenerateKey()
	require.NoError(t, err)
	other, err := identity.GenerateKey()
	require.NoError(t, err)

	db, err := Create(ctx, b, priv, "notes")
	require.NoError(t, err)

	keys, err := FindSigKeys(ctx, b, db.Root(), other.PublicKey().ToPrefixedString())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDatabaseStoreViewerReadsCommittedState(t *testing.T) {
	ctx := context.Background()
	b := membackend.New()
	priv, err := identity.GenerateKey()
	require.NoError(t, err)

	db, err := Create(ctx, b, priv, "notes")
	require.NoError(t, err)

	tx, err := db.NewTransaction(ctx)
	require.NoError(t, err)
	s, err := tx.GetStore(ctx, "data")
	require.NoError(t, err)
	require.NoError(t, s.Set("title", crdt.TextValue("hello")))
	_, err = tx.Commit(ctx)
	require.NoError(t, err)

	viewer, err := db.GetStoreViewer(ctx, "data")
	require.NoError(t, err)
	assert.True(t, viewer.ReadOnly())
	v, ok := viewer.Get("title")
	require.True(t, ok)
	text, _ := v.Text()
	assert.Equal(t, "hello", text)
	assert.Error(t, viewer.Set("title", crdt.TextValue("nope")))
}

func TestDatabaseFindSigKeysMethodMatchesFreeFunction(t *testing.T) {
	ctx := context.Background()
	b := membackend.New()
	priv, err := identity.GenerateKey()
	require.NoError(t, err)

	db, err := Create(ctx, b, priv, "notes")
	require.NoError(t, err)

	pub := priv.PublicKey().ToPrefixedString()
	viaMethod, err := db.FindSigKeys(ctx, pub)
	require.NoError(t, err)
	viaFunc, err := FindSigKeys(ctx, b, db.Root(), pub)
	require.NoError(t, err)
	assert.Equal(t, viaFunc, viaMethod)
}
