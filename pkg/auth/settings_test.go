package auth

import (
	"testing"

	"github.com/cuemby/eidetica/pkg/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPubkeyA = "ed25519:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
const testPubkeyB = "ed25519:AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE"

func TestSettingsAddAndGetKey(t *testing.T) {
	s := NewSettings(nil)
	name := "laptop"
	require.NoError(t, s.AddKey(testPubkeyA, AuthKey{
		Name:       &name,
		Pubkey:     testPubkeyA,
		Permission: WritePermission(5),
		Status:     StatusActive,
	}))

	got, err := s.GetKeyByPubkey(testPubkeyA)
	require.NoError(t, err)
	assert.Equal(t, testPubkeyA, got.Pubkey)
	assert.True(t, got.Permission.Equal(WritePermission(5)))
	assert.Equal(t, StatusActive, got.Status)
}

func TestSettingsAddKeyRejectsDuplicate(t *testing.T) {
	s := NewSettings(nil)
	key := AuthKey{Pubkey: testPubkeyA, Permission: ReadPermission(), Status: StatusActive}
	require.NoError(t, s.AddKey(testPubkeyA, key))
	err := s.AddKey(testPubkeyA, key)
	assert.Error(t, err)
}

func TestSettingsOverwriteKey(t *testing.T) {
	s := NewSettings(nil)
	require.NoError(t, s.AddKey(testPubkeyA, AuthKey{Pubkey: testPubkeyA, Permission: ReadPermission(), Status: StatusActive}))
	require.NoError(t, s.OverwriteKey(testPubkeyA, AuthKey{Pubkey: testPubkeyA, Permission: AdminPermission(0), Status: StatusActive}))
	got, err := s.GetKeyByPubkey(testPubkeyA)
	require.NoError(t, err)
	assert.True(t, got.Permission.Equal(AdminPermission(0)))
}

func TestSettingsRevokeKey(t *testing.T) {
	s := NewSettings(nil)
	require.NoError(t, s.AddKey(testPubkeyA, AuthKey{Pubkey: testPubkeyA, Permission: WritePermission(1), Status: StatusActive}))
	require.NoError(t, s.RevokeKey(testPubkeyA))
	got, err := s.GetKeyByPubkey(testPubkeyA)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, got.Status)
}

func TestSettingsFindKeysByName(t *testing.T) {
	s := NewSettings(nil)
	name := "shared-name"
	require.NoError(t, s.AddKey(testPubkeyA, AuthKey{Name: &name, Pubkey: testPubkeyA, Permission: ReadPermission(), Status: StatusActive}))
	require.NoError(t, s.AddKey(testPubkeyB, AuthKey{Name: &name, Pubkey: testPubkeyB, Permission: ReadPermission(), Status: StatusActive}))
	matches := s.FindKeysByName(name)
	require.Len(t, matches, 2)
	assert.True(t, matches[0].Pubkey < matches[1].Pubkey)
}

func TestSettingsGlobalPermission(t *testing.T) {
	s := NewSettings(nil)
	assert.False(t, s.HasGlobalPermission())
	require.NoError(t, s.AddKey(GlobalPubkey, AuthKey{Pubkey: GlobalPubkey, Permission: WritePermission(5), Status: StatusActive}))
	assert.True(t, s.HasGlobalPermission())
	assert.True(t, s.GlobalPermissionGrantsAccess(ReadPermission()))
	assert.True(t, s.GlobalPermissionGrantsAccess(WritePermission(5)))
	assert.False(t, s.GlobalPermissionGrantsAccess(AdminPermission(0)))
}

func TestSettingsCanAccess(t *testing.T) {
	s := NewSettings(nil)
	require.NoError(t, s.AddKey(testPubkeyA, AuthKey{Pubkey: testPubkeyA, Permission: WritePermission(5), Status: StatusActive}))
	assert.True(t, s.CanAccess(testPubkeyA, ReadPermission()))
	assert.True(t, s.CanAccess(testPubkeyA, WritePermission(5)))
	assert.False(t, s.CanAccess(testPubkeyA, AdminPermission(0)))
	assert.False(t, s.CanAccess(testPubkeyB, ReadPermission()))

	require.NoError(t, s.AddKey(GlobalPubkey, AuthKey{Pubkey: GlobalPubkey, Permission: ReadPermission(), Status: StatusActive}))
	assert.True(t, s.CanAccess(testPubkeyB, ReadPermission()))
}

func TestSettingsDelegatedTrees(t *testing.T) {
	s := NewSettings(nil)
	root := id.ID("deadbeef")
	ref := DelegatedTreeRef{
		PermissionBounds: PermissionBounds{Max: WritePermission(0), Min: permPtr(WritePermission(7))},
		Tree:             TreeReference{Root: root, Tips: []id.ID{"tip1", "tip2"}},
	}
	require.NoError(t, s.AddDelegatedTree(ref))
	got, err := s.GetDelegatedTree(root)
	require.NoError(t, err)
	assert.Equal(t, root, got.Tree.Root)
	assert.ElementsMatch(t, []id.ID{"tip1", "tip2"}, got.Tree.Tips)
	assert.True(t, got.PermissionBounds.Max.Equal(WritePermission(0)))
	require.NotNil(t, got.PermissionBounds.Min)
	assert.True(t, got.PermissionBounds.Min.Equal(WritePermission(7)))

	all, err := s.GetAllDelegatedTrees()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSettingsFindAllSigKeysForPubkeySortedByPermission(t *testing.T) {
	s := NewSettings(nil)
	require.NoError(t, s.AddKey(testPubkeyA, AuthKey{Pubkey: testPubkeyA, Permission: WritePermission(5), Status: StatusActive}))
	require.NoError(t, s.AddKey(GlobalPubkey, AuthKey{Pubkey: GlobalPubkey, Permission: AdminPermission(0), Status: StatusActive}))

	matches := s.FindAllSigKeysForPubkey(testPubkeyA)
	require.Len(t, matches, 2)
	assert.True(t, matches[0].Permission.GreaterOrEqual(matches[1].Permission))
}

func TestSettingsCanModifyAndCreateKey(t *testing.T) {
	s := NewSettings(nil)
	require.NoError(t, s.AddKey(testPubkeyA, AuthKey{Pubkey: testPubkeyA, Permission: WritePermission(5), Status: StatusActive}))

	nonAdmin := ResolvedAuth{EffectivePermission: WritePermission(0), KeyStatus: StatusActive}
	ok, err := s.CanModifyKey(nonAdmin, testPubkeyA)
	require.NoError(t, err)
	assert.False(t, ok)

	admin := ResolvedAuth{EffectivePermission: AdminPermission(0), KeyStatus: StatusActive}
	ok, err = s.CanModifyKey(admin, testPubkeyA)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, s.CanCreateKey(admin, WritePermission(10)))
	assert.False(t, s.CanCreateKey(nonAdmin, WritePermission(10)))
}
