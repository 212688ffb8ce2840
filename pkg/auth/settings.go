package auth

import (
	"sort"

	"github.com/cuemby/eidetica/pkg/crdt"
	"github.com/cuemby/eidetica/pkg/eideticaerr"
	"github.com/cuemby/eidetica/pkg/entry"
	"github.com/cuemby/eidetica/pkg/id"
	"github.com/cuemby/eidetica/pkg/identity"
)

// GlobalPubkey is the wildcard key name: its permission and status apply
// to any public key presented at verification time.
const GlobalPubkey = "*"

// Settings is a typed view over the Doc stored at a Database's
// `_settings.auth` path: it owns no data of its own, just reads/writes
// through to the wrapped Doc.
type Settings struct {
	doc *crdt.Doc
}

// NewSettings wraps doc as an auth Settings view. A nil doc is treated as
// an empty one.
func NewSettings(doc *crdt.Doc) *Settings {
	if doc == nil {
		doc = crdt.NewDoc()
	}
	return &Settings{doc: doc}
}

// Doc exposes the underlying Doc for direct access (e.g. so a Transaction
// can merge it back into `_settings`).
func (s *Settings) Doc() *crdt.Doc { return s.doc }

// AuthSettingsFromDoc extracts the "auth" subsection of a tree's whole
// `_settings` Doc as a Settings view. Returns an empty Settings if the
// subsection is absent.
func AuthSettingsFromDoc(doc *crdt.Doc) (*Settings, error) {
	if doc == nil {
		return NewSettings(nil), nil
	}
	v, ok := doc.Get("auth")
	if !ok {
		return NewSettings(nil), nil
	}
	n, isNode := v.Node()
	if !isNode {
		return nil, eideticaerr.New(eideticaerr.KindAuthInvalidConfiguration, "_settings.auth is not a node")
	}
	return NewSettings(crdt.FromNode(n)), nil
}

func validatePubkeyFormat(pubkey string) error {
	if pubkey == GlobalPubkey {
		return nil
	}
	_, err := identity.ParsePublicKey(pubkey)
	if err != nil {
		return eideticaerr.Wrap(eideticaerr.KindAuthInvalidKeyFormat, "invalid pubkey format", err)
	}
	return nil
}

func keyPath(pubkey string) string { return "keys." + pubkey }

// AddKey adds a new key, keyed by pubkey. Fails if a key already exists at
// that pubkey.
func (s *Settings) AddKey(pubkey string, key AuthKey) error {
	if err := validatePubkeyFormat(pubkey); err != nil {
		return err
	}
	if _, err := s.GetKeyByPubkey(pubkey); err == nil {
		return eideticaerr.Newf(eideticaerr.KindAuthKeyAlreadyExists, "key %q already exists", pubkey)
	}
	return s.doc.SetPath(keyPath(pubkey), authKeyToValue(key))
}

// OverwriteKey sets a key unconditionally, whether or not one already
// exists at pubkey.
func (s *Settings) OverwriteKey(pubkey string, key AuthKey) error {
	if err := validatePubkeyFormat(pubkey); err != nil {
		return err
	}
	return s.doc.SetPath(keyPath(pubkey), authKeyToValue(key))
}

// GetKeyByPubkey looks up the key stored under pubkey.
func (s *Settings) GetKeyByPubkey(pubkey string) (AuthKey, error) {
	v, ok, err := s.doc.GetPath(keyPath(pubkey))
	if err != nil {
		return AuthKey{}, err
	}
	if !ok {
		return AuthKey{}, eideticaerr.Newf(eideticaerr.KindAuthKeyNotFound, "no key for pubkey %q", pubkey)
	}
	return authKeyFromValue(v)
}

// GetAllKeys returns every configured key, keyed by pubkey.
func (s *Settings) GetAllKeys() (map[string]AuthKey, error) {
	out := make(map[string]AuthKey)
	keysVal, ok := s.doc.Get("keys")
	if !ok {
		return out, nil
	}
	keysNode, isNode := keysVal.Node()
	if !isNode {
		return out, nil
	}
	for _, pubkey := range keysNode.Keys() {
		v, _ := keysNode.Get(pubkey)
		ak, err := authKeyFromValue(v)
		if err != nil {
			continue
		}
		out[pubkey] = ak
	}
	return out, nil
}

// FindKeysByName returns every (pubkey, AuthKey) pair whose Name matches,
// sorted by pubkey for determinism.
func (s *Settings) FindKeysByName(name string) []struct {
	Pubkey string
	Key    AuthKey
} {
	all, _ := s.GetAllKeys()
	var out []struct {
		Pubkey string
		Key    AuthKey
	}
	for pubkey, ak := range all {
		if ak.Name != nil && *ak.Name == name {
			out = append(out, struct {
				Pubkey string
				Key    AuthKey
			}{Pubkey: pubkey, Key: ak})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pubkey < out[j].Pubkey })
	return out
}

// RevokeKey marks the key at pubkey as Revoked.
func (s *Settings) RevokeKey(pubkey string) error {
	ak, err := s.GetKeyByPubkey(pubkey)
	if err != nil {
		return err
	}
	ak.Status = StatusRevoked
	return s.doc.SetPath(keyPath(pubkey), authKeyToValue(ak))
}

func delegationPath(rootID id.ID) string { return "delegations." + string(rootID) }

// AddDelegatedTree adds or updates a delegation, keyed by the delegated
// tree's root ID.
func (s *Settings) AddDelegatedTree(ref DelegatedTreeRef) error {
	return s.doc.SetPath(delegationPath(ref.Tree.Root), delegatedTreeRefToValue(ref))
}

// GetDelegatedTree returns the delegation reference stored for rootID.
func (s *Settings) GetDelegatedTree(rootID id.ID) (DelegatedTreeRef, error) {
	v, ok, err := s.doc.GetPath(delegationPath(rootID))
	if err != nil {
		return DelegatedTreeRef{}, err
	}
	if !ok {
		return DelegatedTreeRef{}, eideticaerr.Newf(eideticaerr.KindAuthDelegationNotFound, "no delegation for tree %q", rootID)
	}
	return delegatedTreeRefFromValue(v)
}

// GetAllDelegatedTrees returns every delegation, keyed by root ID.
func (s *Settings) GetAllDelegatedTrees() (map[id.ID]DelegatedTreeRef, error) {
	out := make(map[id.ID]DelegatedTreeRef)
	delVal, ok := s.doc.Get("delegations")
	if !ok {
		return out, nil
	}
	delNode, isNode := delVal.Node()
	if !isNode {
		return out, nil
	}
	for _, rootStr := range delNode.Keys() {
		v, _ := delNode.Get(rootStr)
		ref, err := delegatedTreeRefFromValue(v)
		if err != nil {
			continue
		}
		out[id.ID(rootStr)] = ref
	}
	return out, nil
}

// HasGlobalPermission reports whether the "*" wildcard key exists and is
// Active.
func (s *Settings) HasGlobalPermission() bool {
	_, ok := s.GetGlobalPermission()
	return ok
}

// GetGlobalPermission returns the wildcard key's permission, if it exists
// and is Active.
func (s *Settings) GetGlobalPermission() (Permission, bool) {
	ak, err := s.GetKeyByPubkey(GlobalPubkey)
	if err != nil || ak.Status != StatusActive {
		return Permission{}, false
	}
	return ak.Permission, true
}

// GlobalPermissionGrantsAccess reports whether the wildcard permission, if
// any, grants at least requested.
func (s *Settings) GlobalPermissionGrantsAccess(requested Permission) bool {
	perm, ok := s.GetGlobalPermission()
	return ok && perm.GreaterOrEqual(requested)
}

// CanAccess reports whether pubkey (via a direct active key or the
// wildcard) can act with at least requested permission.
func (s *Settings) CanAccess(pubkey string, requested Permission) bool {
	if ak, err := s.GetKeyByPubkey(pubkey); err == nil && ak.Status == StatusActive && ak.Permission.GreaterOrEqual(requested) {
		return true
	}
	return s.GlobalPermissionGrantsAccess(requested)
}

// SigKeyPermission pairs a resolvable SigKey with the permission it would
// grant the caller.
type SigKeyPermission struct {
	SigKey     entry.SigKey
	Permission Permission
}

// FindAllSigKeysForPubkey enumerates every SigKey under which pubkey may
// act directly in this tree: a direct key entry and/or the wildcard. The
// delegation case is handled by database.FindSigKeys, which additionally
// recurses into delegated trees. Sorted by permission, highest first.
func (s *Settings) FindAllSigKeysForPubkey(pubkey string) []SigKeyPermission {
	var out []SigKeyPermission
	if ak, err := s.GetKeyByPubkey(pubkey); err == nil {
		out = append(out, SigKeyPermission{SigKey: entry.DirectSigKey(pubkey), Permission: ak.Permission})
	}
	if perm, ok := s.GetGlobalPermission(); ok {
		out = append(out, SigKeyPermission{SigKey: entry.DirectSigKey(GlobalPubkey), Permission: perm})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[j].Permission.Less(out[i].Permission) })
	return out
}

// ResolveSigKeyForOperation returns the highest-permission SigKey usable by
// pubkey directly in this tree.
func (s *Settings) ResolveSigKeyForOperation(pubkey string) (SigKeyPermission, error) {
	matches := s.FindAllSigKeysForPubkey(pubkey)
	if len(matches) == 0 {
		return SigKeyPermission{}, eideticaerr.Newf(eideticaerr.KindAuthPermissionDenied, "no active key found for pubkey %q", pubkey)
	}
	return matches[0], nil
}

// CanModifyKey reports whether signing (an already-resolved auth) may
// modify the key at targetPubkey: signing must be Admin and at least as
// privileged as the target's current permission.
func (s *Settings) CanModifyKey(signing ResolvedAuth, targetPubkey string) (bool, error) {
	if !signing.EffectivePermission.CanAdmin() {
		return false, nil
	}
	target, err := s.GetKeyByPubkey(targetPubkey)
	if err != nil {
		return false, err
	}
	return signing.EffectivePermission.GreaterOrEqual(target.Permission), nil
}

// CanCreateKey reports whether signing may create a new key with
// newPermission: signing must be Admin and at least as privileged as
// newPermission.
func (s *Settings) CanCreateKey(signing ResolvedAuth, newPermission Permission) bool {
	return signing.EffectivePermission.CanAdmin() && signing.EffectivePermission.GreaterOrEqual(newPermission)
}
