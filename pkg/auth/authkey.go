package auth

import (
	"github.com/cuemby/eidetica/pkg/crdt"
	"github.com/cuemby/eidetica/pkg/eideticaerr"
	"github.com/cuemby/eidetica/pkg/id"
)

// KeyStatus is Active or Revoked. A revoked key may not sign new entries,
// but its historical entries remain valid.
type KeyStatus string

const (
	StatusActive  KeyStatus = "active"
	StatusRevoked KeyStatus = "revoked"
)

// AuthKey is one entry under `_settings.auth.keys.<pubkey>`. Name is
// optional metadata and may collide across keys; the pubkey is the only
// collision-resistant index.
type AuthKey struct {
	Name       *string
	Pubkey     string
	Permission Permission
	Status     KeyStatus
}

// TreeReference names a Database by root ID plus the tips it was at when
// the reference was recorded.
type TreeReference struct {
	Root id.ID
	Tips []id.ID
}

// DelegatedTreeRef is a delegation entry under
// `_settings.auth.delegations.<root-id>`: the permission bounds clamp
// applied to any key resolved through that tree, plus the tree reference.
type DelegatedTreeRef struct {
	PermissionBounds PermissionBounds
	Tree             TreeReference
}

// authKeyToValue renders an AuthKey as the crdt.Node stored at
// keys.<pubkey>.
func authKeyToValue(k AuthKey) crdt.Value {
	n := crdt.NewNode()
	if k.Name != nil {
		n.Set("name", crdt.TextValue(*k.Name))
	}
	n.Set("pubkey", crdt.TextValue(k.Pubkey))
	n.Set("permission", crdt.TextValue(k.Permission.String()))
	n.Set("status", crdt.TextValue(string(k.Status)))
	return crdt.NodeValue(n)
}

func authKeyFromValue(v crdt.Value) (AuthKey, error) {
	n, ok := v.Node()
	if !ok {
		return AuthKey{}, eideticaerr.New(eideticaerr.KindAuthInvalidKeyFormat, "auth key is not a node")
	}
	var out AuthKey
	if nameVal, ok := n.Get("name"); ok {
		if s, isText := nameVal.Text(); isText {
			out.Name = &s
		}
	}
	if pkVal, ok := n.Get("pubkey"); ok {
		s, _ := pkVal.Text()
		out.Pubkey = s
	}
	permVal, ok := n.Get("permission")
	if !ok {
		return AuthKey{}, eideticaerr.New(eideticaerr.KindAuthInvalidKeyFormat, "auth key missing permission")
	}
	permStr, _ := permVal.Text()
	perm, err := ParsePermission(permStr)
	if err != nil {
		return AuthKey{}, err
	}
	out.Permission = perm
	statusVal, ok := n.Get("status")
	if !ok {
		return AuthKey{}, eideticaerr.New(eideticaerr.KindAuthInvalidKeyFormat, "auth key missing status")
	}
	statusStr, _ := statusVal.Text()
	out.Status = KeyStatus(statusStr)
	return out, nil
}

// permissionBoundsToValue renders PermissionBounds as a crdt.Node.
func permissionBoundsToValue(b PermissionBounds) crdt.Value {
	n := crdt.NewNode()
	n.Set("max", crdt.TextValue(b.Max.String()))
	if b.Min != nil {
		n.Set("min", crdt.TextValue(b.Min.String()))
	}
	return crdt.NodeValue(n)
}

func permissionBoundsFromValue(v crdt.Value) (PermissionBounds, error) {
	n, ok := v.Node()
	if !ok {
		return PermissionBounds{}, eideticaerr.New(eideticaerr.KindAuthInvalidConfiguration, "permission bounds is not a node")
	}
	maxVal, ok := n.Get("max")
	if !ok {
		return PermissionBounds{}, eideticaerr.New(eideticaerr.KindAuthInvalidConfiguration, "permission bounds missing max")
	}
	maxStr, _ := maxVal.Text()
	max, err := ParsePermission(maxStr)
	if err != nil {
		return PermissionBounds{}, err
	}
	out := PermissionBounds{Max: max}
	if minVal, ok := n.Get("min"); ok {
		minStr, _ := minVal.Text()
		min, err := ParsePermission(minStr)
		if err != nil {
			return PermissionBounds{}, err
		}
		out.Min = &min
	}
	return out, nil
}

func treeReferenceToValue(t TreeReference) crdt.Value {
	n := crdt.NewNode()
	n.Set("root", crdt.TextValue(string(t.Root)))
	tips := crdt.NewList()
	for _, tip := range t.Tips {
		tips.Add(crdt.TextValue(string(tip)))
	}
	n.Set("tips", crdt.ListValue(tips))
	return crdt.NodeValue(n)
}

func treeReferenceFromValue(v crdt.Value) (TreeReference, error) {
	n, ok := v.Node()
	if !ok {
		return TreeReference{}, eideticaerr.New(eideticaerr.KindAuthInvalidConfiguration, "tree reference is not a node")
	}
	var out TreeReference
	if rootVal, ok := n.Get("root"); ok {
		s, _ := rootVal.Text()
		out.Root = id.ID(s)
	}
	if tipsVal, ok := n.Get("tips"); ok {
		if l, isList := tipsVal.List(); isList {
			for _, elemID := range l.IDs() {
				if elemVal, ok := l.Get(elemID); ok {
					if s, isText := elemVal.Text(); isText {
						out.Tips = append(out.Tips, id.ID(s))
					}
				}
			}
		}
	}
	return out, nil
}

func delegatedTreeRefToValue(d DelegatedTreeRef) crdt.Value {
	n := crdt.NewNode()
	n.Set("permission-bounds", permissionBoundsToValue(d.PermissionBounds))
	n.Set("tree", treeReferenceToValue(d.Tree))
	return crdt.NodeValue(n)
}

func delegatedTreeRefFromValue(v crdt.Value) (DelegatedTreeRef, error) {
	n, ok := v.Node()
	if !ok {
		return DelegatedTreeRef{}, eideticaerr.New(eideticaerr.KindAuthInvalidConfiguration, "delegated tree ref is not a node")
	}
	boundsVal, ok := n.Get("permission-bounds")
	if !ok {
		return DelegatedTreeRef{}, eideticaerr.New(eideticaerr.KindAuthInvalidConfiguration, "delegated tree ref missing permission-bounds")
	}
	bounds, err := permissionBoundsFromValue(boundsVal)
	if err != nil {
		return DelegatedTreeRef{}, err
	}
	treeVal, ok := n.Get("tree")
	if !ok {
		return DelegatedTreeRef{}, eideticaerr.New(eideticaerr.KindAuthInvalidConfiguration, "delegated tree ref missing tree")
	}
	tree, err := treeReferenceFromValue(treeVal)
	if err != nil {
		return DelegatedTreeRef{}, err
	}
	return DelegatedTreeRef{PermissionBounds: bounds, Tree: tree}, nil
}
