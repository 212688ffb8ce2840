// Package auth implements Eidetica's settings view and auth validator: the
// Permission/AuthKey/KeyStatus vocabulary stored inside a Database's
// `_settings.auth` Doc, and the Validator that resolves a signing Entry's
// SigKey to an effective, bounds-clamped permission.
package auth

import (
	"math"

	"github.com/cuemby/eidetica/pkg/eideticaerr"
)

// PermissionKind tags which variant of Permission is populated, the same
// tagged-struct sum-type pattern used by identity.PublicKey and crdt.Value.
type PermissionKind int

const (
	PermissionRead PermissionKind = iota
	PermissionWrite
	PermissionAdmin
)

// Permission is Read, Write(priority), or Admin(priority). Priority only
// applies to Write/Admin; lower priority number means higher privilege
// within that variant. Across variants, Read < Write(*) < Admin(*) always.
type Permission struct {
	kind     PermissionKind
	priority uint32
}

// ReadPermission is the read-only permission.
func ReadPermission() Permission { return Permission{kind: PermissionRead} }

// WritePermission builds a Write permission at the given priority.
func WritePermission(priority uint32) Permission {
	return Permission{kind: PermissionWrite, priority: priority}
}

// AdminPermission builds an Admin permission at the given priority.
func AdminPermission(priority uint32) Permission {
	return Permission{kind: PermissionAdmin, priority: priority}
}

// Kind reports which variant p holds.
func (p Permission) Kind() PermissionKind { return p.kind }

// Priority returns p's priority and whether p actually carries one (Read
// does not).
func (p Permission) Priority() (uint32, bool) {
	if p.kind == PermissionRead {
		return 0, false
	}
	return p.priority, true
}

// orderingValue maps a Permission onto a single comparable scalar:
// Read=0, Write(pr)=1+(maxU32-pr), Admin(pr)=2+(2*maxU32)-pr. This keeps
// Admin always greater than Write, Write always greater than Read, and
// within a variant a lower priority number sorts higher (more privileged).
func (p Permission) orderingValue() uint64 {
	const maxU32 = uint64(math.MaxUint32)
	switch p.kind {
	case PermissionRead:
		return 0
	case PermissionWrite:
		return 1 + maxU32 - uint64(p.priority)
	case PermissionAdmin:
		return 2 + 2*maxU32 - uint64(p.priority)
	default:
		return 0
	}
}

// Compare returns -1, 0, or 1 as p is less than, equal to, or greater than
// other in privilege.
func (p Permission) Compare(other Permission) int {
	pv, ov := p.orderingValue(), other.orderingValue()
	switch {
	case pv < ov:
		return -1
	case pv > ov:
		return 1
	default:
		return 0
	}
}

// Less reports whether p is strictly less privileged than other.
func (p Permission) Less(other Permission) bool { return p.Compare(other) < 0 }

// GreaterOrEqual reports whether p is at least as privileged as other.
func (p Permission) GreaterOrEqual(other Permission) bool { return p.Compare(other) >= 0 }

// Equal reports whether p and other denote the same permission.
func (p Permission) Equal(other Permission) bool { return p.Compare(other) == 0 }

// CanWrite reports whether p allows writing data (Write or Admin).
func (p Permission) CanWrite() bool { return p.kind == PermissionWrite || p.kind == PermissionAdmin }

// CanAdmin reports whether p allows administrative operations.
func (p Permission) CanAdmin() bool { return p.kind == PermissionAdmin }

// ClampTo returns the lesser of p and max: min(p, max).
func (p Permission) ClampTo(max Permission) Permission {
	if p.Less(max) {
		return p
	}
	return max
}

// PermissionBounds clamps a Permission to at most Max and, if Min is set,
// at least Min (raising an under-privileged permission up to the floor).
type PermissionBounds struct {
	Max Permission
	Min *Permission
}

// ClampToBounds applies b to p: lower to Max if above it, then raise to Min
// if below it.
func (p Permission) ClampToBounds(b PermissionBounds) Permission {
	out := p.ClampTo(b.Max)
	if b.Min != nil && out.Less(*b.Min) {
		out = *b.Min
	}
	return out
}

// String renders p in the wire form: "read", "write:<n>", "admin:<n>".
func (p Permission) String() string {
	switch p.kind {
	case PermissionRead:
		return "read"
	case PermissionWrite:
		return "write:" + uitoa(p.priority)
	case PermissionAdmin:
		return "admin:" + uitoa(p.priority)
	default:
		return "read"
	}
}

func uitoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// ParsePermission parses the "read" / "write:<n>" / "admin:<n>" wire form.
func ParsePermission(s string) (Permission, error) {
	if s == "read" {
		return ReadPermission(), nil
	}
	var kind, numStr string
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			kind, numStr = s[:i], s[i+1:]
			break
		}
	}
	if kind == "" {
		return Permission{}, eideticaerr.Newf(eideticaerr.KindAuthInvalidConfiguration, "invalid permission string %q", s)
	}
	n, err := atoui32(numStr)
	if err != nil {
		return Permission{}, eideticaerr.Wrap(eideticaerr.KindAuthInvalidConfiguration, "invalid permission priority", err)
	}
	switch kind {
	case "write":
		return WritePermission(n), nil
	case "admin":
		return AdminPermission(n), nil
	default:
		return Permission{}, eideticaerr.Newf(eideticaerr.KindAuthInvalidConfiguration, "invalid permission string %q", s)
	}
}

func atoui32(s string) (uint32, error) {
	if s == "" {
		return 0, eideticaerr.New(eideticaerr.KindAuthInvalidConfiguration, "missing priority value")
	}
	var v uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, eideticaerr.Newf(eideticaerr.KindAuthInvalidConfiguration, "non-digit priority %q", s)
		}
		v = v*10 + uint64(c-'0')
		if v > math.MaxUint32 {
			return 0, eideticaerr.Newf(eideticaerr.KindAuthInvalidConfiguration, "priority overflow %q", s)
		}
	}
	return uint32(v), nil
}
