package auth

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cuemby/eidetica/internal/log"
	"github.com/cuemby/eidetica/pkg/backend"
	"github.com/cuemby/eidetica/pkg/crdt"
	"github.com/cuemby/eidetica/pkg/eideticaerr"
	"github.com/cuemby/eidetica/pkg/entry"
	"github.com/cuemby/eidetica/pkg/id"
	"github.com/cuemby/eidetica/pkg/identity"
)

func logger() *zerolog.Logger { l := log.WithComponent("auth"); return &l }

// MaxDelegationDepth bounds how many DelegationPath steps a Validator will
// walk before failing. Cycles between delegated trees are tolerated only
// because this bound cuts them off.
const MaxDelegationDepth = 10

// ResolvedAuth is the outcome of resolving a SigKey: the public key to
// verify the signature against, its effective permission (after any
// delegation-bound clamping), and its current status.
type ResolvedAuth struct {
	PublicKey           identity.PublicKey
	EffectivePermission Permission
	KeyStatus           KeyStatus
}

// Validator resolves an Entry's SigKey against a tree's settings, walking
// delegation paths across trees as needed.
type Validator struct {
	backend backend.Backend
}

// NewValidator builds a Validator that may fetch delegated trees' settings
// through b.
func NewValidator(b backend.Backend) *Validator {
	return &Validator{backend: b}
}

// unboundedBounds is the identity element for cumulative delegation
// clamping: Admin(0) is the most privileged permission representable, so
// ClampTo(unbounded.Max) never lowers anything until a real bound is
// applied.
func unboundedBounds() PermissionBounds {
	return PermissionBounds{Max: AdminPermission(0)}
}

// Resolve turns a SigInfo into a ResolvedAuth: Direct, Global wildcard, and
// DelegationPath (with cumulative bounds and the depth limit) all resolve
// here. settingsDoc is the whole `_settings` Doc of the tree the Entry
// being validated belongs to (its "auth" subsection is extracted
// internally).
func (v *Validator) Resolve(ctx context.Context, settingsDoc *crdt.Doc, sig entry.SigInfo) (ResolvedAuth, error) {
	settings, err := AuthSettingsFromDoc(settingsDoc)
	if err != nil {
		return ResolvedAuth{}, err
	}

	if ref, ok := sig.Key.Direct(); ok {
		return v.resolveDirect(settings, ref, sig.Hint)
	}
	steps, ok := sig.Key.DelegationPath()
	if !ok || len(steps) == 0 {
		return ResolvedAuth{}, eideticaerr.New(eideticaerr.KindAuthInvalidConfiguration, "empty delegation path")
	}
	return v.resolveDelegationPath(ctx, settings, steps, 0, unboundedBounds())
}

// resolveDirect handles a plain key-by-pubkey lookup, or, when ref is the
// "*" wildcard, a lookup of the wildcard entry whose permission applies to
// whatever pubkey hint carries.
func (v *Validator) resolveDirect(settings *Settings, ref string, hint *string) (ResolvedAuth, error) {
	if ref == GlobalPubkey {
		ak, err := settings.GetKeyByPubkey(GlobalPubkey)
		if err != nil {
			return ResolvedAuth{}, err
		}
		if hint == nil {
			return ResolvedAuth{}, eideticaerr.New(eideticaerr.KindAuthInvalidConfiguration, "wildcard sig missing pubkey hint")
		}
		pub, err := identity.ParsePublicKey(*hint)
		if err != nil {
			return ResolvedAuth{}, err
		}
		return ResolvedAuth{PublicKey: pub, EffectivePermission: ak.Permission, KeyStatus: ak.Status}, nil
	}
	ak, err := settings.GetKeyByPubkey(ref)
	if err != nil {
		return ResolvedAuth{}, err
	}
	pub, err := identity.ParsePublicKey(ak.Pubkey)
	if err != nil {
		return ResolvedAuth{}, err
	}
	if ak.Status == StatusRevoked {
		logger().Warn().Str("key", ref).Msg("resolved key is revoked")
	}
	return ResolvedAuth{PublicKey: pub, EffectivePermission: ak.Permission, KeyStatus: ak.Status}, nil
}

// resolveDelegationPath walks steps left to right: every non-final step
// names a delegated tree and switches context to that tree's settings at
// the step's tips, accumulating permission bounds; the final step is a
// direct lookup in whatever tree context the walk ended at.
func (v *Validator) resolveDelegationPath(ctx context.Context, current *Settings, steps []entry.DelegationStep, depth int, bounds PermissionBounds) (ResolvedAuth, error) {
	if depth > MaxDelegationDepth {
		return ResolvedAuth{}, eideticaerr.Newf(eideticaerr.KindAuthDelegationDepthExceeded, "delegation path exceeds max depth %d", MaxDelegationDepth)
	}
	step := steps[0]
	if len(steps) == 1 {
		ak, err := current.GetKeyByPubkey(step.Key)
		if err != nil {
			return ResolvedAuth{}, err
		}
		pub, err := identity.ParsePublicKey(ak.Pubkey)
		if err != nil {
			return ResolvedAuth{}, err
		}
		if ak.Status == StatusRevoked {
			logger().Warn().Str("key", step.Key).Msg("resolved key is revoked")
		}
		return ResolvedAuth{
			PublicKey:           pub,
			EffectivePermission: ak.Permission.ClampToBounds(bounds),
			KeyStatus:           ak.Status,
		}, nil
	}

	delegatedRoot := id.ID(step.Key)
	logger().Debug().Str("tree", string(delegatedRoot)).Int("depth", depth).Msg("walking delegation step")
	ref, err := current.GetDelegatedTree(delegatedRoot)
	if err != nil {
		return ResolvedAuth{}, err
	}
	for _, tip := range step.Tips {
		tipEntry, err := v.backend.Get(ctx, tip)
		if err != nil {
			return ResolvedAuth{}, eideticaerr.Wrap(eideticaerr.KindAuthDelegationNotFound, "delegation step tip not found", err)
		}
		if !tipEntry.InTree(ref.Tree.Root) {
			return ResolvedAuth{}, eideticaerr.Newf(eideticaerr.KindAuthDelegationNotFound, "tip %q does not belong to delegated tree %q", tip, ref.Tree.Root)
		}
	}

	delegatedSettingsDoc, err := v.backend.GetMergedState(ctx, ref.Tree.Root, entry.ReservedSettingsStore, step.Tips)
	if err != nil {
		return ResolvedAuth{}, err
	}
	delegatedSettings, err := AuthSettingsFromDoc(delegatedSettingsDoc)
	if err != nil {
		return ResolvedAuth{}, err
	}

	nextBounds := PermissionBounds{
		Max: bounds.Max.ClampTo(ref.PermissionBounds.Max),
		Min: raiseMin(bounds.Min, ref.PermissionBounds.Min),
	}
	return v.resolveDelegationPath(ctx, delegatedSettings, steps[1:], depth+1, nextBounds)
}

// raiseMin combines two optional minimum floors, taking whichever is more
// privileged.
func raiseMin(accumulated, level *Permission) *Permission {
	switch {
	case level == nil:
		return accumulated
	case accumulated == nil:
		return level
	case level.GreaterOrEqual(*accumulated):
		return level
	default:
		return accumulated
	}
}
