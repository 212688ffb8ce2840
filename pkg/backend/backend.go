// Package backend defines the DAG-store contract every Eidetica storage
// implementation satisfies, plus the backend-agnostic traversal and
// merge-base algorithms both implementations (membackend, boltbackend)
// share.
package backend

import (
	"context"

	"github.com/cuemby/eidetica/pkg/crdt"
	"github.com/cuemby/eidetica/pkg/entry"
	"github.com/cuemby/eidetica/pkg/id"
	"github.com/cuemby/eidetica/pkg/identity"
)

// Backend stores verified Entries and maintains cached tips and merged
// CRDT state per tree and per (tree, store).
type Backend interface {
	// PutVerified writes e if its ID is not already present, updates the
	// tree-tip and store-tip caches, and invalidates merged-state cache
	// entries the new entry affects.
	PutVerified(ctx context.Context, e *entry.Entry) error

	// Get returns the Entry with the given ID.
	Get(ctx context.Context, eid id.ID) (*entry.Entry, error)

	// GetTips returns the current main-DAG tips of tree.
	GetTips(ctx context.Context, tree id.ID) ([]id.ID, error)

	// GetStoreTips returns the current tips of store within tree.
	GetStoreTips(ctx context.Context, tree id.ID, store string) ([]id.ID, error)

	// GetStoreTipsUpToEntries scopes the store-tip search to entries
	// reachable from mainTips in the main DAG.
	GetStoreTipsUpToEntries(ctx context.Context, tree id.ID, store string, mainTips []id.ID) ([]id.ID, error)

	// BuildPathFromRoot walks backward from target through store-scoped
	// parents (falling back to main parents) to the tree root, returning
	// the path in root-to-target order.
	BuildPathFromRoot(ctx context.Context, tree id.ID, store string, target id.ID) ([]id.ID, error)

	// GetPathFromTo enumerates every Entry ID on any path from any toTip
	// back to from, excluding from itself, sorted by store height then ID.
	GetPathFromTo(ctx context.Context, tree id.ID, store string, from id.ID, toTips []id.ID) ([]id.ID, error)

	// FindMergeBase returns the ancestor through which every path from
	// every tip back to a root must pass.
	FindMergeBase(ctx context.Context, tree id.ID, store string, tips []id.ID) (id.ID, error)

	// GetMergedState returns the CRDT Doc produced by merging store's
	// history up to tips, using a cache keyed by (sorted tips, store).
	GetMergedState(ctx context.Context, tree id.ID, store string, tips []id.ID) (*crdt.Doc, error)

	// Validate checks an incoming Entry's signature against pub over its
	// canonical signing bytes. It does not resolve auth itself (that is
	// pkg/auth.Validator's job) to keep this package free of an import
	// cycle on pkg/auth.
	Validate(ctx context.Context, e *entry.Entry, pub identity.PublicKey) error
}
