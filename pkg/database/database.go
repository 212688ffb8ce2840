// Package database implements the thin Database (Tree) facade: a Database
// is identified purely by the ID of its root Entry and owns a default
// signing key used to open new Transactions.
package database

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/cuemby/eidetica/pkg/auth"
	"github.com/cuemby/eidetica/pkg/backend"
	"github.com/cuemby/eidetica/pkg/crdt"
	"github.com/cuemby/eidetica/pkg/eideticaerr"
	"github.com/cuemby/eidetica/pkg/entry"
	"github.com/cuemby/eidetica/pkg/id"
	"github.com/cuemby/eidetica/pkg/identity"
	"github.com/cuemby/eidetica/pkg/store"
	"github.com/cuemby/eidetica/pkg/transaction"
)

// Database is a handle onto the Merkle-DAG rooted at Root, backed by b and
// signing new Entries by default with defaultKey.
type Database struct {
	b          backend.Backend
	root       id.ID
	defaultKey identity.PrivateKey
}

// Open wraps an existing root Entry's tree as a Database.
func Open(b backend.Backend, root id.ID, defaultKey identity.PrivateKey) *Database {
	return &Database{b: b, root: root, defaultKey: defaultKey}
}

// Create bootstraps a brand-new Database: a top-level root Entry (tree.root
// == id.Empty) carrying a `_root` marker store and a `_settings` store
// whose auth section grants creatorKey's public key Admin(0). Root
// metadata is a fresh random UUID so two logically-empty bootstraps never
// collide on ID.
func Create(ctx context.Context, b backend.Backend, creatorKey identity.PrivateKey, name string) (*Database, error) {
	pub := creatorKey.PublicKey().ToPrefixedString()
	tx := transaction.New(b, id.Empty, nil, creatorKey, entry.DirectSigKey(pub))
	tx.SetMetadata(uuid.NewString())

	rootMarker := crdt.NewDoc()
	rootRaw, err := rootMarker.MarshalJSON()
	if err != nil {
		return nil, err
	}
	if err := tx.UpdateSubtree(entry.ReservedRootStore, string(rootRaw)); err != nil {
		return nil, err
	}

	settingsDoc := crdt.NewDoc()
	settingsDoc.WithText("name", name)
	authDoc := crdt.NewDoc()
	authSettings := auth.NewSettings(authDoc)
	if err := authSettings.AddKey(pub, auth.AuthKey{Pubkey: pub, Permission: auth.AdminPermission(0), Status: auth.StatusActive}); err != nil {
		return nil, err
	}
	settingsDoc.WithNode("auth", authDoc.Root())
	settingsRaw, err := settingsDoc.MarshalJSON()
	if err != nil {
		return nil, err
	}
	if err := tx.UpdateSubtree(entry.ReservedSettingsStore, string(settingsRaw)); err != nil {
		return nil, err
	}

	rootID, err := tx.Commit(ctx)
	if err != nil {
		return nil, err
	}
	return Open(b, rootID, creatorKey), nil
}

// Root returns the ID of the Entry this Database is rooted at.
func (db *Database) Root() id.ID { return db.root }

// Backend exposes the underlying backend.Backend, e.g. so callers can
// build a Validator directly.
func (db *Database) Backend() backend.Backend { return db.b }

// NewTransaction opens a Transaction against this Database's current tips,
// signing with the default key.
func (db *Database) NewTransaction(ctx context.Context) (*transaction.Transaction, error) {
	tips, err := db.b.GetTips(ctx, db.root)
	if err != nil {
		return nil, err
	}
	return db.NewTransactionWithTips(tips), nil
}

// NewTransactionWithTips opens a Transaction against an explicit tip set,
// signing with the default key.
func (db *Database) NewTransactionWithTips(tips []id.ID) *transaction.Transaction {
	pub := db.defaultKey.PublicKey().ToPrefixedString()
	return transaction.New(db.b, db.root, tips, db.defaultKey, entry.DirectSigKey(pub))
}

// GetTips returns this Database's current main-DAG tips.
func (db *Database) GetTips(ctx context.Context) ([]id.ID, error) {
	return db.b.GetTips(ctx, db.root)
}

// GetStoreTips returns the current tips of the named store.
func (db *Database) GetStoreTips(ctx context.Context, name string) ([]id.ID, error) {
	return db.b.GetStoreTips(ctx, db.root, name)
}

// GetEntry returns the Entry with the given ID.
func (db *Database) GetEntry(ctx context.Context, eid id.ID) (*entry.Entry, error) {
	return db.b.Get(ctx, eid)
}

// GetSettings returns a typed Settings view over this Database's current
// `_settings.auth` state.
func (db *Database) GetSettings(ctx context.Context) (*auth.Settings, error) {
	tips, err := db.b.GetTips(ctx, db.root)
	if err != nil {
		return nil, err
	}
	doc, err := db.b.GetMergedState(ctx, db.root, entry.ReservedSettingsStore, tips)
	if err != nil {
		return nil, err
	}
	// Clone before wrapping: the Settings view writes through to its Doc,
	// and the backend's cached merged state must never see those writes.
	return auth.AuthSettingsFromDoc(doc.Clone())
}

// GetStoreViewer returns a read-only handle on the named store's merged
// state at this Database's current tips, without opening a Transaction.
func (db *Database) GetStoreViewer(ctx context.Context, name string) (*store.Store, error) {
	tips, err := db.b.GetTips(ctx, db.root)
	if err != nil {
		return nil, err
	}
	storeTips, err := db.b.GetStoreTipsUpToEntries(ctx, db.root, name, tips)
	if err != nil {
		return nil, err
	}
	doc, err := db.b.GetMergedState(ctx, db.root, name, storeTips)
	if err != nil {
		return nil, err
	}
	return store.New(name, doc.Clone(), nil), nil
}

// FindSigKeys enumerates the SigKeys usable by pubkey in this Database.
// See the package-level FindSigKeys for the search semantics.
func (db *Database) FindSigKeys(ctx context.Context, pubkey string) ([]auth.SigKeyPermission, error) {
	return FindSigKeys(ctx, db.b, db.root, pubkey)
}

// GetName reads `_settings.name`.
func (db *Database) GetName(ctx context.Context) (string, error) {
	tips, err := db.b.GetTips(ctx, db.root)
	if err != nil {
		return "", err
	}
	doc, err := db.b.GetMergedState(ctx, db.root, entry.ReservedSettingsStore, tips)
	if err != nil {
		return "", err
	}
	v, ok, err := doc.GetPath("name")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", eideticaerr.New(eideticaerr.KindStoreKeyNotFound, "_settings.name not set")
	}
	s, isText := v.Text()
	if !isText {
		return "", eideticaerr.New(eideticaerr.KindCRDTTypeMismatch, "_settings.name is not text")
	}
	return s, nil
}

// FindSigKeys enumerates every SigKey under which pubkey may act in the
// tree rooted at treeRoot: a direct key, the global wildcard, and any
// delegation path that ultimately reaches pubkey in a delegated tree.
// Sorted by effective permission, highest first. The delegation-recursion
// half of this search belongs here (not
// auth.Settings.FindAllSigKeysForPubkey) because only this layer holds a
// backend.Backend able to fetch delegated trees' own settings and current
// tips.
func FindSigKeys(ctx context.Context, b backend.Backend, treeRoot id.ID, pubkey string) ([]auth.SigKeyPermission, error) {
	out, err := findSigKeys(ctx, b, treeRoot, pubkey, 0)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[j].Permission.Less(out[i].Permission) })
	return out, nil
}

func findSigKeys(ctx context.Context, b backend.Backend, treeRoot id.ID, pubkey string, depth int) ([]auth.SigKeyPermission, error) {
	if depth > auth.MaxDelegationDepth {
		return nil, nil
	}
	tips, err := b.GetTips(ctx, treeRoot)
	if err != nil {
		return nil, err
	}
	doc, err := b.GetMergedState(ctx, treeRoot, entry.ReservedSettingsStore, tips)
	if err != nil {
		return nil, err
	}
	settings, err := auth.AuthSettingsFromDoc(doc)
	if err != nil {
		return nil, err
	}

	out := append([]auth.SigKeyPermission(nil), settings.FindAllSigKeysForPubkey(pubkey)...)

	delegations, err := settings.GetAllDelegatedTrees()
	if err != nil {
		return nil, err
	}
	delegatedRoots := make([]id.ID, 0, len(delegations))
	for root := range delegations {
		delegatedRoots = append(delegatedRoots, root)
	}
	id.SortIDs(delegatedRoots)

	for _, delegatedRoot := range delegatedRoots {
		ref := delegations[delegatedRoot]
		delegatedTips, err := b.GetTips(ctx, ref.Tree.Root)
		if err != nil {
			continue
		}
		inner, err := findSigKeys(ctx, b, ref.Tree.Root, pubkey, depth+1)
		if err != nil {
			continue
		}
		for _, sp := range inner {
			steps := []entry.DelegationStep{{Key: string(ref.Tree.Root), Tips: delegatedTips}}
			if innerSteps, isPath := sp.SigKey.DelegationPath(); isPath {
				steps = append(steps, innerSteps...)
			} else if directKey, isDirect := sp.SigKey.Direct(); isDirect {
				steps = append(steps, entry.DelegationStep{Key: directKey})
			}
			out = append(out, auth.SigKeyPermission{
				SigKey:     entry.DelegationPathSigKey(steps),
				Permission: sp.Permission.ClampToBounds(ref.PermissionBounds),
			})
		}
	}
	return out, nil
}
