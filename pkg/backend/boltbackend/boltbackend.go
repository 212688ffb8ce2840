// Package boltbackend implements a bbolt-backed backend.Backend: Entries
// persist to disk in one bucket with their exact canonical bytes, so
// restarts preserve the DAG and every Entry's ID round-trips identically.
// Tip and merged-state caches stay in-memory and are recomputed lazily,
// the same way membackend's caches work, since they are pure derived
// state rather than data that must survive a crash.
package boltbackend

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/eidetica/internal/log"
	"github.com/cuemby/eidetica/pkg/backend"
	"github.com/cuemby/eidetica/pkg/crdt"
	"github.com/cuemby/eidetica/pkg/eideticaerr"
	"github.com/cuemby/eidetica/pkg/entry"
	"github.com/cuemby/eidetica/pkg/id"
	"github.com/cuemby/eidetica/pkg/identity"
)

func logger() *zerolog.Logger { l := log.WithComponent("backend"); return &l }

var bucketEntries = []byte("entries")

// Backend is a bbolt-backed backend.Backend implementation. Entries are
// durable; tip and merged-state caches are in-memory and rebuilt lazily.
type Backend struct {
	db *bolt.DB

	mu        sync.RWMutex
	treeTips  map[id.ID][]id.ID
	storeTips map[string][]id.ID
	mergeDocs map[string]*crdt.Doc
}

// Open opens (creating if necessary) a bbolt database file at path and
// returns a ready Backend.
func Open(path string) (*Backend, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, eideticaerr.Wrap(eideticaerr.KindIO, "open bolt database", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, eideticaerr.Wrap(eideticaerr.KindIO, "create entries bucket", err)
	}
	return &Backend{
		db:        db,
		treeTips:  make(map[id.ID][]id.ID),
		storeTips: make(map[string][]id.ID),
		mergeDocs: make(map[string]*crdt.Doc),
	}, nil
}

// Close closes the underlying bbolt database.
func (b *Backend) Close() error {
	return b.db.Close()
}

var _ backend.Backend = (*Backend)(nil)

// entrySource adapts Backend to backend.EntrySource, reading straight
// through to bbolt. Every traversal call opens its own read transaction:
// bbolt read transactions are cheap and this keeps the shared algorithms
// free of any bolt-specific plumbing.
type entrySource struct{ b *Backend }

func (s entrySource) Get(eid id.ID) (*entry.Entry, bool) {
	var e *entry.Entry
	err := s.b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketEntries)
		data := bkt.Get([]byte(eid))
		if data == nil {
			return nil
		}
		var decoded entry.Entry
		if err := decoded.UnmarshalJSON(data); err != nil {
			return err
		}
		e = &decoded
		return nil
	})
	if err != nil || e == nil {
		return nil, false
	}
	return e, true
}

func (s entrySource) AllIDs() []id.ID {
	var ids []id.ID
	_ = s.b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketEntries)
		return bkt.ForEach(func(k, _ []byte) error {
			ids = append(ids, id.ID(k))
			return nil
		})
	})
	return ids
}

func storeTipsKey(tree id.ID, store string) string {
	return string(tree) + "|" + store
}

func mergeKey(tree id.ID, store string, tips []id.ID) string {
	sorted := append([]id.ID(nil), tips...)
	id.SortIDs(sorted)
	return string(tree) + "|" + store + "|merge:" + id.Join(sorted)
}

func (b *Backend) invalidate(tree id.ID) {
	delete(b.treeTips, tree)
	prefix := string(tree) + "|"
	for k := range b.storeTips {
		if hasPrefix(k, prefix) {
			delete(b.storeTips, k)
		}
	}
	for k := range b.mergeDocs {
		if hasPrefix(k, prefix) {
			delete(b.mergeDocs, k)
		}
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// PutVerified persists e if its ID is not already present and invalidates
// the cached tip/merge state of the tree it belongs to.
func (b *Backend) PutVerified(ctx context.Context, e *entry.Entry) error {
	eid, err := e.ID()
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var alreadyExists bool
	err = b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketEntries)
		if bkt.Get([]byte(eid)) != nil {
			alreadyExists = true
			return nil
		}
		raw, err := e.MarshalJSON()
		if err != nil {
			return eideticaerr.Wrap(eideticaerr.KindSerialize, "marshal entry", err)
		}
		return bkt.Put([]byte(eid), raw)
	})
	if err != nil {
		return eideticaerr.Wrap(eideticaerr.KindIO, "put entry", err)
	}
	if alreadyExists {
		return nil
	}

	tree := e.Tree.Root
	if tree.IsEmpty() {
		tree = eid
	}
	b.invalidate(tree)
	treeLog := log.WithTree(string(tree))
	treeLog.Debug().Str("entry", string(eid)).Msg("stored entry")
	return nil
}

// Get returns the entry with the given ID.
func (b *Backend) Get(ctx context.Context, eid id.ID) (*entry.Entry, error) {
	e, ok := entrySource{b}.Get(eid)
	if !ok {
		return nil, eideticaerr.Newf(eideticaerr.KindBackendEntryNotFound, "entry %q not found", eid)
	}
	return e, nil
}

// GetTips returns the current main-DAG tips of tree.
func (b *Backend) GetTips(ctx context.Context, tree id.ID) ([]id.ID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cached, ok := b.treeTips[tree]; ok {
		return append([]id.ID(nil), cached...), nil
	}
	tips := backend.ComputeTips(entrySource{b}, tree)
	b.treeTips[tree] = tips
	return append([]id.ID(nil), tips...), nil
}

// GetStoreTips returns the current tips of store within tree.
func (b *Backend) GetStoreTips(ctx context.Context, tree id.ID, store string) ([]id.ID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := storeTipsKey(tree, store)
	if cached, ok := b.storeTips[key]; ok {
		return append([]id.ID(nil), cached...), nil
	}
	tips := backend.ComputeStoreTips(entrySource{b}, tree, store)
	b.storeTips[key] = tips
	return append([]id.ID(nil), tips...), nil
}

// GetStoreTipsUpToEntries scopes the store-tip search to entries reachable
// from mainTips.
func (b *Backend) GetStoreTipsUpToEntries(ctx context.Context, tree id.ID, store string, mainTips []id.ID) ([]id.ID, error) {
	currentTips, err := b.GetTips(ctx, tree)
	if err != nil {
		return nil, err
	}
	if sameIDSet(currentTips, mainTips) {
		return b.GetStoreTips(ctx, tree, store)
	}
	return backend.ComputeStoreTipsUpToEntries(entrySource{b}, tree, store, mainTips), nil
}

func sameIDSet(a, b []id.ID) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]id.ID(nil), a...)
	bs := append([]id.ID(nil), b...)
	id.SortIDs(as)
	id.SortIDs(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// BuildPathFromRoot walks backward from target to tree's root.
func (b *Backend) BuildPathFromRoot(ctx context.Context, tree id.ID, store string, target id.ID) ([]id.ID, error) {
	return backend.BuildPathFromRoot(entrySource{b}, tree, store, target)
}

// GetPathFromTo enumerates every entry ID on any path from any toTip back
// to from.
func (b *Backend) GetPathFromTo(ctx context.Context, tree id.ID, store string, from id.ID, toTips []id.ID) ([]id.ID, error) {
	return backend.GetPathFromTo(entrySource{b}, tree, store, from, toTips)
}

// FindMergeBase returns the ancestor through which every path from every
// tip back to a root must pass.
func (b *Backend) FindMergeBase(ctx context.Context, tree id.ID, store string, tips []id.ID) (id.ID, error) {
	return backend.FindMergeBase(entrySource{b}, tree, store, tips)
}

// GetMergedState returns the CRDT Doc produced by merging store's history
// up to tips, cached by (sorted tips, store).
func (b *Backend) GetMergedState(ctx context.Context, tree id.ID, store string, tips []id.ID) (*crdt.Doc, error) {
	key := mergeKey(tree, store, tips)

	b.mu.RLock()
	if cached, ok := b.mergeDocs[key]; ok {
		b.mu.RUnlock()
		logger().Debug().Str("store", store).Msg("merged-state cache hit")
		return cached, nil
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if cached, ok := b.mergeDocs[key]; ok {
		return cached, nil
	}
	logger().Debug().Str("store", store).Int("tips", len(tips)).Msg("merged-state cache miss")
	doc, err := backend.MergeMergedState(entrySource{b}, store, tips)
	if err != nil {
		return nil, err
	}
	b.mergeDocs[key] = doc
	return doc, nil
}

// Validate checks e's structural invariants and its signature against pub.
func (b *Backend) Validate(ctx context.Context, e *entry.Entry, pub identity.PublicKey) error {
	if err := e.Validate(); err != nil {
		logger().Warn().Err(err).Msg("entry failed structural validation")
		return err
	}
	if e.Sig.Sig == nil {
		return eideticaerr.New(eideticaerr.KindAuthInvalidSignature, "entry carries no signature")
	}
	sigBytes, err := base64.StdEncoding.DecodeString(*e.Sig.Sig)
	if err != nil {
		return eideticaerr.Wrap(eideticaerr.KindAuthInvalidSignature, "malformed signature encoding", err)
	}
	signingBytes, err := e.SigningBytes()
	if err != nil {
		return err
	}
	if err := pub.Verify(signingBytes, sigBytes); err != nil {
		logger().Warn().Err(err).Msg("entry signature rejected")
		return err
	}
	return nil
}

// Path reports the bbolt file path backing b, for diagnostics.
func (b *Backend) Path() string {
	return b.db.Path()
}
