// Package membackend implements an in-memory backend.Backend: the whole
// DAG lives in process memory, guarded by a single RWMutex, built around
// the shared traversal algorithms in pkg/backend.
package membackend

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/eidetica/internal/log"
	"github.com/cuemby/eidetica/pkg/backend"
	"github.com/cuemby/eidetica/pkg/crdt"
	"github.com/cuemby/eidetica/pkg/eideticaerr"
	"github.com/cuemby/eidetica/pkg/entry"
	"github.com/cuemby/eidetica/pkg/id"
	"github.com/cuemby/eidetica/pkg/identity"
)

func logger() *zerolog.Logger { l := log.WithComponent("backend"); return &l }

// Backend is an in-memory, mutex-guarded backend.Backend implementation.
type Backend struct {
	mu sync.RWMutex

	entries map[id.ID]*entry.Entry

	treeTips  map[id.ID][]id.ID
	storeTips map[string][]id.ID // key: tree + "|" + store
	mergeDocs map[string]*crdt.Doc
}

// New returns an empty in-memory Backend.
func New() *Backend {
	return &Backend{
		entries:   make(map[id.ID]*entry.Entry),
		treeTips:  make(map[id.ID][]id.ID),
		storeTips: make(map[string][]id.ID),
		mergeDocs: make(map[string]*crdt.Doc),
	}
}

var _ backend.Backend = (*Backend)(nil)

// entrySource adapts Backend to backend.EntrySource for the shared
// traversal algorithms. Callers hold b.mu for the duration.
type entrySource struct{ b *Backend }

func (s entrySource) Get(eid id.ID) (*entry.Entry, bool) {
	e, ok := s.b.entries[eid]
	return e, ok
}

func (s entrySource) AllIDs() []id.ID {
	ids := make([]id.ID, 0, len(s.b.entries))
	for eid := range s.b.entries {
		ids = append(ids, eid)
	}
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

// invalidate drops every cached tip and merged-state entry for tree: a new
// entry may change any of them.
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

// PutVerified stores e if not already present and invalidates the caches
// of the tree it belongs to.
func (b *Backend) PutVerified(ctx context.Context, e *entry.Entry) error {
	eid, err := e.ID()
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.entries[eid]; exists {
		return nil
	}
	b.entries[eid] = e

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
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[eid]
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
	b.mu.RLock()
	defer b.mu.RUnlock()
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
	b.mu.RLock()
	defer b.mu.RUnlock()
	return backend.BuildPathFromRoot(entrySource{b}, tree, store, target)
}

// GetPathFromTo enumerates every entry ID on any path from any toTip back
// to from.
func (b *Backend) GetPathFromTo(ctx context.Context, tree id.ID, store string, from id.ID, toTips []id.ID) ([]id.ID, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return backend.GetPathFromTo(entrySource{b}, tree, store, from, toTips)
}

// FindMergeBase returns the ancestor through which every path from every
// tip back to a root must pass.
func (b *Backend) FindMergeBase(ctx context.Context, tree id.ID, store string, tips []id.ID) (id.ID, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return backend.FindMergeBase(entrySource{b}, tree, store, tips)
}

// GetMergedState returns the CRDT Doc produced by merging store's history
// up to tips, cached by (tree, store, sorted tips).
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
