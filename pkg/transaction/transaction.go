// Package transaction implements the short-lived, single-threaded builder
// that stages writes across zero or more stores and commits them as one
// new signed Entry.
package transaction

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/cuemby/eidetica/internal/log"
	"github.com/cuemby/eidetica/pkg/auth"
	"github.com/cuemby/eidetica/pkg/backend"
	"github.com/cuemby/eidetica/pkg/crdt"
	"github.com/cuemby/eidetica/pkg/eideticaerr"
	"github.com/cuemby/eidetica/pkg/entry"
	"github.com/cuemby/eidetica/pkg/id"
	"github.com/cuemby/eidetica/pkg/identity"
	"github.com/cuemby/eidetica/pkg/store"
)

func logger() *zerolog.Logger { l := log.WithComponent("transaction"); return &l }

type stagedStore struct {
	raw string
}

// Transaction stages per-store mutations against a chosen tip set and
// commits them as one new Entry. Not safe for concurrent use: a
// Transaction is single-owner, like Doc and Entry.
type Transaction struct {
	b         backend.Backend
	treeRoot  id.ID
	tips      []id.ID
	signer    identity.PrivateKey
	sigKey    entry.SigKey
	hint      *string
	metadata  *string
	staged    map[string]*stagedStore
	committed bool
}

// New starts a Transaction against treeRoot at tips, signing with signer
// under sigKey. treeRoot == id.Empty together with an empty tips marks the
// bootstrap case: the Entry this Transaction commits becomes a brand-new
// Database's top-level root.
func New(b backend.Backend, treeRoot id.ID, tips []id.ID, signer identity.PrivateKey, sigKey entry.SigKey) *Transaction {
	return &Transaction{
		b:        b,
		treeRoot: treeRoot,
		tips:     append([]id.ID(nil), tips...),
		signer:   signer,
		sigKey:   sigKey,
		staged:   make(map[string]*stagedStore),
	}
}

// SetHint attaches a verifying-pubkey hint to the Entry this Transaction
// will commit, required when sigKey is the global wildcard Direct("*").
func (tx *Transaction) SetHint(hint string) *Transaction {
	h := hint
	tx.hint = &h
	return tx
}

// SetMetadata stages root-entry metadata, normally only used to give a
// brand-new top-level root a random, collision-proof ID even when it
// carries no other data.
func (tx *Transaction) SetMetadata(metadata string) *Transaction {
	m := metadata
	tx.metadata = &m
	return tx
}

func (tx *Transaction) store(name string) *stagedStore {
	s, ok := tx.staged[name]
	if !ok {
		s = &stagedStore{}
		tx.staged[name] = s
	}
	return s
}

// UpdateSubtree replaces the staged serialized Doc bytes for name.
func (tx *Transaction) UpdateSubtree(name, rawData string) error {
	tx.store(name).raw = rawData
	return nil
}

// GetLocalData returns the staged Doc for name and whether anything has
// been staged for it at all. An empty staged string ("", an explicit
// clear) still reports ok=true with an empty Doc.
func (tx *Transaction) GetLocalData(name string) (*crdt.Doc, bool, error) {
	s, ok := tx.staged[name]
	if !ok {
		return nil, false, nil
	}
	doc := crdt.NewDoc()
	if s.raw == "" {
		return doc, true, nil
	}
	if err := doc.UnmarshalJSON([]byte(s.raw)); err != nil {
		return nil, false, eideticaerr.Wrap(eideticaerr.KindSerialize, "decode staged store data", err)
	}
	return doc, true, nil
}

// GetFullState returns the fully merged historical Doc for name up to this
// Transaction's chosen tips, with no staged data layered in. The returned
// Doc is a clone: callers may mutate it freely without reaching the
// backend's merged-state cache.
func (tx *Transaction) GetFullState(ctx context.Context, name string) (*crdt.Doc, error) {
	if tx.treeRoot.IsEmpty() {
		return crdt.NewDoc(), nil
	}
	storeTips, err := tx.b.GetStoreTipsUpToEntries(ctx, tx.treeRoot, name, tx.tips)
	if err != nil {
		return nil, err
	}
	doc, err := tx.b.GetMergedState(ctx, tx.treeRoot, name, storeTips)
	if err != nil {
		return nil, err
	}
	return doc.Clone(), nil
}

// Tips reports the tip set this Transaction was created against.
func (tx *Transaction) Tips() []id.ID { return append([]id.ID(nil), tx.tips...) }

func maxTreeHeight(ctx context.Context, b backend.Backend, tips []id.ID) (uint64, error) {
	var max uint64
	for i, t := range tips {
		e, err := b.Get(ctx, t)
		if err != nil {
			return 0, err
		}
		if i == 0 || e.Tree.Height > max {
			max = e.Tree.Height
		}
	}
	return max, nil
}

func maxStoreHeight(ctx context.Context, b backend.Backend, store string, parents []id.ID) (uint64, error) {
	var max uint64
	for i, p := range parents {
		e, err := b.Get(ctx, p)
		if err != nil {
			return 0, err
		}
		sub, ok := e.Subtree(store)
		if !ok || sub.Height == nil {
			continue
		}
		if i == 0 || *sub.Height > max {
			max = *sub.Height
		}
	}
	return max, nil
}

// Commit builds, signs, verifies, and persists exactly one new Entry from
// this Transaction's staged stores. The Transaction is consumed: a second
// Commit call fails.
func (tx *Transaction) Commit(ctx context.Context) (id.ID, error) {
	if tx.committed {
		return "", eideticaerr.New(eideticaerr.KindTransactionAlreadyCommitted, "transaction already committed")
	}
	bootstrap := tx.treeRoot.IsEmpty()
	if !bootstrap && len(tx.tips) == 0 {
		return "", eideticaerr.New(eideticaerr.KindTransactionEmptyTips, "commit requires a non-empty tip set for an existing tree")
	}

	bldr := entry.NewBuilder(tx.treeRoot).SetParents(tx.tips)
	if tx.metadata != nil {
		bldr.SetMetadata(*tx.metadata)
	}

	mainHeight, err := maxTreeHeight(ctx, tx.b, tx.tips)
	if err != nil {
		return "", err
	}
	if len(tx.tips) > 0 {
		mainHeight++
	}
	bldr.SetHeight(mainHeight)

	for name, staged := range tx.staged {
		var storeParents []id.ID
		if !bootstrap {
			storeParents, err = tx.b.GetStoreTipsUpToEntries(ctx, tx.treeRoot, name, tx.tips)
			if err != nil {
				return "", err
			}
		}
		storeHeight, err := maxStoreHeight(ctx, tx.b, name, storeParents)
		if err != nil {
			return "", err
		}
		if len(storeParents) > 0 {
			storeHeight++
		}
		bldr.SetSubtreeData(name, staged.raw)
		bldr.SetSubtreeParents(name, storeParents)
		bldr.SetSubtreeHeight(name, storeHeight)
	}

	sigKey := tx.sigKey
	bldr.SetSig(entry.SigInfo{Key: sigKey, Hint: tx.hint})

	e, err := bldr.Build()
	if err != nil {
		return "", err
	}

	signingBytes, err := e.SigningBytes()
	if err != nil {
		return "", err
	}
	rawSig, err := tx.signer.Sign(signingBytes)
	if err != nil {
		return "", err
	}
	sigStr := base64.StdEncoding.EncodeToString(rawSig)
	e.Sig.Sig = &sigStr

	pub := tx.signer.PublicKey()
	if err := tx.b.Validate(ctx, e, pub); err != nil {
		logger().Error().Err(err).Msg("commit failed entry validation")
		return "", err
	}

	if !bootstrap {
		settingsDoc, err := tx.b.GetMergedState(ctx, tx.treeRoot, entry.ReservedSettingsStore, tx.tips)
		if err != nil {
			return "", err
		}
		resolved, err := auth.NewValidator(tx.b).Resolve(ctx, settingsDoc, e.Sig)
		if err != nil {
			logger().Error().Err(err).Msg("commit failed auth resolution")
			return "", err
		}
		if err := checkCommitAuth(tx, resolved, pub); err != nil {
			logger().Error().Err(err).Msg("commit refused")
			return "", err
		}
	}

	if err := tx.b.PutVerified(ctx, e); err != nil {
		logger().Error().Err(err).Msg("commit failed to persist entry")
		return "", err
	}
	tx.committed = true

	eid, err := e.ID()
	if err != nil {
		return "", err
	}
	treeLog := log.WithTree(string(tx.treeRoot))
	treeLog.Debug().Str("entry", string(eid)).Msg("committed transaction")
	return eid, nil
}

// checkCommitAuth applies the permission rules to an already-resolved
// signer: not revoked, key matches the signature, write access, and admin
// for _settings changes.
func checkCommitAuth(tx *Transaction, resolved auth.ResolvedAuth, pub identity.PublicKey) error {
	if resolved.KeyStatus == auth.StatusRevoked {
		return eideticaerr.New(eideticaerr.KindAuthPermissionDenied, "signing key is revoked")
	}
	if resolved.PublicKey.ToPrefixedString() != pub.ToPrefixedString() {
		return eideticaerr.New(eideticaerr.KindAuthInvalidSignature, "resolved auth key does not match the signing key")
	}
	if !resolved.EffectivePermission.CanWrite() {
		return eideticaerr.New(eideticaerr.KindAuthPermissionDenied, "signing key lacks write permission")
	}
	if _, settingsStaged := tx.staged[entry.ReservedSettingsStore]; settingsStaged && !resolved.EffectivePermission.CanAdmin() {
		return eideticaerr.New(eideticaerr.KindAuthPermissionDenied, "modifying _settings requires admin permission")
	}
	return nil
}

// mergedDoc returns name's fully merged historical Doc with whatever is
// currently staged for name folded in on top (staged wins on conflict,
// matching crdt.Doc.Merge's right-hand-side bias).
func (tx *Transaction) mergedDoc(ctx context.Context, name string) (*crdt.Doc, error) {
	historical, err := tx.GetFullState(ctx, name)
	if err != nil {
		return nil, err
	}
	staged, ok := tx.staged[name]
	if !ok {
		return historical, nil
	}
	stagedDoc := crdt.NewDoc()
	if staged.raw != "" {
		if err := stagedDoc.UnmarshalJSON([]byte(staged.raw)); err != nil {
			return nil, eideticaerr.Wrap(eideticaerr.KindSerialize, "decode staged store data", err)
		}
	}
	return historical.Merge(stagedDoc), nil
}

// GetStore returns a read-write handle on name: reads reflect staged
// writes merged over this Transaction's chosen-tips state, and further
// writes through the handle re-stage it automatically via UpdateSubtree.
func (tx *Transaction) GetStore(ctx context.Context, name string) (*store.Store, error) {
	doc, err := tx.mergedDoc(ctx, name)
	if err != nil {
		return nil, err
	}
	return store.New(name, doc, func(d *crdt.Doc) error {
		raw, err := d.MarshalJSON()
		if err != nil {
			return eideticaerr.Wrap(eideticaerr.KindSerialize, "encode store data", err)
		}
		return tx.UpdateSubtree(name, string(raw))
	}), nil
}

// GetStoreViewer returns a read-only handle on name with the same merge
// semantics as GetStore but whose mutating methods fail.
func (tx *Transaction) GetStoreViewer(ctx context.Context, name string) (*store.Store, error) {
	doc, err := tx.mergedDoc(ctx, name)
	if err != nil {
		return nil, err
	}
	return store.New(name, doc, nil), nil
}

// GetLocalDataAs decodes name's staged Doc (if anything has been staged
// for it) into a value of type T, via a JSON round-trip through the Doc's
// public (tombstone-free) form.
func GetLocalDataAs[T any](tx *Transaction, name string) (T, bool, error) {
	var zero T
	doc, ok, err := tx.GetLocalData(name)
	if err != nil || !ok {
		return zero, ok, err
	}
	raw, err := json.Marshal(doc.ToPublicJSON())
	if err != nil {
		return zero, false, eideticaerr.Wrap(eideticaerr.KindSerialize, "encode local data", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, false, eideticaerr.Wrap(eideticaerr.KindSerialize, "decode local data", err)
	}
	return out, true, nil
}

// GetFullStateAs decodes name's fully merged historical Doc into a value
// of type T, via the same JSON round-trip as GetLocalDataAs.
func GetFullStateAs[T any](ctx context.Context, tx *Transaction, name string) (T, error) {
	var zero T
	doc, err := tx.GetFullState(ctx, name)
	if err != nil {
		return zero, err
	}
	raw, err := json.Marshal(doc.ToPublicJSON())
	if err != nil {
		return zero, eideticaerr.Wrap(eideticaerr.KindSerialize, "encode full state", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, eideticaerr.Wrap(eideticaerr.KindSerialize, "decode full state", err)
	}
	return out, nil
}
