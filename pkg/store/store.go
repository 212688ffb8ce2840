// Package store implements the typed store handle a Transaction hands out
// for a named subtree: reads merge staged data over the backend's
// historical state at the transaction's chosen tips, and writes mutate the
// staged Doc in place. The typed accessors are free generic functions
// rather than methods, since Go forbids type parameters on methods and
// pkg/transaction.GetStore/GetStoreViewer need one handle type regardless
// of what T a caller later decodes a value as.
package store

import (
	"encoding/json"
	"strings"

	"github.com/cuemby/eidetica/pkg/crdt"
	"github.com/cuemby/eidetica/pkg/eideticaerr"
)

// Store wraps a named subtree's crdt.Doc with an optional persist
// callback. A nil persist makes it a read-only viewer: mutating calls fail
// with KindTransactionInvalidOperation instead of silently dropping the
// write.
type Store struct {
	name    string
	doc     *crdt.Doc
	persist func(*crdt.Doc) error
}

// New wraps doc as a Store over the named subtree. persist is called after
// every mutation; pass nil for a read-only viewer.
func New(name string, doc *crdt.Doc, persist func(*crdt.Doc) error) *Store {
	if doc == nil {
		doc = crdt.NewDoc()
	}
	return &Store{name: name, doc: doc, persist: persist}
}

// Name returns the subtree name this Store is bound to.
func (s *Store) Name() string { return s.name }

// Doc exposes the underlying Doc directly, e.g. for read-only iteration.
func (s *Store) Doc() *crdt.Doc { return s.doc }

// ReadOnly reports whether s was built as a viewer (no persist callback).
func (s *Store) ReadOnly() bool { return s.persist == nil }

func (s *Store) save() error {
	if s.persist == nil {
		return eideticaerr.New(eideticaerr.KindTransactionInvalidOperation, "store handle is read-only")
	}
	return s.persist(s.doc)
}

// Get returns the live value at key.
func (s *Store) Get(key string) (crdt.Value, bool) { return s.doc.Get(key) }

// GetString returns the text value at key, failing with KeyNotFound on a
// missing key and TypeMismatch on a non-text one.
func (s *Store) GetString(key string) (string, error) {
	v, ok := s.Get(key)
	if !ok {
		return "", eideticaerr.Newf(eideticaerr.KindStoreKeyNotFound, "key %q not found", key)
	}
	text, isText := v.Text()
	if !isText {
		return "", eideticaerr.Newf(eideticaerr.KindCRDTTypeMismatch, "value at %q is not text", key)
	}
	return text, nil
}

// SetString stores a text value at key and persists the staged Doc.
func (s *Store) SetString(key, value string) error {
	return s.Set(key, crdt.TextValue(value))
}

// GetAll returns every live (key, value) pair in the store.
func (s *Store) GetAll() map[string]crdt.Value {
	out := make(map[string]crdt.Value)
	for _, key := range s.doc.Keys() {
		if v, ok := s.doc.Get(key); ok {
			out[key] = v
		}
	}
	return out
}

// GetPath walks a dotted path.
func (s *Store) GetPath(path string) (crdt.Value, bool, error) { return s.doc.GetPath(path) }

// Set stores value at key and persists the staged Doc.
func (s *Store) Set(key string, value crdt.Value) error {
	s.doc.Set(key, value)
	return s.save()
}

// SetPath sets value at a dotted path, creating intermediate nodes, and
// persists the staged Doc.
func (s *Store) SetPath(path string, value crdt.Value) error {
	if err := s.doc.SetPath(path, value); err != nil {
		return err
	}
	return s.save()
}

// Delete tombstones key and persists the staged Doc.
func (s *Store) Delete(key string) error {
	s.doc.Delete(key)
	return s.save()
}

// Keys returns the Doc's live top-level keys.
func (s *Store) Keys() []string { return s.doc.Keys() }

// Len returns the number of live top-level keys.
func (s *Store) Len() int { return s.doc.Len() }

// IsEmpty reports whether the Doc has no live top-level keys.
func (s *Store) IsEmpty() bool { return s.doc.IsEmpty() }

// List operations, forwarding to the underlying Doc's list-at-key support.

func (s *Store) ListAdd(key string, value crdt.Value) (string, error) {
	elemID := s.doc.ListAdd(key, value)
	return elemID, s.save()
}

func (s *Store) ListRemove(key, elemID string) (bool, error) {
	removed := s.doc.ListRemove(key, elemID)
	if !removed {
		return false, nil
	}
	return true, s.save()
}

func (s *Store) ListGet(key, elemID string) (crdt.Value, bool) { return s.doc.ListGet(key, elemID) }
func (s *Store) ListIDs(key string) []string                   { return s.doc.ListIDs(key) }
func (s *Store) ListLen(key string) int                        { return s.doc.ListLen(key) }

// ValueEditor is a cursor into a nested path of a Store, built by chaining
// GetValueMut calls: store.GetValueMut("user").GetValueMut("profile").Set(v)
// writes at user.profile. Reads and writes go through the owning Store, so
// a write persists the staged Doc exactly like a direct Set would.
type ValueEditor struct {
	store *Store
	path  []string
}

// GetValueMut starts an editor positioned at the top-level key.
func (s *Store) GetValueMut(key string) *ValueEditor {
	return &ValueEditor{store: s, path: []string{key}}
}

// GetValueMut descends one level, returning a new editor for the nested
// key.
func (e *ValueEditor) GetValueMut(key string) *ValueEditor {
	path := make([]string, 0, len(e.path)+1)
	path = append(path, e.path...)
	path = append(path, key)
	return &ValueEditor{store: e.store, path: path}
}

func (e *ValueEditor) dotted() string { return strings.Join(e.path, ".") }

// Get returns the live value at the editor's position.
func (e *ValueEditor) Get() (crdt.Value, bool, error) {
	return e.store.GetPath(e.dotted())
}

// Set writes value at the editor's position, creating intermediate nodes,
// and persists the staged Doc.
func (e *ValueEditor) Set(value crdt.Value) error {
	return e.store.SetPath(e.dotted(), value)
}

// Delete tombstones the editor's position and persists the staged Doc.
func (e *ValueEditor) Delete() error {
	return e.Set(crdt.DeletedValue())
}

// Get decodes the JSON-encoded value stored at key into a value of type T.
// Values are written by Set, which stores JSON text.
func Get[T any](s *Store, key string) (T, error) {
	var out T
	v, ok := s.Get(key)
	if !ok {
		return out, eideticaerr.Newf(eideticaerr.KindStoreKeyNotFound, "key %q not found", key)
	}
	text, isText := v.Text()
	if !isText {
		return out, eideticaerr.Newf(eideticaerr.KindCRDTTypeMismatch, "value at %q is not a typed-store entry", key)
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return out, eideticaerr.Wrap(eideticaerr.KindSerialize, "decode typed store value", err)
	}
	return out, nil
}

// Set JSON-encodes val and stores it at key.
func Set[T any](s *Store, key string, val T) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return eideticaerr.Wrap(eideticaerr.KindSerialize, "encode typed store value", err)
	}
	return s.Set(key, crdt.TextValue(string(raw)))
}
