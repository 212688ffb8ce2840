package backend

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/cuemby/eidetica/internal/log"
	"github.com/cuemby/eidetica/pkg/crdt"
	"github.com/cuemby/eidetica/pkg/eideticaerr"
	"github.com/cuemby/eidetica/pkg/entry"
	"github.com/cuemby/eidetica/pkg/id"
)

func logger() *zerolog.Logger { l := log.WithComponent("backend"); return &l }

// EntrySource is the minimal read surface the traversal algorithms in this
// file need from a storage implementation: point lookup plus a full ID
// scan (used only by tip computation, which has no cheaper option without
// a maintained index). membackend and boltbackend each provide one so this
// logic lives exactly once.
type EntrySource interface {
	Get(eid id.ID) (*entry.Entry, bool)
	AllIDs() []id.ID
}

// parentsOf returns entryID's parents in the given scope: store == "" is
// the main tree; any other value a named store. An entry that does not
// carry the store links through its main parents instead, so store
// traversal crosses gaps where only other stores changed.
func parentsOf(src EntrySource, entryID id.ID, store string) []id.ID {
	e, ok := src.Get(entryID)
	if !ok {
		return nil
	}
	if store == "" {
		return e.Tree.Parents
	}
	if sub, ok := e.Subtree(store); ok {
		return sub.Parents
	}
	return e.Tree.Parents
}

// heightOf returns entryID's height in scope: the subtree height if the
// store carries one, else the main-tree height as fallback.
func heightOf(src EntrySource, entryID id.ID, store string) uint64 {
	e, ok := src.Get(entryID)
	if !ok {
		return 0
	}
	if store == "" {
		return e.Tree.Height
	}
	if sub, ok := e.Subtree(store); ok && sub.Height != nil {
		return *sub.Height
	}
	return e.Tree.Height
}

// SortedParents returns entryID's parents in store, sorted by height
// ascending then ID (the main tree when store == "").
func SortedParents(src EntrySource, entryID id.ID, store string) []id.ID {
	e, ok := src.Get(entryID)
	if !ok {
		return nil
	}
	if store != "" {
		if !e.InSubtree(store) {
			return nil
		}
	}
	parents := append([]id.ID(nil), parentsOf(src, entryID, store)...)
	sort.Slice(parents, func(i, j int) bool {
		hi, hj := heightOf(src, parents[i], store), heightOf(src, parents[j], store)
		if hi != hj {
			return hi < hj
		}
		return parents[i] < parents[j]
	})
	return parents
}

// BuildPathFromRoot walks backward from target through store-scoped
// parents (falling back to the main tree when target carries no such
// store, and using the main tree throughout when store == "") to the tree
// root, returning the path in root-to-target order.
func BuildPathFromRoot(src EntrySource, tree id.ID, store string, target id.ID) ([]id.ID, error) {
	var path []id.ID
	visited := make(map[id.ID]bool)
	current := target

	for {
		if visited[current] {
			return nil, eideticaerr.Newf(eideticaerr.KindBackendCycleDetected, "cycle detected at entry %q", current)
		}
		visited[current] = true
		path = append(path, current)

		e, ok := src.Get(current)
		if !ok {
			return nil, eideticaerr.Newf(eideticaerr.KindBackendEntryNotFound, "entry %q not found", current)
		}
		if current == tree || e.IsRoot() {
			break
		}

		var parents []id.ID
		if store == "" || !e.InSubtree(store) {
			parents = e.Tree.Parents
		} else {
			sub, _ := e.Subtree(store)
			parents = sub.Parents
		}
		if len(parents) == 0 {
			break
		}
		current = parents[0]
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// GetPathFromTo enumerates every entry ID on any path from any toTip back
// to from (exclusive of from), sorted by store height then ID.
func GetPathFromTo(src EntrySource, tree id.ID, store string, from id.ID, toTips []id.ID) ([]id.ID, error) {
	if len(toTips) == 0 {
		return nil, nil
	}

	var result []id.ID
	processed := make(map[id.ID]bool)
	var queue []id.ID
	for _, t := range toTips {
		if t != from {
			queue = append(queue, t)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if processed[current] {
			continue
		}
		if current == from {
			processed[current] = true
			continue
		}
		result = append(result, current)
		processed[current] = true

		for _, parent := range SortedParents(src, current, store) {
			if !processed[parent] {
				queue = append(queue, parent)
			}
		}
	}

	id.SortIDs(result)
	result = id.DedupSorted(result)
	sort.Slice(result, func(i, j int) bool {
		hi, hj := heightOf(src, result[i], store), heightOf(src, result[j], store)
		if hi != hj {
			return hi < hj
		}
		return result[i] < result[j]
	})
	logger().Debug().Str("store", store).Int("entries", len(result)).Msg("enumerated path to tips")
	return result, nil
}

// collectAncestors returns the set of ancestor IDs of entryID in store
// (including entryID itself).
func collectAncestors(src EntrySource, store string, entryID id.ID) map[id.ID]bool {
	ancestors := make(map[id.ID]bool)
	queue := []id.ID{entryID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if ancestors[current] {
			continue
		}
		ancestors[current] = true
		for _, parent := range parentsOf(src, current, store) {
			queue = append(queue, parent)
		}
	}
	return ancestors
}

// allPathsPassThrough reports whether every path from entryID back to a
// root passes through candidate: it tries to reach a root while avoiding
// candidate, and if it can, there is a bypass path.
func allPathsPassThrough(src EntrySource, store string, entryID, candidate id.ID) bool {
	if entryID == candidate {
		return true
	}
	visited := map[id.ID]bool{candidate: true}
	queue := []id.ID{entryID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true

		parents := parentsOf(src, current, store)
		if len(parents) == 0 {
			// Reached a root while avoiding candidate: a bypass path
			// exists.
			return false
		}
		queue = append(queue, parents...)
	}
	return true
}

// FindMergeBase returns the ancestor through which every path from every
// entryID back to a root must pass. This is stronger than a pairwise LCA:
// an LCA can be bypassed by a side branch that rejoins further up, and
// replaying mutations onto a bypassable ancestor silently drops the bypass
// branch's data.
func FindMergeBase(src EntrySource, tree id.ID, store string, entryIDs []id.ID) (id.ID, error) {
	if len(entryIDs) == 0 {
		return "", eideticaerr.New(eideticaerr.KindBackendEmptyEntryList, "find_merge_base called with no entries")
	}
	if len(entryIDs) == 1 {
		return entryIDs[0], nil
	}

	for _, eid := range entryIDs {
		e, ok := src.Get(eid)
		if !ok {
			return "", eideticaerr.Newf(eideticaerr.KindBackendEntryNotFound, "entry %q not found", eid)
		}
		if err := e.Validate(); err != nil {
			return "", err
		}
		if !e.InTree(tree) {
			return "", eideticaerr.Newf(eideticaerr.KindBackendEntryNotInTree, "entry %q not in tree %q", eid, tree)
		}
	}

	ancestorSets := make([]map[id.ID]bool, len(entryIDs))
	for i, eid := range entryIDs {
		ancestorSets[i] = collectAncestors(src, store, eid)
	}

	common := make(map[id.ID]bool)
	for a := range ancestorSets[0] {
		inAll := true
		for _, set := range ancestorSets[1:] {
			if !set[a] {
				inAll = false
				break
			}
		}
		if inAll {
			common[a] = true
		}
	}
	if len(common) == 0 {
		return "", eideticaerr.Newf(eideticaerr.KindBackendNoCommonAncestor, "no common ancestor among %v", entryIDs)
	}

	type candidate struct {
		id     id.ID
		height uint64
	}
	candidates := make([]candidate, 0, len(common))
	for a := range common {
		candidates = append(candidates, candidate{id: a, height: heightOf(src, a, store)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].height != candidates[j].height {
			return candidates[i].height > candidates[j].height
		}
		return candidates[i].id < candidates[j].id
	})

	for _, c := range candidates {
		allPass := true
		for _, eid := range entryIDs {
			if !allPathsPassThrough(src, store, eid, c.id) {
				allPass = false
				break
			}
		}
		if allPass {
			logger().Debug().
				Str("store", store).
				Str("base", string(c.id)).
				Int("candidates", len(candidates)).
				Msg("merge base computed")
			return c.id, nil
		}
	}
	return "", eideticaerr.Newf(eideticaerr.KindBackendNoCommonAncestor, "no dominating merge base among %v", entryIDs)
}

// MergeMergedState folds store's Doc data from every ancestor of tips
// (in ascending (height, ID) order, the fixed order crdt.Value's merge tie
// -break relies on for determinism) into a single CRDT Doc.
func MergeMergedState(src EntrySource, store string, tips []id.ID) (*crdt.Doc, error) {
	all := make(map[id.ID]bool)
	for _, tip := range tips {
		for a := range collectAncestors(src, store, tip) {
			all[a] = true
		}
	}
	ordered := make([]id.ID, 0, len(all))
	for a := range all {
		ordered = append(ordered, a)
	}
	sort.Slice(ordered, func(i, j int) bool {
		hi, hj := heightOf(src, ordered[i], store), heightOf(src, ordered[j], store)
		if hi != hj {
			return hi < hj
		}
		return ordered[i] < ordered[j]
	})

	merged := crdt.NewDoc()
	for _, eid := range ordered {
		e, ok := src.Get(eid)
		if !ok {
			continue
		}
		sub, ok := e.Subtree(store)
		if !ok || sub.Data == nil || *sub.Data == "" {
			continue
		}
		doc := crdt.NewDoc()
		if err := doc.UnmarshalJSON([]byte(*sub.Data)); err != nil {
			return nil, eideticaerr.Wrap(eideticaerr.KindSerialize, "decode store data", err)
		}
		merged = merged.Merge(doc)
	}
	return merged, nil
}

// ComputeTips scans every entry belonging to tree and returns those with no
// children in the main DAG (no other entry in tree lists them as a
// parent).
func ComputeTips(src EntrySource, tree id.ID) []id.ID {
	var inTree []id.ID
	for _, eid := range src.AllIDs() {
		e, ok := src.Get(eid)
		if ok && e.InTree(tree) {
			inTree = append(inTree, eid)
		}
	}
	isParent := make(map[id.ID]bool)
	for _, eid := range inTree {
		e, _ := src.Get(eid)
		for _, p := range e.Tree.Parents {
			isParent[p] = true
		}
	}
	var tips []id.ID
	for _, eid := range inTree {
		if !isParent[eid] {
			tips = append(tips, eid)
		}
	}
	id.SortIDs(tips)
	return tips
}

// ComputeStoreTips scans every entry carrying store within tree and
// returns those with no children within that store.
func ComputeStoreTips(src EntrySource, tree id.ID, store string) []id.ID {
	var inStore []id.ID
	for _, eid := range src.AllIDs() {
		e, ok := src.Get(eid)
		if ok && e.InTree(tree) && e.InSubtree(store) {
			inStore = append(inStore, eid)
		}
	}
	isParent := make(map[id.ID]bool)
	for _, eid := range inStore {
		e, _ := src.Get(eid)
		sub, _ := e.Subtree(store)
		for _, p := range sub.Parents {
			isParent[p] = true
		}
	}
	var tips []id.ID
	for _, eid := range inStore {
		if !isParent[eid] {
			tips = append(tips, eid)
		}
	}
	id.SortIDs(tips)
	return tips
}

// ComputeStoreTipsUpToEntries scopes store-tip computation to entries
// reachable (in the main DAG) from mainTips, matching
// get_store_tips_up_to_entries's custom-tips path.
func ComputeStoreTipsUpToEntries(src EntrySource, tree id.ID, store string, mainTips []id.ID) []id.ID {
	if len(mainTips) == 0 {
		return nil
	}
	reachable := make(map[id.ID]bool)
	for _, tip := range mainTips {
		for a := range collectAncestors(src, "", tip) {
			reachable[a] = true
		}
	}
	var inScope []id.ID
	for eid := range reachable {
		e, ok := src.Get(eid)
		if ok && e.InTree(tree) && e.InSubtree(store) {
			inScope = append(inScope, eid)
		}
	}
	scopeSet := make(map[id.ID]bool, len(inScope))
	for _, eid := range inScope {
		scopeSet[eid] = true
	}
	isParent := make(map[id.ID]bool)
	for _, eid := range inScope {
		e, _ := src.Get(eid)
		sub, _ := e.Subtree(store)
		for _, p := range sub.Parents {
			if scopeSet[p] {
				isParent[p] = true
			}
		}
	}
	var tips []id.ID
	for _, eid := range inScope {
		if !isParent[eid] {
			tips = append(tips, eid)
		}
	}
	id.SortIDs(tips)
	return tips
}
