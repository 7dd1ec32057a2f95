package filter

import (
	"context"
	"fmt"
	"sort"
)

// Resolver answers tag and scheme membership questions. It is implemented
// by the metadata store.
type Resolver interface {
	// AllDocuments returns every document id.
	AllDocuments(ctx context.Context) ([]string, error)
	// DocumentsWithTag returns documents carrying tag or any tag below it.
	DocumentsWithTag(ctx context.Context, tag string) ([]string, error)
	// DocumentsInScheme returns documents that belong to scheme.
	DocumentsInScheme(ctx context.Context, scheme string) ([]string, error)
	// ChunkIDs returns the chunk ids of the given documents.
	ChunkIDs(ctx context.Context, documentIDs []string) ([]string, error)
}

// Universe is the set of documents and chunks a query may return.
// The zero value is unrestricted.
type Universe struct {
	restricted bool
	documents  map[string]struct{}
	chunks     map[string]struct{}
}

// Unrestricted returns a universe that admits everything.
func Unrestricted() Universe { return Universe{} }

// NewUniverse builds a restricted universe from explicit id sets.
func NewUniverse(documentIDs, chunkIDs []string) Universe {
	u := Universe{
		restricted: true,
		documents:  make(map[string]struct{}, len(documentIDs)),
		chunks:     make(map[string]struct{}, len(chunkIDs)),
	}
	for _, id := range documentIDs {
		u.documents[id] = struct{}{}
	}
	for _, id := range chunkIDs {
		u.chunks[id] = struct{}{}
	}
	return u
}

// Restricted reports whether the universe is narrowed by a filter.
func (u Universe) Restricted() bool { return u.restricted }

// Empty reports a restricted universe with no documents. Queries over an
// empty universe return no results without touching the indexes.
func (u Universe) Empty() bool { return u.restricted && len(u.chunks) == 0 }

// Size is the number of chunks in a restricted universe, or -1.
func (u Universe) Size() int {
	if !u.restricted {
		return -1
	}
	return len(u.chunks)
}

// HasDocument reports whether documentID may be returned.
func (u Universe) HasDocument(documentID string) bool {
	if !u.restricted {
		return true
	}
	_, ok := u.documents[documentID]
	return ok
}

// HasChunk reports whether chunkID may be returned.
func (u Universe) HasChunk(chunkID string) bool {
	if !u.restricted {
		return true
	}
	_, ok := u.chunks[chunkID]
	return ok
}

// ChunkIDs returns the sorted chunk ids of a restricted universe, or nil.
func (u Universe) ChunkIDs() []string {
	if !u.restricted {
		return nil
	}
	ids := make([]string, 0, len(u.chunks))
	for id := range u.chunks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve turns f into a Universe using r. An empty filter yields an
// unrestricted universe. A filter nothing satisfies yields an empty
// universe, not an error.
func Resolve(ctx context.Context, r Resolver, f StrictFilter) (Universe, error) {
	n := f.Normalize()
	if n.IsEmpty() {
		return Unrestricted(), nil
	}
	if r == nil {
		return Universe{}, fmt.Errorf("strict filter given but no tag resolver configured")
	}

	var docs map[string]struct{}
	intersect := func(ids []string) {
		next := toSet(ids)
		if docs == nil {
			docs = next
			return
		}
		for id := range docs {
			if _, ok := next[id]; !ok {
				delete(docs, id)
			}
		}
	}

	for _, tag := range n.RequiredTags {
		ids, err := r.DocumentsWithTag(ctx, tag)
		if err != nil {
			return Universe{}, fmt.Errorf("resolve required tag %q: %w", tag, err)
		}
		intersect(ids)
	}
	if len(n.AnyTags) > 0 {
		var union []string
		for _, tag := range n.AnyTags {
			ids, err := r.DocumentsWithTag(ctx, tag)
			if err != nil {
				return Universe{}, fmt.Errorf("resolve any tag %q: %w", tag, err)
			}
			union = append(union, ids...)
		}
		intersect(union)
	}
	if len(n.RequiredSchemes) > 0 {
		var union []string
		for _, scheme := range n.RequiredSchemes {
			ids, err := r.DocumentsInScheme(ctx, scheme)
			if err != nil {
				return Universe{}, fmt.Errorf("resolve scheme %q: %w", scheme, err)
			}
			union = append(union, ids...)
		}
		intersect(union)
	}
	if docs == nil {
		all, err := r.AllDocuments(ctx)
		if err != nil {
			return Universe{}, fmt.Errorf("list documents: %w", err)
		}
		docs = toSet(all)
	}

	for _, tag := range n.ExcludedTags {
		ids, err := r.DocumentsWithTag(ctx, tag)
		if err != nil {
			return Universe{}, fmt.Errorf("resolve excluded tag %q: %w", tag, err)
		}
		for _, id := range ids {
			delete(docs, id)
		}
	}
	for _, scheme := range n.ExcludedSchemes {
		ids, err := r.DocumentsInScheme(ctx, scheme)
		if err != nil {
			return Universe{}, fmt.Errorf("resolve excluded scheme %q: %w", scheme, err)
		}
		for _, id := range ids {
			delete(docs, id)
		}
	}

	docIDs := make([]string, 0, len(docs))
	for id := range docs {
		docIDs = append(docIDs, id)
	}
	sort.Strings(docIDs)

	var chunkIDs []string
	if len(docIDs) > 0 {
		var err error
		chunkIDs, err = r.ChunkIDs(ctx, docIDs)
		if err != nil {
			return Universe{}, fmt.Errorf("resolve chunks: %w", err)
		}
	}
	return NewUniverse(docIDs, chunkIDs), nil
}

func toSet(ids []string) map[string]struct{} {
	s := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}
