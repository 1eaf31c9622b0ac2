package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

var timeNow = time.Now

// MemoryStore is an in-process Storage backed by a slice under an RWMutex.
// Suitable for tests and ephemeral daemons; everything is lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []*memory.Node
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func cloneNode(n *memory.Node) *memory.Node {
	c := *n
	if n.Embedding != nil {
		c.Embedding = append([]float32(nil), n.Embedding...)
	}
	return &c
}

func sortByUpdatedDesc(nodes []*memory.Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].UpdatedAt.After(nodes[j].UpdatedAt)
	})
}

func (s *MemoryStore) ReadByPath(ctx context.Context, userID, path string, includeArchived bool) ([]*memory.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*memory.Node
	for _, row := range s.rows {
		if row.UserID != userID || row.Path != path {
			continue
		}
		if !includeArchived && row.Archived() {
			continue
		}
		out = append(out, cloneNode(row))
	}
	sortByUpdatedDesc(out)
	return out, nil
}

func (s *MemoryStore) ReadByID(ctx context.Context, userID, id string) (*memory.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.rows {
		if row.UserID == userID && row.ID == id {
			return cloneNode(row), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", memory.ErrNodeNotFound, id)
}

func (s *MemoryStore) List(ctx context.Context, userID string, opts ListOptions) ([]*memory.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*memory.Node
	for _, row := range s.rows {
		if row.UserID != userID || !matchesList(row, opts) {
			continue
		}
		out = append(out, cloneNode(row))
	}
	sortByUpdatedDesc(out)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Insert(ctx context.Context, node *memory.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.rows {
		if row.UserID == node.UserID && row.ID == node.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateID, node.ID)
		}
	}
	s.rows = append(s.rows, cloneNode(node))
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, node *memory.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, row := range s.rows {
		if row.UserID == node.UserID && row.ID == node.ID {
			s.rows[i] = cloneNode(node)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", memory.ErrNodeNotFound, node.ID)
}

func (s *MemoryStore) Archive(ctx context.Context, userID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := timeNow().UTC()
	count := 0
	for _, row := range s.rows {
		if row.UserID != userID || row.Archived() {
			continue
		}
		if _, ok := idSet[row.ID]; !ok {
			continue
		}
		archivedAt := now
		row.ArchivedAt = &archivedAt
		row.UpdatedAt = now
		count++
	}
	return count, nil
}

func (s *MemoryStore) VectorSearch(ctx context.Context, userID string, opts VectorSearchOptions) ([]SearchHit, error) {
	pool, err := s.List(ctx, userID, ListOptions{
		MemoryTypes:  opts.MemoryTypes,
		PathPrefixes: opts.PathPrefixes,
	})
	if err != nil {
		return nil, err
	}

	var hits []SearchHit
	for _, node := range pool {
		if len(node.Embedding) == 0 {
			continue
		}
		hits = append(hits, SearchHit{
			Node:       node,
			Similarity: CosineSimilarity(opts.Vector, node.Embedding),
		})
	}
	sortHits(hits)
	if opts.TopK > 0 && len(hits) > opts.TopK {
		hits = hits[:opts.TopK]
	}
	return hits, nil
}

var _ Storage = (*MemoryStore)(nil)
