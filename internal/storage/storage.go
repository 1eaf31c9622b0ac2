// Package storage persists memory nodes and serves the lexical and vector
// lookups the engine and retrieval executor run on every request.
//
// Two backends implement the Storage interface: MemoryStore for tests and
// ephemeral daemons, and SQLiteStore for durable single-node deployments.
// Vector recall can run brute-force over stored embeddings or through the
// chromem-go index in chromem.go.
package storage

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

var (
	// ErrDuplicateID is returned when inserting a node whose ID already exists.
	ErrDuplicateID = errors.New("node ID already exists")
	// ErrInvalidConfig is returned for unusable backend configuration.
	ErrInvalidConfig = errors.New("invalid storage configuration")
)

// ListOptions filters a List call. Zero value lists every live node.
type ListOptions struct {
	// IncludeArchived also returns nodes with a non-nil ArchivedAt.
	IncludeArchived bool
	// MemoryTypes restricts results to these types when nonempty.
	MemoryTypes []memory.Type
	// PathPrefixes restricts results to paths with any of these prefixes.
	PathPrefixes []string
	// Limit caps the result count. Zero means no cap.
	Limit int
}

// VectorSearchOptions parameterizes semantic recall.
type VectorSearchOptions struct {
	Vector       []float32
	TopK         int
	MemoryTypes  []memory.Type
	PathPrefixes []string
}

// SearchHit pairs a node with its cosine similarity to the query vector.
type SearchHit struct {
	Node       *memory.Node
	Similarity float64
}

// Storage is the persistence contract for memory nodes.
//
// List and ReadByPath return nodes newest-first by UpdatedAt. Implementations
// must return copies (or otherwise guarantee callers cannot mutate stored
// state through returned pointers).
type Storage interface {
	// Init creates schema or other backend state. Idempotent.
	Init(ctx context.Context) error
	// ReadByPath returns all nodes for a user at an exact path.
	ReadByPath(ctx context.Context, userID, path string, includeArchived bool) ([]*memory.Node, error)
	// ReadByID returns one node or memory.ErrNodeNotFound.
	ReadByID(ctx context.Context, userID, id string) (*memory.Node, error)
	// List returns the user's nodes filtered by opts.
	List(ctx context.Context, userID string, opts ListOptions) ([]*memory.Node, error)
	// Insert stores a new node.
	Insert(ctx context.Context, node *memory.Node) error
	// Update replaces the stored node with the same user ID and ID.
	Update(ctx context.Context, node *memory.Node) error
	// Archive stamps ArchivedAt on the given IDs and reports how many
	// transitioned from live to archived.
	Archive(ctx context.Context, userID string, ids []string) (int, error)
	// VectorSearch returns the TopK most similar live nodes that carry an
	// embedding, most similar first.
	VectorSearch(ctx context.Context, userID string, opts VectorSearchOptions) ([]SearchHit, error)
	// Close releases backend resources.
	Close() error
}

// sortHits orders hits most similar first, stable for ties.
func sortHits(hits []SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or empty vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// matchesList applies type and prefix filters shared by both backends.
func matchesList(node *memory.Node, opts ListOptions) bool {
	if !opts.IncludeArchived && node.Archived() {
		return false
	}
	if len(opts.MemoryTypes) > 0 {
		found := false
		for _, t := range opts.MemoryTypes {
			if node.MemoryType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(opts.PathPrefixes) > 0 {
		found := false
		for _, prefix := range opts.PathPrefixes {
			if hasPrefix(node.Path, prefix) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
