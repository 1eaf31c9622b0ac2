package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

func testNode(id, userID, path string, t memory.Type, value string, updatedAt time.Time) *memory.Node {
	return &memory.Node{
		ID:         id,
		UserID:     userID,
		Path:       path,
		MemoryType: t,
		Subject:    "subject",
		Value:      value,
		Confidence: 0.8,
		Importance: 0.6,
		Version:    1,
		CreatedAt:  updatedAt,
		UpdatedAt:  updatedAt,
	}
}

// runStorageSuite exercises the Storage contract against any backend.
func runStorageSuite(t *testing.T, newStore func(t *testing.T) Storage) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("insert and read by path newest first", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, testNode("a", "u1", "mory://user_fact/name", memory.TypeUserFact, "Ada", base)))
		require.NoError(t, s.Insert(ctx, testNode("b", "u1", "mory://user_fact/name", memory.TypeUserFact, "Ada L.", base.Add(time.Hour))))

		nodes, err := s.ReadByPath(ctx, "u1", "mory://user_fact/name", false)
		require.NoError(t, err)
		require.Len(t, nodes, 2)
		assert.Equal(t, "b", nodes[0].ID)
		assert.Equal(t, "a", nodes[1].ID)
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		s := newStore(t)
		n := testNode("a", "u1", "mory://user_fact/name", memory.TypeUserFact, "Ada", base)
		require.NoError(t, s.Insert(ctx, n))
		err := s.Insert(ctx, testNode("a", "u1", "mory://user_fact/location", memory.TypeUserFact, "Tokyo", base))
		require.ErrorIs(t, err, ErrDuplicateID)
	})

	t.Run("read by id", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, testNode("a", "u1", "mory://user_fact/name", memory.TypeUserFact, "Ada", base)))

		node, err := s.ReadByID(ctx, "u1", "a")
		require.NoError(t, err)
		assert.Equal(t, "Ada", node.Value)

		_, err = s.ReadByID(ctx, "u1", "missing")
		require.ErrorIs(t, err, memory.ErrNodeNotFound)

		_, err = s.ReadByID(ctx, "other-user", "a")
		require.ErrorIs(t, err, memory.ErrNodeNotFound, "users never see each other's nodes")
	})

	t.Run("list filters by type and prefix", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, testNode("a", "u1", "mory://user_fact/name", memory.TypeUserFact, "Ada", base)))
		require.NoError(t, s.Insert(ctx, testNode("b", "u1", "mory://skill/go", memory.TypeSkill, "go expert", base.Add(time.Minute))))
		require.NoError(t, s.Insert(ctx, testNode("c", "u1", "mory://task/current", memory.TypeTask, "shipping", base.Add(2*time.Minute))))

		nodes, err := s.List(ctx, "u1", ListOptions{MemoryTypes: []memory.Type{memory.TypeSkill}})
		require.NoError(t, err)
		require.Len(t, nodes, 1)
		assert.Equal(t, "b", nodes[0].ID)

		nodes, err = s.List(ctx, "u1", ListOptions{PathPrefixes: []string{"mory://task/", "mory://skill/"}})
		require.NoError(t, err)
		assert.Len(t, nodes, 2)

		nodes, err = s.List(ctx, "u1", ListOptions{Limit: 2})
		require.NoError(t, err)
		require.Len(t, nodes, 2)
		assert.Equal(t, "c", nodes[0].ID, "newest first")
	})

	t.Run("update replaces fields", func(t *testing.T) {
		s := newStore(t)
		n := testNode("a", "u1", "mory://user_fact/name", memory.TypeUserFact, "Ada", base)
		require.NoError(t, s.Insert(ctx, n))

		n.Value = "Ada Lovelace"
		n.AccessCount = 3
		n.ConflictFlag = true
		require.NoError(t, s.Update(ctx, n))

		got, err := s.ReadByID(ctx, "u1", "a")
		require.NoError(t, err)
		assert.Equal(t, "Ada Lovelace", got.Value)
		assert.Equal(t, 3, got.AccessCount)
		assert.True(t, got.ConflictFlag)

		missing := testNode("zz", "u1", "mory://user_fact/name", memory.TypeUserFact, "x", base)
		require.ErrorIs(t, s.Update(ctx, missing), memory.ErrNodeNotFound)
	})

	t.Run("archive hides nodes from default reads", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, testNode("a", "u1", "mory://event/2026-01-01.x", memory.TypeEvent, "old event", base)))
		require.NoError(t, s.Insert(ctx, testNode("b", "u1", "mory://event/2026-01-02.y", memory.TypeEvent, "new event", base.Add(time.Hour))))

		count, err := s.Archive(ctx, "u1", []string{"a", "missing"})
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		nodes, err := s.List(ctx, "u1", ListOptions{})
		require.NoError(t, err)
		require.Len(t, nodes, 1)
		assert.Equal(t, "b", nodes[0].ID)

		nodes, err = s.List(ctx, "u1", ListOptions{IncludeArchived: true})
		require.NoError(t, err)
		assert.Len(t, nodes, 2)

		// Archiving twice is a no-op.
		count, err = s.Archive(ctx, "u1", []string{"a"})
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("vector search ranks by cosine", func(t *testing.T) {
		s := newStore(t)
		a := testNode("a", "u1", "mory://skill/go", memory.TypeSkill, "go", base)
		a.Embedding = []float32{1, 0, 0}
		b := testNode("b", "u1", "mory://skill/rust", memory.TypeSkill, "rust", base)
		b.Embedding = []float32{0, 1, 0}
		c := testNode("c", "u1", "mory://skill/zig", memory.TypeSkill, "zig", base)
		require.NoError(t, s.Insert(ctx, a))
		require.NoError(t, s.Insert(ctx, b))
		require.NoError(t, s.Insert(ctx, c))

		hits, err := s.VectorSearch(ctx, "u1", VectorSearchOptions{
			Vector: []float32{0.9, 0.1, 0},
			TopK:   2,
		})
		require.NoError(t, err)
		require.Len(t, hits, 2, "nodes without embeddings are excluded")
		assert.Equal(t, "a", hits[0].Node.ID)
		assert.Greater(t, hits[0].Similarity, hits[1].Similarity)
	})
}

func TestMemoryStore(t *testing.T) {
	runStorageSuite(t, func(t *testing.T) Storage {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStorageSuite(t, func(t *testing.T) Storage {
		s, err := NewSQLiteStore(":memory:")
		require.NoError(t, err)
		require.NoError(t, s.Init(context.Background()))
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteStoreRoundTripsOptionalFields(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Init(ctx))
	defer s.Close()

	utility := 0.75
	observed := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	n := testNode("a", "u1", "mory://user_preference/language", memory.TypeUserPreference, "中文", time.Now().UTC())
	n.Title = "language"
	n.Detail = "prefers simplified characters"
	n.Utility = &utility
	n.Source = "session-1"
	n.ObservedAt = &observed
	n.Supersedes = "old-id"
	n.Embedding = []float32{0.5, 0.5}
	require.NoError(t, s.Insert(ctx, n))

	got, err := s.ReadByID(ctx, "u1", "a")
	require.NoError(t, err)
	assert.Equal(t, "language", got.Title)
	assert.Equal(t, "prefers simplified characters", got.Detail)
	require.NotNil(t, got.Utility)
	assert.Equal(t, 0.75, *got.Utility)
	assert.Equal(t, "session-1", got.Source)
	require.NotNil(t, got.ObservedAt)
	assert.True(t, got.ObservedAt.Equal(observed))
	assert.Equal(t, "old-id", got.Supersedes)
	assert.Equal(t, []float32{0.5, 0.5}, got.Embedding)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity(nil, []float32{1}), "empty vector")
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 2}, []float32{1}), "dimension mismatch")
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}), "zero norm")
}

func TestChromemIndex(t *testing.T) {
	ctx := context.Background()
	ix, err := NewChromemIndex(ChromemConfig{VectorSize: 3}, nil)
	require.NoError(t, err)

	a := testNode("a", "u1", "mory://skill/go", memory.TypeSkill, "go", time.Now())
	a.Embedding = []float32{1, 0, 0}
	b := testNode("b", "u1", "mory://skill/rust", memory.TypeSkill, "rust", time.Now())
	b.Embedding = []float32{0, 1, 0}
	noVec := testNode("c", "u1", "mory://skill/zig", memory.TypeSkill, "zig", time.Now())

	require.NoError(t, ix.Index(ctx, a))
	require.NoError(t, ix.Index(ctx, b))
	require.NoError(t, ix.Index(ctx, noVec), "nodes without embeddings are ignored")

	hits, err := ix.Query(ctx, "u1", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Greater(t, hits["a"], hits["b"])

	// Other users see an empty index.
	hits, err = ix.Query(ctx, "u2", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, ix.Remove(ctx, "u1", "a"))
	hits, err = ix.Query(ctx, "u1", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}
