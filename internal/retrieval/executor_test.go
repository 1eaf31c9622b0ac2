package retrieval

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/storage"
)

func seedNode(t *testing.T, store storage.Storage, node *memory.Node) {
	t.Helper()
	if node.UserID == "" {
		node.UserID = "u1"
	}
	if node.MemoryType == "" {
		node.MemoryType = memory.TypeFromPath(node.Path)
	}
	if node.Version == 0 {
		node.Version = 1
	}
	if node.UpdatedAt.IsZero() {
		node.UpdatedAt = time.Now().UTC()
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = node.UpdatedAt
	}
	require.NoError(t, store.Insert(context.Background(), node))
}

func TestRetrieveLexicalRanking(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Now().UTC()

	seedNode(t, store, &memory.Node{
		ID:         "n-lang",
		Path:       "mory://user_preference/language",
		Subject:    "language",
		Value:      "prefers japanese language replies",
		Confidence: 0.8,
		Importance: 0.6,
		UpdatedAt:  now,
	})
	seedNode(t, store, &memory.Node{
		ID:         "n-loc",
		Path:       "mory://user_fact/location",
		Subject:    "location",
		Value:      "lives in osaka",
		Confidence: 0.8,
		Importance: 0.6,
		UpdatedAt:  now,
	})
	// Outside the chat plan's scope, must never surface.
	seedNode(t, store, &memory.Node{
		ID:         "n-task",
		Path:       "mory://task/migration",
		Subject:    "migration",
		Value:      "japanese language migration notes",
		Confidence: 0.9,
		Importance: 0.9,
		UpdatedAt:  now,
	})

	exec := NewExecutor(store, nil, nil, nil)
	result, err := exec.Retrieve(context.Background(), "u1", "which language does this person speak", Options{})
	require.NoError(t, err)

	assert.Equal(t, IntentChat, result.Plan.Intent)
	require.Len(t, result.Hits, 2)
	assert.Equal(t, "n-lang", result.Hits[0].Node.ID)
	assert.Equal(t, "n-loc", result.Hits[1].Node.ID)
	assert.Greater(t, result.Hits[0].LexicalScore, result.Hits[1].LexicalScore)
	assert.Zero(t, result.Hits[0].SemanticScore)
}

func TestRetrieveSemanticRanking(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	mock := embeddings.NewMockEmbedder(32)
	now := time.Now().UTC()

	vectors, err := mock.EmbedDocuments(ctx, []string{"alpha beta gamma", "zzz yyy xxx"})
	require.NoError(t, err)

	seedNode(t, store, &memory.Node{
		ID:         "n-close",
		Path:       "mory://user_fact/one",
		Subject:    "one",
		Value:      "first stored snippet",
		Confidence: 0.7,
		Importance: 0.5,
		Embedding:  vectors[0],
		UpdatedAt:  now,
	})
	seedNode(t, store, &memory.Node{
		ID:         "n-far",
		Path:       "mory://user_fact/two",
		Subject:    "two",
		Value:      "second stored snippet",
		Confidence: 0.7,
		Importance: 0.5,
		Embedding:  vectors[1],
		UpdatedAt:  now,
	})

	exec := NewExecutor(store, mock, nil, nil)
	result, err := exec.Retrieve(ctx, "u1", "alpha beta gamma", Options{})
	require.NoError(t, err)

	require.Len(t, result.Hits, 2)
	assert.Equal(t, "n-close", result.Hits[0].Node.ID)
	assert.InDelta(t, 1.0, result.Hits[0].SemanticScore, 1e-6)
	assert.Greater(t, result.Hits[0].SemanticScore, result.Hits[1].SemanticScore)
}

func TestRetrieveTopKAndLayerLimits(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Now().UTC()

	for i := 0; i < 8; i++ {
		seedNode(t, store, &memory.Node{
			ID:         fmt.Sprintf("n-%d", i),
			Path:       fmt.Sprintf("mory://user_fact/fact_%d", i),
			Subject:    fmt.Sprintf("fact_%d", i),
			Value:      fmt.Sprintf("stored fact number %d", i),
			Detail:     fmt.Sprintf("long form detail for fact %d", i),
			Confidence: 0.7,
			Importance: 0.5,
			UpdatedAt:  now.Add(-time.Duration(i) * time.Hour),
		})
	}

	exec := NewExecutor(store, nil, nil, nil)

	one := 1
	result, err := exec.Retrieve(context.Background(), "u1", "hello", Options{
		TopK:    4,
		L0Limit: &one,
	})
	require.NoError(t, err)

	assert.Len(t, result.Hits, 4)
	assert.Len(t, result.L0, 1)
	assert.Len(t, result.L1, 4)
	assert.Len(t, result.L2, 2)
}

func TestRetrievePromptContext(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Now().UTC()

	seedNode(t, store, &memory.Node{
		ID:         "n-1",
		Path:       "mory://user_preference/language",
		Title:      "reply language",
		Subject:    "language",
		Value:      "replies in japanese",
		Detail:     "switched from english on 2026-05-01",
		Confidence: 0.9,
		Importance: 0.8,
		UpdatedAt:  now,
	})
	seedNode(t, store, &memory.Node{
		ID:         "n-2",
		Path:       "mory://user_fact/location",
		Subject:    "location",
		Value:      "lives in osaka",
		Confidence: 0.8,
		Importance: 0.6,
		UpdatedAt:  now.Add(-time.Hour),
	})

	exec := NewExecutor(store, nil, nil, nil)
	result, err := exec.Retrieve(context.Background(), "u1", "hello", Options{})
	require.NoError(t, err)

	assert.Contains(t, result.PromptContext, "[L0 Memory Index]")
	assert.Contains(t, result.PromptContext, "- mory://user_preference/language — reply language")
	assert.Contains(t, result.PromptContext, "[L1 Summary]")
	assert.Contains(t, result.PromptContext, "- mory://user_fact/location: lives in osaka")
	assert.Contains(t, result.PromptContext, "[L2 Detail]")
	assert.Contains(t, result.PromptContext, "- mory://user_preference/language: switched from english on 2026-05-01")
}

func TestRetrieveEmptyStore(t *testing.T) {
	exec := NewExecutor(storage.NewMemoryStore(), nil, nil, nil)
	result, err := exec.Retrieve(context.Background(), "u1", "hello", Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Hits)
	assert.Empty(t, result.PromptContext)
}

func TestRecencyScore(t *testing.T) {
	restore := timeNow
	defer func() { timeNow = restore }()
	fixed := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	timeNow = func() time.Time { return fixed }

	assert.InDelta(t, 1.0, recencyScore(fixed), 1e-9)
	assert.InDelta(t, math.Exp(-1), recencyScore(fixed.AddDate(0, 0, -14)), 1e-9)
	assert.InDelta(t, 0.3, recencyScore(time.Time{}), 1e-9)
}

func TestTitleFor(t *testing.T) {
	assert.Equal(t, "explicit", titleFor(&memory.Node{Title: "explicit", Value: "x"}))
	assert.Equal(t, "language: prefers japanese", titleFor(&memory.Node{
		Subject: "language",
		Value:   "prefers japanese",
	}))
	assert.Equal(t, "location: "+string([]rune("一二三四五六七八九十一二三四五六七八九十一二三四五")[:22]), titleFor(&memory.Node{
		Subject: "location",
		Value:   "一二三四五六七八九十一二三四五六七八九十一二三四五",
	}))
	assert.Equal(t, "current: working", titleFor(&memory.Node{
		Path:  "mory://task/current",
		Value: "working",
	}))
}
