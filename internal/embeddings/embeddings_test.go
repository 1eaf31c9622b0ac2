package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmbedderNone(t *testing.T) {
	e, err := NewEmbedder(ProviderConfig{Provider: "none"})
	require.NoError(t, err)
	assert.Nil(t, e)

	e, err = NewEmbedder(ProviderConfig{})
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestNewEmbedderUnknownProvider(t *testing.T) {
	_, err := NewEmbedder(ProviderConfig{Provider: "quantum"})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestMockEmbedderDeterministic(t *testing.T) {
	m := NewMockEmbedder(16)
	ctx := context.Background()

	a, err := m.EmbedQuery(ctx, "prefers chinese replies")
	require.NoError(t, err)
	b, err := m.EmbedQuery(ctx, "prefers chinese replies")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)

	_, err = m.EmbedQuery(ctx, "")
	require.ErrorIs(t, err, ErrEmptyInput)

	docs, err := m.EmbedDocuments(ctx, []string{"one", "two"})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestTEIService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode([][]float32{{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	svc, err := NewTEIService(TEIConfig{BaseURL: srv.URL, Dimension: 3})
	require.NoError(t, err)

	vec, err := svc.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 3, svc.Dimension())
}

func TestTEIServiceRequiresBaseURL(t *testing.T) {
	_, err := NewTEIService(TEIConfig{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTEIServiceErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	svc, err := NewTEIService(TEIConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = svc.EmbedQuery(context.Background(), "hello")
	require.ErrorIs(t, err, ErrEmbeddingFailed)
}
