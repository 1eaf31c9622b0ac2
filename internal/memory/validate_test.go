package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCandidate(t *testing.T) {
	observed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	opts := ValidateOptions{Source: "session-42", ObservedAt: &observed}

	t.Run("complete candidate", func(t *testing.T) {
		cand, issues := ValidateCandidate(map[string]any{
			"path":       "mory://user_preference/language",
			"type":       "user_preference",
			"subject":    "language",
			"value":      "中文",
			"confidence": 0.9,
			"policy":     "overwrite",
			"importance": 0.8,
		}, opts)
		require.Empty(t, issues)
		require.NotNil(t, cand)
		assert.Equal(t, "mory://user_preference/language", cand.Path)
		assert.Equal(t, TypeUserPreference, cand.Type)
		assert.Equal(t, "中文", cand.Value)
		assert.Equal(t, 0.9, cand.Confidence)
		assert.Equal(t, PolicyOverwrite, cand.Policy)
		require.NotNil(t, cand.Importance)
		assert.Equal(t, 0.8, *cand.Importance)
		assert.Equal(t, "session-42", cand.Source)
		assert.Equal(t, &observed, cand.ObservedAt)
	})

	t.Run("missing value is fatal", func(t *testing.T) {
		cand, issues := ValidateCandidate(map[string]any{
			"path": "mory://user_fact/name",
		}, opts)
		assert.Nil(t, cand)
		require.Len(t, issues, 1)
		assert.Equal(t, "value", issues[0].Field)
	})

	t.Run("summary accepted as value alternate", func(t *testing.T) {
		cand, issues := ValidateCandidate(map[string]any{
			"path":    "mory://user_fact/name",
			"summary": "goes by Ada",
		}, opts)
		require.Empty(t, issues)
		assert.Equal(t, "goes by Ada", cand.Value)
	})

	t.Run("path synthesized from type and subject", func(t *testing.T) {
		cand, issues := ValidateCandidate(map[string]any{
			"type":    "skill",
			"subject": "rust",
			"value":   "writes embedded rust",
		}, opts)
		require.Empty(t, issues)
		assert.Equal(t, "mory://skill/rust", cand.Path)
		assert.Equal(t, TypeSkill, cand.Type)
	})

	t.Run("unknown type defaults to world_knowledge", func(t *testing.T) {
		cand, issues := ValidateCandidate(map[string]any{
			"type":  "gossip",
			"value": "something",
		}, opts)
		require.Empty(t, issues)
		assert.Equal(t, TypeWorldKnowledge, cand.Type)
		assert.Equal(t, "mory://world_knowledge/unknown", cand.Path)
	})

	t.Run("confidence defaults and clamps", func(t *testing.T) {
		cand, _ := ValidateCandidate(map[string]any{
			"path":  "mory://user_fact/name",
			"value": "Ada",
		}, opts)
		assert.Equal(t, 0.7, cand.Confidence)

		cand, _ = ValidateCandidate(map[string]any{
			"path":       "mory://user_fact/name",
			"value":      "Ada",
			"confidence": 7.5,
		}, opts)
		assert.Equal(t, 1.0, cand.Confidence)

		cand, _ = ValidateCandidate(map[string]any{
			"path":       "mory://user_fact/name",
			"value":      "Ada",
			"confidence": "0.6",
		}, opts)
		assert.Equal(t, 0.6, cand.Confidence)
	})

	t.Run("invalid policy falls back to registry default", func(t *testing.T) {
		cand, _ := ValidateCandidate(map[string]any{
			"path":   "mory://user_preference/language",
			"value":  "english",
			"policy": "yolo",
		}, opts)
		assert.Equal(t, PolicyOverwrite, cand.Policy)

		cand, _ = ValidateCandidate(map[string]any{
			"path":  "mory://user_fact/goals",
			"value": "ship the daemon",
		}, opts)
		assert.Equal(t, PolicyMergeAppend, cand.Policy)
	})

	t.Run("messy path normalized", func(t *testing.T) {
		cand, _ := ValidateCandidate(map[string]any{
			"path":  "/profile/preferences/language",
			"value": "japanese",
		}, opts)
		assert.Equal(t, "mory://user_preference/language", cand.Path)
	})

	t.Run("strict path rejects non-registry paths", func(t *testing.T) {
		strict := opts
		strict.StrictPath = true
		cand, issues := ValidateCandidate(map[string]any{
			"path":  "mory://user_preference/favorite_dinosaur",
			"value": "stegosaurus",
		}, strict)
		assert.Nil(t, cand)
		require.Len(t, issues, 1)
		assert.Equal(t, "path", issues[0].Field)
	})

	t.Run("nil object", func(t *testing.T) {
		cand, issues := ValidateCandidate(nil, opts)
		assert.Nil(t, cand)
		require.Len(t, issues, 1)
		assert.Equal(t, "memory", issues[0].Field)
	})
}

func TestValidatePayload(t *testing.T) {
	cands, issues := ValidatePayload(&ExtractionPayload{
		Memories: []map[string]any{
			{"path": "mory://user_fact/name", "value": "Ada"},
			{"path": "mory://user_fact/location"},
			{"type": "task", "subject": "migration", "value": "migrating to sqlite"},
		},
	}, ValidateOptions{})

	require.Len(t, cands, 2)
	assert.Equal(t, "mory://user_fact/name", cands[0].Path)
	assert.Equal(t, "mory://task/migration", cands[1].Path)

	require.Len(t, issues, 1)
	assert.Equal(t, "memories[1].value", issues[0].Field)

	_, issues = ValidatePayload(nil, ValidateOptions{})
	require.Len(t, issues, 1)
	assert.Equal(t, "memories", issues[0].Field)
}

func TestParseExtractionJSON(t *testing.T) {
	payload, err := ParseExtractionJSON(`{"memories":[{"path":"mory://user_fact/name","value":"Ada"}]}`)
	require.NoError(t, err)
	require.Len(t, payload.Memories, 1)

	_, err = ParseExtractionJSON(`{"notes":[]}`)
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = ParseExtractionJSON(`not json`)
	require.ErrorIs(t, err, ErrInvalidPayload)
}
