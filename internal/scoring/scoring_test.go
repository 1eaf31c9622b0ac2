package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

func floatPtr(v float64) *float64 { return &v }

func TestDeriveNovelty(t *testing.T) {
	assert.Equal(t, 1.0, DeriveNovelty(nil, "anything"))

	existing := []*memory.Node{
		{Value: "prefers tabs over spaces"},
		{Value: "works in tokyo"},
	}
	assert.Equal(t, 0.0, DeriveNovelty(existing, "prefers tabs over spaces"))

	novel := DeriveNovelty(existing, "allergic to peanuts")
	assert.Equal(t, 1.0, novel)

	partial := DeriveNovelty(existing, "prefers tabs always")
	assert.Greater(t, partial, 0.0)
	assert.Less(t, partial, 1.0)
}

func TestDerivePriors(t *testing.T) {
	tests := []struct {
		typ            memory.Type
		wantImportance float64
		wantUtility    float64
	}{
		{memory.TypeUserPreference, 0.90, 0.95},
		{memory.TypeUserFact, 0.85, 0.85},
		{memory.TypeSkill, 0.70, 0.75},
		{memory.TypeEvent, 0.55, 0.50},
		{memory.TypeTask, 0.80, 0.90},
		{memory.TypeWorldKnowledge, 0.50, 0.45},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			cand := &memory.Candidate{Type: tt.typ}
			assert.Equal(t, tt.wantImportance, DeriveImportance(cand))
			assert.Equal(t, tt.wantUtility, DeriveUtility(cand))
		})
	}
}

func TestDeriveExplicitOverridesPrior(t *testing.T) {
	cand := &memory.Candidate{
		Type:       memory.TypeWorldKnowledge,
		Importance: floatPtr(0.99),
		Utility:    floatPtr(1.7),
	}
	assert.Equal(t, 0.99, DeriveImportance(cand))
	assert.Equal(t, 1.0, DeriveUtility(cand), "explicit utility is clamped")
}

func TestScoreWriteCandidateWeighted(t *testing.T) {
	cand := &memory.Candidate{
		Type:       memory.TypeUserPreference,
		Value:      "prefers concise answers",
		Confidence: 0.9,
	}
	res := ScoreWriteCandidate(nil, cand, Options{})

	assert.Equal(t, ModeWeighted, res.Mode)
	assert.Equal(t, 0.58, res.Threshold)
	assert.InDelta(t, 0.945, res.Score, 1e-9)
	assert.True(t, res.ShouldWrite)
	assert.Equal(t, 1.0, res.Components.Novelty)
}

func TestScoreWriteCandidateProduct(t *testing.T) {
	cand := &memory.Candidate{
		Type:       memory.TypeUserPreference,
		Value:      "prefers concise answers",
		Confidence: 0.9,
	}
	res := ScoreWriteCandidate(nil, cand, Options{Mode: ModeProduct})

	assert.Equal(t, ModeProduct, res.Mode)
	assert.Equal(t, 0.18, res.Threshold)
	assert.InDelta(t, 0.7695, res.Score, 1e-9)
	assert.True(t, res.ShouldWrite)
}

func TestScoreWriteCandidateRejectsWeak(t *testing.T) {
	cand := &memory.Candidate{
		Type:       memory.TypeWorldKnowledge,
		Value:      "minor trivia",
		Confidence: 0.1,
		Importance: floatPtr(0.1),
		Utility:    floatPtr(0.1),
	}
	res := ScoreWriteCandidate(nil, cand, Options{})

	assert.False(t, res.ShouldWrite)
	assert.InDelta(t, 0.415, res.Score, 1e-9)
	assert.Contains(t, res.Reason, "threshold")
}

func TestScoreWriteCandidateNoveltyGate(t *testing.T) {
	existing := []*memory.Node{{Value: "prefers dark mode"}}
	cand := &memory.Candidate{
		Type:       memory.TypeUserPreference,
		Value:      "prefers dark mode",
		Confidence: 1.0,
	}
	res := ScoreWriteCandidate(existing, cand, Options{})

	require.False(t, res.ShouldWrite)
	assert.Equal(t, 0.0, res.Score)
	assert.Contains(t, res.Reason, "below minimum")
	assert.Equal(t, 1.0, res.Components.Confidence, "components are still reported")
}

func TestScoreWriteCandidateCustomOptions(t *testing.T) {
	cand := &memory.Candidate{
		Type:       memory.TypeEvent,
		Value:      "server restarted during deploy",
		Confidence: 0.6,
	}
	res := ScoreWriteCandidate(nil, cand, Options{
		Threshold:  floatPtr(0.99),
		MinNovelty: floatPtr(0.0),
	})
	assert.Equal(t, 0.99, res.Threshold)
	assert.False(t, res.ShouldWrite)

	custom := ScoreWriteCandidate(nil, cand, Options{
		Weights: &Weights{Importance: 0, Novelty: 1, Utility: 0, Confidence: 0},
	})
	assert.Equal(t, 1.0, custom.Score, "full novelty dominates custom weights")
	assert.True(t, custom.ShouldWrite)
}
