package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

func existingNode(value string, confidence float64, updatedAt time.Time) *memory.Node {
	return &memory.Node{
		ID:         "node-1",
		Path:       "mory://user_preference/language",
		Value:      value,
		Confidence: confidence,
		Version:    3,
		UpdatedAt:  updatedAt,
	}
}

func incomingCand(value string, confidence float64, policy memory.UpdatePolicy) *memory.Candidate {
	return &memory.Candidate{
		Path:       "mory://user_preference/language",
		Value:      value,
		Confidence: confidence,
		Policy:     policy,
		Source:     "session-7",
	}
}

func TestResolveNearDuplicateKeepsExisting(t *testing.T) {
	existing := existingNode("prefers chinese replies", 0.8, time.Now())
	res := Resolve(existing, incomingCand("prefers chinese replies", 0.9, memory.PolicyOverwrite), Options{})

	assert.Equal(t, ActionKeepExisting, res.Action)
	assert.False(t, res.Conflict)
	assert.Nil(t, res.Next)
}

func TestResolveContradictionIncomingWinsByConfidence(t *testing.T) {
	existing := existingNode("likes spicy food", 0.6, time.Now())
	incoming := incomingCand("does not like spicy food", 0.9, memory.PolicyOverwrite)
	res := Resolve(existing, incoming, Options{})

	require.Equal(t, ActionReplaceExisting, res.Action)
	assert.True(t, res.Conflict)
	require.NotNil(t, res.Next)
	assert.Equal(t, "does not like spicy food", res.Next.Value)
	assert.Equal(t, 4, res.Next.Version)
	assert.Equal(t, "node-1", res.Next.Supersedes)
	assert.True(t, res.Next.ConflictFlag)
	assert.Equal(t, "session-7", res.Next.Source)
}

func TestResolveContradictionIncomingWinsByRecency(t *testing.T) {
	existing := existingNode("likes spicy food", 0.9, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	incoming := incomingCand("does not like spicy food", 0.5, memory.PolicyOverwrite)
	observed := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	incoming.ObservedAt = &observed

	res := Resolve(existing, incoming, Options{})
	require.Equal(t, ActionReplaceExisting, res.Action)
	assert.True(t, res.Conflict)
}

func TestResolveContradictionExistingRetained(t *testing.T) {
	// Incoming is neither more confident nor newer.
	existing := existingNode("likes spicy food", 0.9, time.Now())
	incoming := incomingCand("does not like spicy food", 0.5, memory.PolicyOverwrite)

	res := Resolve(existing, incoming, Options{})
	assert.Equal(t, ActionFlagConflict, res.Action)
	assert.True(t, res.Conflict)
	assert.Nil(t, res.Next)
}

func TestResolveContradictionPolicySkipNeverReplaces(t *testing.T) {
	existing := existingNode("likes spicy food", 0.1, time.Now())
	incoming := incomingCand("does not like spicy food", 0.99, memory.PolicySkip)

	res := Resolve(existing, incoming, Options{})
	assert.Equal(t, ActionFlagConflict, res.Action)
}

func TestResolvePolicyOverwrite(t *testing.T) {
	existing := existingNode("prefers english replies", 0.8, time.Now())
	res := Resolve(existing, incomingCand("prefers japanese replies", 0.7, memory.PolicyOverwrite), Options{})

	require.Equal(t, ActionReplaceExisting, res.Action)
	assert.False(t, res.Conflict)
	assert.Equal(t, "prefers japanese replies", res.Next.Value)
	assert.Equal(t, 4, res.Next.Version)
	assert.False(t, res.Next.ConflictFlag)
}

func TestResolveHighestConfidenceEpsilon(t *testing.T) {
	existing := existingNode("lives in osaka japan", 0.80, time.Now())

	// Inside the epsilon band: not enough margin to replace.
	res := Resolve(existing, incomingCand("lives in tokyo japan", 0.81, memory.PolicyHighestConfidence), Options{})
	assert.Equal(t, ActionKeepExisting, res.Action)

	res = Resolve(existing, incomingCand("lives in tokyo japan", 0.83, memory.PolicyHighestConfidence), Options{})
	require.Equal(t, ActionReplaceExisting, res.Action)
	assert.Equal(t, "lives in tokyo japan", res.Next.Value)
}

func TestResolveMergeAppend(t *testing.T) {
	existing := existingNode("knows python programming", 0.7, time.Now())
	res := Resolve(existing, incomingCand("uses fastapi daily", 0.8, memory.PolicyMergeAppend), Options{})

	require.Equal(t, ActionMerge, res.Action)
	assert.Equal(t, "knows python programming；uses fastapi daily", res.Next.Value)
	assert.Equal(t, 0.8, res.Next.Confidence)
	assert.Equal(t, 4, res.Next.Version)
}

func TestResolveMergeKeepsHigherExistingConfidence(t *testing.T) {
	existing := existingNode("knows python programming", 0.9, time.Now())
	res := Resolve(existing, incomingCand("uses fastapi daily", 0.4, memory.PolicyMergeAppend), Options{})

	require.Equal(t, ActionMerge, res.Action)
	assert.Equal(t, 0.9, res.Next.Confidence)
}

func TestResolvePolicySkip(t *testing.T) {
	existing := existingNode("original note", 0.7, time.Now())
	res := Resolve(existing, incomingCand("an unrelated thing entirely", 0.99, memory.PolicySkip), Options{})
	assert.Equal(t, ActionKeepExisting, res.Action)
	assert.Nil(t, res.Next)
}
