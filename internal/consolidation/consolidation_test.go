package consolidation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

func episode(id, value string, confidence float64) Episode {
	return Episode{
		ID:         id,
		Path:       "mory://event/2026-05-10.checkout_timeout",
		Type:       memory.TypeEvent,
		Subject:    "2026-05-10.checkout_timeout",
		Value:      value,
		Confidence: confidence,
	}
}

func TestConsolidateEpisodes(t *testing.T) {
	t.Run("repeated episodes collapse into one rule", func(t *testing.T) {
		var episodes []Episode
		for i := 0; i < 5; i++ {
			episodes = append(episodes, episode(
				fmt.Sprintf("ep-%d", i),
				fmt.Sprintf("checkout service timed out under load run %d", i),
				0.6,
			))
		}

		rules := ConsolidateEpisodes(episodes, Options{})
		require.Len(t, rules, 1)
		rule := rules[0]
		assert.Equal(t, 5, rule.SupportCount)
		assert.Len(t, rule.SourceIDs, 5)
		assert.Equal(t, "mory://event/2026-05-10.checkout_timeout", rule.Path)
		// avg 0.6 plus ln(6)/20, under the 0.15 cap
		assert.InDelta(t, 0.6896, rule.Confidence, 0.001)
	})

	t.Run("single episode forms no rule", func(t *testing.T) {
		rules := ConsolidateEpisodes([]Episode{episode("ep-1", "one off observation", 0.9)}, Options{})
		assert.Empty(t, rules)
	})

	t.Run("outlier is excluded from the rule", func(t *testing.T) {
		episodes := []Episode{
			episode("ep-1", "prefers concise answers", 0.7),
			episode("ep-2", "prefers concise short answers", 0.7),
			episode("ep-3", "banana smoothie recipe saved", 0.7),
		}
		rules := ConsolidateEpisodes(episodes, Options{})
		require.Len(t, rules, 1)
		assert.Equal(t, 2, rules[0].SupportCount)
		assert.ElementsMatch(t, []string{"ep-1", "ep-2"}, rules[0].SourceIDs)
	})

	t.Run("summary is the centroid value", func(t *testing.T) {
		episodes := []Episode{
			episode("ep-1", "drinks coffee morning", 0.7),
			episode("ep-2", "drinks black coffee every morning", 0.7),
			episode("ep-3", "black coffee every day", 0.7),
		}
		rules := ConsolidateEpisodes(episodes, Options{})
		require.Len(t, rules, 1)
		assert.Equal(t, "drinks black coffee every morning", rules[0].Summary)
	})

	t.Run("distinct subjects stay separate", func(t *testing.T) {
		a1 := episode("a-1", "checkout timed out again", 0.6)
		a2 := episode("a-2", "checkout timed out under load", 0.6)
		b1 := a1
		b1.ID = "b-1"
		b1.Subject = "2026-05-11.login_failure"
		rules := ConsolidateEpisodes([]Episode{a1, a2, b1}, Options{})
		require.Len(t, rules, 1)
		assert.ElementsMatch(t, []string{"a-1", "a-2"}, rules[0].SourceIDs)
	})

	t.Run("rules ordered by support", func(t *testing.T) {
		var episodes []Episode
		for i := 0; i < 3; i++ {
			ep := episode(fmt.Sprintf("big-%d", i), fmt.Sprintf("checkout timed out run %d", i), 0.6)
			episodes = append(episodes, ep)
		}
		for i := 0; i < 2; i++ {
			ep := episode(fmt.Sprintf("small-%d", i), fmt.Sprintf("login failed run %d", i), 0.9)
			ep.Subject = "2026-05-11.login_failure"
			episodes = append(episodes, ep)
		}
		rules := ConsolidateEpisodes(episodes, Options{})
		require.Len(t, rules, 2)
		assert.Equal(t, 3, rules[0].SupportCount)
		assert.Equal(t, 2, rules[1].SupportCount)
	})

	t.Run("no episodes", func(t *testing.T) {
		assert.Empty(t, ConsolidateEpisodes(nil, Options{}))
	})
}

func TestCandidateFromRule(t *testing.T) {
	t.Run("profile rule overwrites", func(t *testing.T) {
		cand := CandidateFromRule(Rule{
			Path:         "mory://user_preference/answer_length",
			Type:         memory.TypeUserPreference,
			Subject:      "answer_length",
			Summary:      "prefers short answers",
			Confidence:   0.8,
			SupportCount: 3,
		})
		assert.Equal(t, memory.PolicyOverwrite, cand.Policy)
		assert.Equal(t, "prefers short answers", cand.Value)
		require.NotNil(t, cand.Importance)
		assert.InDelta(t, 0.8, *cand.Importance, 1e-9)
		require.NotNil(t, cand.Utility)
		assert.InDelta(t, 0.7, *cand.Utility, 1e-9)
	})

	t.Run("task rule accumulates with high utility", func(t *testing.T) {
		cand := CandidateFromRule(Rule{
			Path:         "mory://task/migration",
			Type:         memory.TypeTask,
			Subject:      "migration",
			Summary:      "migration blocked on schema review",
			Confidence:   0.7,
			SupportCount: 8,
		})
		assert.Equal(t, memory.PolicyMergeAppend, cand.Policy)
		require.NotNil(t, cand.Utility)
		assert.InDelta(t, 0.9, *cand.Utility, 1e-9)
		require.NotNil(t, cand.Importance)
		assert.InDelta(t, 1.0, *cand.Importance, 1e-9)
	})
}
