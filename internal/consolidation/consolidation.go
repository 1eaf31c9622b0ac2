// Package consolidation distills repeated episodic memories into semantic
// rules. Episodes that share a path, subject, and type and say roughly the
// same thing collapse into one higher-confidence candidate.
package consolidation

import (
	"math"
	"sort"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/similarity"
)

const (
	defaultMinSupport          = 2
	defaultSimilarityThreshold = 0.45

	// confidenceBonusCap limits how much repeated observation can raise
	// confidence above the episode average.
	confidenceBonusCap = 0.15
)

// Episode is one observation eligible for consolidation.
type Episode struct {
	ID         string      `json:"id"`
	Path       string      `json:"path"`
	Type       memory.Type `json:"type"`
	Subject    string      `json:"subject"`
	Value      string      `json:"value"`
	Confidence float64     `json:"confidence"`
}

// Rule is a consolidated semantic memory distilled from related episodes.
type Rule struct {
	Path         string      `json:"path"`
	Type         memory.Type `json:"type"`
	Subject      string      `json:"subject"`
	Summary      string      `json:"summary"`
	Confidence   float64     `json:"confidence"`
	SupportCount int         `json:"support_count"`
	SourceIDs    []string    `json:"source_ids"`
}

// Options tunes consolidation.
type Options struct {
	// MinSupport is the minimum number of mutually related episodes
	// before a rule forms. Default 2.
	MinSupport int
	// SimilarityThreshold is the minimum combined similarity for two
	// episodes to count as related. Default 0.45.
	SimilarityThreshold float64
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// centroidValue picks the value most similar to all the others, so the
// summary is a real observed sentence rather than a synthetic blend.
func centroidValue(values []string) string {
	if len(values) == 1 {
		return values[0]
	}
	bestIdx := 0
	bestScore := -1.0
	for i := range values {
		sum := 0.0
		for j := range values {
			if i == j {
				continue
			}
			sum += similarity.Combined(values[i], values[j])
		}
		if sum > bestScore {
			bestScore = sum
			bestIdx = i
		}
	}
	return values[bestIdx]
}

// ConsolidateEpisodes groups episodes by path, subject, and type, drops
// members without a sufficiently similar peer, and emits one rule per group
// that retains at least MinSupport members. Rules are ordered by support,
// then confidence.
func ConsolidateEpisodes(episodes []Episode, opts Options) []Rule {
	minSupport := opts.MinSupport
	if minSupport <= 0 {
		minSupport = defaultMinSupport
	}
	simThreshold := opts.SimilarityThreshold
	if simThreshold <= 0 {
		simThreshold = defaultSimilarityThreshold
	}
	if len(episodes) == 0 {
		return nil
	}

	type group struct {
		key     string
		members []Episode
	}
	index := make(map[string]int)
	var groups []group
	for _, ep := range episodes {
		key := ep.Path + "::" + ep.Subject + "::" + string(ep.Type)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, group{key: key})
		}
		groups[i].members = append(groups[i].members, ep)
	}

	var rules []Rule
	for _, g := range groups {
		if len(g.members) < minSupport {
			continue
		}

		// Drop outliers that resemble no other episode in the group.
		var related []Episode
		for _, item := range g.members {
			for _, other := range g.members {
				if other.ID == item.ID {
					continue
				}
				if similarity.Combined(item.Value, other.Value) >= simThreshold {
					related = append(related, item)
					break
				}
			}
		}
		if len(related) < minSupport {
			continue
		}

		values := make([]string, len(related))
		ids := make([]string, len(related))
		var confidenceSum float64
		for i, item := range related {
			values[i] = item.Value
			ids[i] = item.ID
			confidenceSum += item.Confidence
		}
		n := float64(len(related))
		bonus := math.Log(1+n) / 20
		if bonus > confidenceBonusCap {
			bonus = confidenceBonusCap
		}

		first := related[0]
		rules = append(rules, Rule{
			Path:         first.Path,
			Type:         first.Type,
			Subject:      first.Subject,
			Summary:      centroidValue(values),
			Confidence:   clamp01(confidenceSum/n + bonus),
			SupportCount: len(related),
			SourceIDs:    ids,
		})
	}

	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].SupportCount != rules[j].SupportCount {
			return rules[i].SupportCount > rules[j].SupportCount
		}
		return rules[i].Confidence > rules[j].Confidence
	})
	return rules
}

// CandidateFromRule turns a consolidated rule into a write candidate for
// the normal ingest pipeline. Profile types overwrite in place; everything
// else accumulates.
func CandidateFromRule(rule Rule) *memory.Candidate {
	policy := memory.PolicyMergeAppend
	if rule.Type == memory.TypeUserPreference || rule.Type == memory.TypeUserFact {
		policy = memory.PolicyOverwrite
	}
	importance := 0.5 + float64(rule.SupportCount)/10
	if importance > 1 {
		importance = 1
	}
	utility := 0.7
	if rule.Type == memory.TypeTask {
		utility = 0.9
	}
	return &memory.Candidate{
		Path:       rule.Path,
		Type:       rule.Type,
		Subject:    rule.Subject,
		Title:      rule.Subject,
		Value:      rule.Summary,
		Confidence: rule.Confidence,
		Importance: &importance,
		Utility:    &utility,
		Policy:     policy,
	}
}
