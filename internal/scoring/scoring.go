// Package scoring implements the write-gate scoring model.
//
// A candidate memory is scored across four dimensions (importance, novelty,
// utility, confidence) and compared against a threshold. Two modes are
// supported: "product" multiplies the components and punishes any weak
// dimension hard; "weighted" averages them and is easier to tune.
package scoring

import (
	"fmt"
	"math"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/similarity"
)

// Mode selects how the four components combine into one score.
type Mode string

const (
	// ModeProduct multiplies all components. Strict.
	ModeProduct Mode = "product"
	// ModeWeighted takes a normalized weighted average. Default.
	ModeWeighted Mode = "weighted"
)

// Weights controls the weighted-average mode. Values are normalized by
// their sum, so they need not add up to 1.
type Weights struct {
	Importance float64
	Novelty    float64
	Utility    float64
	Confidence float64
}

// DefaultWeights favors novelty, then importance.
var DefaultWeights = Weights{
	Importance: 0.30,
	Novelty:    0.35,
	Utility:    0.20,
	Confidence: 0.15,
}

// Components are the per-dimension scores, each in [0,1].
type Components struct {
	Importance float64 `json:"importance"`
	Novelty    float64 `json:"novelty"`
	Utility    float64 `json:"utility"`
	Confidence float64 `json:"confidence"`
}

// Options tunes one scoring call. Zero value means defaults.
type Options struct {
	Mode Mode
	// Threshold overrides the mode default (0.18 product, 0.58 weighted).
	Threshold *float64
	// MinNovelty short-circuits near-duplicates before scoring. Default 0.05.
	MinNovelty *float64
	Weights    *Weights
}

// Result reports the score, the decision, and why.
type Result struct {
	Score       float64    `json:"score"`
	ShouldWrite bool       `json:"should_write"`
	Threshold   float64    `json:"threshold"`
	Components  Components `json:"components"`
	Mode        Mode       `json:"mode"`
	Reason      string     `json:"reason"`
}

const (
	defaultProductThreshold  = 0.18
	defaultWeightedThreshold = 0.58
	defaultMinNovelty        = 0.05
)

// Per-type priors used when the extractor did not supply explicit
// importance or utility. Preferences and facts about the user are worth
// more than ambient world knowledge.
var typeImportancePrior = map[memory.Type]float64{
	memory.TypeUserPreference: 0.90,
	memory.TypeUserFact:       0.85,
	memory.TypeSkill:          0.70,
	memory.TypeEvent:          0.55,
	memory.TypeTask:           0.80,
	memory.TypeWorldKnowledge: 0.50,
}

var typeUtilityPrior = map[memory.Type]float64{
	memory.TypeUserPreference: 0.95,
	memory.TypeUserFact:       0.85,
	memory.TypeSkill:          0.75,
	memory.TypeEvent:          0.50,
	memory.TypeTask:           0.90,
	memory.TypeWorldKnowledge: 0.45,
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 1
	}
	return v
}

// DeriveNovelty computes 1 minus the highest lexical similarity between the
// incoming value and any existing node at the same path. No existing nodes
// means full novelty.
func DeriveNovelty(existing []*memory.Node, incomingValue string) float64 {
	if len(existing) == 0 {
		return 1
	}
	maxSim := 0.0
	for _, node := range existing {
		if sim := similarity.Combined(node.Value, incomingValue); sim > maxSim {
			maxSim = sim
		}
	}
	return clamp01(1 - maxSim)
}

// DeriveImportance uses the candidate's explicit importance when present,
// otherwise the per-type prior.
func DeriveImportance(cand *memory.Candidate) float64 {
	if cand.Importance != nil {
		return clamp01(*cand.Importance)
	}
	return typeImportancePrior[cand.Type]
}

// DeriveUtility uses the candidate's explicit utility when present,
// otherwise the per-type prior.
func DeriveUtility(cand *memory.Candidate) float64 {
	if cand.Utility != nil {
		return clamp01(*cand.Utility)
	}
	return typeUtilityPrior[cand.Type]
}

func weightedScore(c Components, w Weights) float64 {
	total := w.Importance + w.Novelty + w.Utility + w.Confidence
	if total <= 0 {
		return 0
	}
	sum := c.Importance*w.Importance +
		c.Novelty*w.Novelty +
		c.Utility*w.Utility +
		c.Confidence*w.Confidence
	return sum / total
}

func productScore(c Components) float64 {
	return c.Importance * c.Novelty * c.Utility * c.Confidence
}

// ScoreWriteCandidate scores an incoming candidate against the nodes already
// stored at its path and decides whether it clears the write gate.
//
// Novelty below MinNovelty rejects immediately with score 0; the remaining
// components are still reported so callers can log them.
func ScoreWriteCandidate(existing []*memory.Node, incoming *memory.Candidate, opts Options) Result {
	mode := opts.Mode
	if mode != ModeProduct && mode != ModeWeighted {
		mode = ModeWeighted
	}

	threshold := defaultWeightedThreshold
	if mode == ModeProduct {
		threshold = defaultProductThreshold
	}
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	minNovelty := defaultMinNovelty
	if opts.MinNovelty != nil {
		minNovelty = *opts.MinNovelty
	}

	components := Components{
		Importance: DeriveImportance(incoming),
		Novelty:    DeriveNovelty(existing, incoming.Value),
		Utility:    DeriveUtility(incoming),
		Confidence: clamp01(incoming.Confidence),
	}

	if components.Novelty < minNovelty {
		return Result{
			Score:       0,
			ShouldWrite: false,
			Threshold:   threshold,
			Components:  components,
			Mode:        mode,
			Reason:      fmt.Sprintf("novelty %.2f below minimum %.2f", components.Novelty, minNovelty),
		}
	}

	weights := DefaultWeights
	if opts.Weights != nil {
		weights = *opts.Weights
	}

	var raw float64
	if mode == ModeProduct {
		raw = productScore(components)
	} else {
		raw = weightedScore(components, weights)
	}
	score := clamp01(raw)
	shouldWrite := score >= threshold

	reason := fmt.Sprintf("score %.2f >= threshold %.2f", score, threshold)
	if !shouldWrite {
		reason = fmt.Sprintf("score %.2f < threshold %.2f", score, threshold)
	}

	return Result{
		Score:       score,
		ShouldWrite: shouldWrite,
		Threshold:   threshold,
		Components:  components,
		Mode:        mode,
		Reason:      reason,
	}
}
