// Package writegate decides whether an incoming memory is inserted, merged
// into an existing node, or skipped as a duplicate.
//
// The gate is deterministic and offline. Similarity is token-level (Jaccard
// plus overlap coefficient), no embeddings and no network on the write path.
package writegate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/similarity"
)

var timeNow = time.Now

// Action is the gate verdict for one candidate.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionSkip   Action = "skip"
)

// Patch carries the fields an update decision wants applied to its target.
type Patch struct {
	Value      string
	Confidence float64
	UpdatedAt  time.Time
}

// Decision is the outcome for one candidate. Target and Patch are set for
// updates; Duplicate is set for skips caused by an existing node.
type Decision struct {
	Action    Action
	Target    *memory.Node
	Patch     *Patch
	Duplicate *memory.Node
	Reason    string
}

// Options tunes the gate thresholds. Defaults account for CJK
// character-level overlap inflating similarity scores.
type Options struct {
	// SimilarityThreshold marks nodes similar enough to reconcile. Default 0.30.
	SimilarityThreshold *float64
	// DedupeThreshold marks nodes effectively identical. Default 0.80.
	DedupeThreshold *float64
}

const (
	defaultSimilarityThreshold = 0.30
	defaultDedupeThreshold     = 0.80
)

type scoredNode struct {
	node *memory.Node
	sim  float64
}

// findSimilar returns existing nodes at or above threshold, most similar first.
func findSimilar(existing []*memory.Node, value string, threshold float64) []scoredNode {
	var out []scoredNode
	for _, node := range existing {
		sim := similarity.Combined(node.Value, value)
		if sim >= threshold {
			out = append(out, scoredNode{node: node, sim: sim})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].sim > out[j].sim })
	return out
}

// MergeValues appends the incoming value to the existing one when it carries
// tokens the existing value lacks. No novel tokens means the existing value
// is returned unchanged.
func MergeValues(existing, incoming string) string {
	existSet := similarity.TokenSet(existing)
	novel := false
	for _, tok := range similarity.Tokenize(incoming) {
		if _, ok := existSet[tok]; !ok {
			novel = true
			break
		}
	}
	if !novel {
		return existing
	}
	return strings.TrimRight(existing, " \t\n") + "；" + strings.TrimRight(incoming, " \t\n")
}

// Decide evaluates one candidate against the existing nodes at its path.
//
// An empty path always inserts. A near-duplicate (>= DedupeThreshold) skips
// unless the policy is merge_append, which always folds the new value in.
// Below the dedupe band but above SimilarityThreshold the candidate's update
// policy picks the outcome: overwrite replaces, highest_confidence keeps the
// stronger claim, merge_append appends novel tokens, skip leaves the path
// immutable. Nothing similar at all inserts.
func Decide(existing []*memory.Node, incoming *memory.Candidate, opts Options) Decision {
	simThreshold := defaultSimilarityThreshold
	if opts.SimilarityThreshold != nil {
		simThreshold = *opts.SimilarityThreshold
	}
	dedupeThreshold := defaultDedupeThreshold
	if opts.DedupeThreshold != nil {
		dedupeThreshold = *opts.DedupeThreshold
	}

	if len(existing) == 0 {
		return Decision{Action: ActionInsert}
	}

	now := timeNow().UTC()
	policy := incoming.Policy

	similar := findSimilar(existing, incoming.Value, simThreshold)
	var identical []scoredNode
	for _, sc := range similar {
		if sc.sim >= dedupeThreshold {
			identical = append(identical, sc)
		}
	}

	if len(identical) > 0 && policy != memory.PolicyMergeAppend {
		best := identical[0]
		return Decision{
			Action:    ActionSkip,
			Duplicate: best.node,
			Reason:    fmt.Sprintf("duplicate detected (similarity=%.2f), value already stored", best.sim),
		}
	}

	if len(similar) > 0 {
		best := similar[0]

		switch policy {
		case memory.PolicyOverwrite:
			return Decision{
				Action: ActionUpdate,
				Target: best.node,
				Patch: &Patch{
					Value:      incoming.Value,
					Confidence: incoming.Confidence,
					UpdatedAt:  now,
				},
				Reason: fmt.Sprintf("policy=overwrite: replacing similar node (similarity=%.2f)", best.sim),
			}

		case memory.PolicyHighestConfidence:
			if incoming.Confidence > best.node.Confidence {
				return Decision{
					Action: ActionUpdate,
					Target: best.node,
					Patch: &Patch{
						Value:      incoming.Value,
						Confidence: incoming.Confidence,
						UpdatedAt:  now,
					},
					Reason: fmt.Sprintf("policy=highest_confidence: incoming (%.2f) > existing (%.2f)", incoming.Confidence, best.node.Confidence),
				}
			}
			return Decision{
				Action:    ActionSkip,
				Duplicate: best.node,
				Reason:    fmt.Sprintf("policy=highest_confidence: existing confidence (%.2f) is higher", best.node.Confidence),
			}

		case memory.PolicyMergeAppend:
			conf := best.node.Confidence
			if incoming.Confidence > conf {
				conf = incoming.Confidence
			}
			return Decision{
				Action: ActionUpdate,
				Target: best.node,
				Patch: &Patch{
					Value:      MergeValues(best.node.Value, incoming.Value),
					Confidence: conf,
					UpdatedAt:  now,
				},
				Reason: fmt.Sprintf("policy=merge_append: appending novel tokens (similarity=%.2f)", best.sim),
			}

		case memory.PolicySkip:
			return Decision{
				Action:    ActionSkip,
				Duplicate: best.node,
				Reason:    "policy=skip: memory at this path is immutable",
			}

		default:
			return Decision{
				Action: ActionSkip,
				Reason: fmt.Sprintf("unknown policy: %s", policy),
			}
		}
	}

	return Decision{Action: ActionInsert}
}

// GatedCandidate pairs a candidate with its gate decision.
type GatedCandidate struct {
	Candidate *memory.Candidate
	Decision  Decision
}

// ExistingFunc loads the current nodes at a path.
type ExistingFunc func(ctx context.Context, path string) ([]*memory.Node, error)

// BatchDecide runs the gate over a batch, caching per-path lookups and
// folding each decision back into the cache so later candidates in the same
// batch observe earlier inserts and updates deterministically.
func BatchDecide(ctx context.Context, incoming []*memory.Candidate, getExisting ExistingFunc, opts Options) ([]GatedCandidate, error) {
	cache := make(map[string][]*memory.Node)
	results := make([]GatedCandidate, 0, len(incoming))

	for i, cand := range incoming {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		existing, ok := cache[cand.Path]
		if !ok {
			nodes, err := getExisting(ctx, cand.Path)
			if err != nil {
				return nil, fmt.Errorf("load existing nodes for %s: %w", cand.Path, err)
			}
			existing = nodes
			cache[cand.Path] = existing
		}

		decision := Decide(existing, cand, opts)

		switch decision.Action {
		case ActionInsert:
			cache[cand.Path] = append(existing, &memory.Node{
				ID:         fmt.Sprintf("batch-pending-%d", i),
				Path:       cand.Path,
				Value:      cand.Value,
				Confidence: cand.Confidence,
				UpdatedAt:  timeNow().UTC(),
			})
		case ActionUpdate:
			updated := make([]*memory.Node, len(existing))
			for j, node := range existing {
				if node.ID != decision.Target.ID {
					updated[j] = node
					continue
				}
				patched := *node
				patched.Value = decision.Patch.Value
				patched.Confidence = decision.Patch.Confidence
				patched.UpdatedAt = decision.Patch.UpdatedAt
				updated[j] = &patched
			}
			cache[cand.Path] = updated
		}

		results = append(results, GatedCandidate{Candidate: cand, Decision: decision})
	}

	return results, nil
}

// Explain renders a short log line for a decision.
func Explain(d Decision) string {
	switch d.Action {
	case ActionInsert:
		return "INSERT: novel memory, no similar existing record"
	case ActionUpdate:
		return "UPDATE: " + d.Reason
	default:
		return "SKIP: " + d.Reason
	}
}
