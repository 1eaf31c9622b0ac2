// Package conflict resolves contradictions between an incoming memory and
// the node currently stored at the same path, and builds the next version
// snapshot when the incoming claim wins.
package conflict

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/similarity"
)

var timeNow = time.Now

// Action is the resolver verdict.
type Action string

const (
	ActionKeepExisting    Action = "keep_existing"
	ActionReplaceExisting Action = "replace_existing"
	ActionMerge           Action = "merge"
	ActionFlagConflict    Action = "flag_conflict"
)

// Resolution is the outcome of resolving one incoming claim against one
// stored node. Next is populated for replace and merge actions and
// represents the node's next version snapshot.
type Resolution struct {
	Action   Action
	Conflict bool
	Reason   string
	Next     *memory.Node
}

// Options tunes the resolver thresholds.
type Options struct {
	// DedupeThreshold above which values are near-duplicates. Default 0.92.
	DedupeThreshold *float64
	// ContradictionThreshold is the minimum lexical overlap for two values to
	// be about the same thing and thus able to contradict. Default 0.48.
	ContradictionThreshold *float64
	// ConfidenceEpsilon is the margin an incoming confidence must clear to
	// beat the existing one. Default 0.02.
	ConfidenceEpsilon *float64
}

const (
	defaultDedupeThreshold        = 0.92
	defaultContradictionThreshold = 0.48
	defaultConfidenceEpsilon      = 0.02
)

// negativeMarkers flip a statement's polarity. Substring match on the
// lowercased value, covering both English and Chinese negation.
var negativeMarkers = []string{
	"not", "never", "don't", "cannot", "can't",
	"不", "没", "不是", "不要", "不喜欢",
}

func hasNegativeMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range negativeMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// looksContradictory reports whether two values talk about the same thing
// (overlap >= threshold) with opposite polarity.
func looksContradictory(a, b string, threshold float64) bool {
	if similarity.Combined(a, b) < threshold {
		return false
	}
	return hasNegativeMarker(a) != hasNegativeMarker(b)
}

// mergeValues concatenates unless one value already contains the other.
func mergeValues(existing, incoming string) string {
	if strings.Contains(existing, incoming) {
		return existing
	}
	if strings.Contains(incoming, existing) {
		return incoming
	}
	return strings.TrimRight(existing, " \t\n") + "；" + strings.TrimLeft(incoming, " \t\n")
}

// nextSnapshot copies the existing node into a version+1 snapshot that
// supersedes it.
func nextSnapshot(existing *memory.Node, incoming *memory.Candidate, value string, confidence float64, conflictFlag bool) *memory.Node {
	next := *existing
	next.Value = value
	next.Confidence = confidence
	if incoming.Source != "" {
		next.Source = incoming.Source
	}
	if incoming.ObservedAt != nil {
		next.ObservedAt = incoming.ObservedAt
	}
	next.UpdatedAt = timeNow().UTC()
	next.Supersedes = existing.ID
	next.Version = existing.Version + 1
	next.ConflictFlag = conflictFlag
	return &next
}

// Resolve decides what happens when an incoming claim lands on a path that
// already holds a node.
//
// Near-duplicates (>= DedupeThreshold) keep the existing node. Contradictions
// (same topic, opposite polarity) prefer the incoming claim when it is more
// confident by more than ConfidenceEpsilon or observed at the same time or
// later; otherwise the existing node is retained with a conflict flag. Below
// the contradiction band the candidate's update policy decides.
func Resolve(existing *memory.Node, incoming *memory.Candidate, opts Options) Resolution {
	dedupeThreshold := defaultDedupeThreshold
	if opts.DedupeThreshold != nil {
		dedupeThreshold = *opts.DedupeThreshold
	}
	contradictionThreshold := defaultContradictionThreshold
	if opts.ContradictionThreshold != nil {
		contradictionThreshold = *opts.ContradictionThreshold
	}
	confidenceEpsilon := defaultConfidenceEpsilon
	if opts.ConfidenceEpsilon != nil {
		confidenceEpsilon = *opts.ConfidenceEpsilon
	}

	sim := similarity.Combined(existing.Value, incoming.Value)

	existingObserved := existing.UpdatedAt
	if existing.ObservedAt != nil {
		existingObserved = *existing.ObservedAt
	}
	incomingIsNewer := false
	if incoming.ObservedAt != nil {
		incomingIsNewer = !incoming.ObservedAt.Before(existingObserved)
	}

	if sim >= dedupeThreshold {
		return Resolution{
			Action: ActionKeepExisting,
			Reason: fmt.Sprintf("near-duplicate values (similarity=%.2f)", sim),
		}
	}

	if looksContradictory(existing.Value, incoming.Value, contradictionThreshold) {
		preferIncoming := incoming.Confidence > existing.Confidence+confidenceEpsilon || incomingIsNewer
		if preferIncoming && incoming.Policy != memory.PolicySkip {
			return Resolution{
				Action:   ActionReplaceExisting,
				Conflict: true,
				Reason:   "contradiction detected, incoming chosen by confidence/recency",
				Next:     nextSnapshot(existing, incoming, incoming.Value, incoming.Confidence, true),
			}
		}
		return Resolution{
			Action:   ActionFlagConflict,
			Conflict: true,
			Reason:   "contradiction detected, existing retained",
		}
	}

	switch incoming.Policy {
	case memory.PolicyOverwrite:
		return Resolution{
			Action: ActionReplaceExisting,
			Reason: "policy overwrite",
			Next:   nextSnapshot(existing, incoming, incoming.Value, incoming.Confidence, false),
		}

	case memory.PolicyHighestConfidence:
		if incoming.Confidence > existing.Confidence+confidenceEpsilon {
			return Resolution{
				Action: ActionReplaceExisting,
				Reason: "incoming confidence is higher",
				Next:   nextSnapshot(existing, incoming, incoming.Value, incoming.Confidence, false),
			}
		}
		return Resolution{
			Action: ActionKeepExisting,
			Reason: "existing confidence is higher",
		}

	case memory.PolicyMergeAppend:
		conf := existing.Confidence
		if incoming.Confidence > conf {
			conf = incoming.Confidence
		}
		return Resolution{
			Action: ActionMerge,
			Reason: "policy merge_append",
			Next:   nextSnapshot(existing, incoming, mergeValues(existing.Value, incoming.Value), conf, false),
		}

	case memory.PolicySkip:
		return Resolution{
			Action: ActionKeepExisting,
			Reason: "policy skip",
		}

	default:
		return Resolution{
			Action: ActionKeepExisting,
			Reason: fmt.Sprintf("unsupported policy %s", incoming.Policy),
		}
	}
}
