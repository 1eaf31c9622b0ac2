// Package forgetting ranks live memory nodes by retention value and
// archives the overflow once a user's store exceeds its capacity.
package forgetting

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/storage"
)

var timeNow = time.Now

// Retention score weights. Importance dominates; a frequently touched or
// recently updated node can still outlive a moderately important stale one.
const (
	weightImportance = 0.45
	weightConfidence = 0.15
	weightFrequency  = 0.20
	weightRecency    = 0.20

	// frequencySaturation is the access count at which the frequency
	// component reaches 1.0.
	frequencySaturation = 20

	defaultMinRetentionScore = 0.25
	defaultHalfLifeDays      = 21.0
)

// Policy bounds one user's live memory set.
type Policy struct {
	// Capacity is the maximum number of live nodes to keep.
	Capacity int
	// MinRetentionScore archives nodes scoring below it even when capacity
	// is not exhausted. Default 0.25. Set a negative value to disable.
	MinRetentionScore *float64
	// HalfLifeDays controls recency decay. Default 21.
	HalfLifeDays float64
}

// Plan is the outcome of one forgetting pass. Every input node lands in
// exactly one of Keep or Archive.
type Plan struct {
	Keep        []*memory.Node `json:"keep"`
	Archive     []*memory.Node `json:"archive"`
	ArchivedIDs []string       `json:"archived_ids"`
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

// recencyWeight decays with the configured half-life. Nodes with no usable
// timestamp get a low but nonzero 0.2 so they lose ties against fresh nodes
// without being auto-purged.
func recencyWeight(updatedAt time.Time, halfLifeDays float64) float64 {
	if updatedAt.IsZero() {
		return 0.2
	}
	ageDays := timeNow().Sub(updatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	if halfLifeDays < 1 {
		halfLifeDays = 1
	}
	lambda := math.Ln2 / halfLifeDays
	return math.Exp(-lambda * ageDays)
}

func frequencyWeight(accessCount int) float64 {
	if accessCount < 0 {
		accessCount = 0
	}
	return clamp01(math.Log(1+float64(accessCount)) / math.Log(1+frequencySaturation))
}

// RetentionScore rates how much a node is worth keeping, in [0, 1].
func RetentionScore(node *memory.Node, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		halfLifeDays = defaultHalfLifeDays
	}
	recency := recencyWeight(node.UpdatedAt, halfLifeDays)
	frequency := frequencyWeight(node.AccessCount)
	return clamp01(
		clamp01(node.Importance)*weightImportance +
			clamp01(node.Confidence)*weightConfidence +
			frequency*weightFrequency +
			recency*weightRecency,
	)
}

// PlanForgetting splits nodes into keep and archive sets. Under capacity
// nothing is archived. Over capacity the highest-retention nodes are kept,
// and nodes below the minimum retention score are archived even when slots
// remain.
func PlanForgetting(nodes []*memory.Node, policy Policy) *Plan {
	if len(nodes) <= policy.Capacity {
		return &Plan{Keep: nodes, Archive: []*memory.Node{}, ArchivedIDs: []string{}}
	}

	minRetention := defaultMinRetentionScore
	if policy.MinRetentionScore != nil {
		minRetention = *policy.MinRetentionScore
	}
	halfLife := policy.HalfLifeDays
	if halfLife <= 0 {
		halfLife = defaultHalfLifeDays
	}

	type scored struct {
		node  *memory.Node
		score float64
	}
	items := make([]scored, 0, len(nodes))
	for _, node := range nodes {
		items = append(items, scored{node: node, score: RetentionScore(node, halfLife)})
	}
	// Equal scores rank by recency, so the older node is archived first.
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].node.UpdatedAt.After(items[j].node.UpdatedAt)
	})

	plan := &Plan{Keep: []*memory.Node{}, Archive: []*memory.Node{}, ArchivedIDs: []string{}}
	for _, item := range items {
		if len(plan.Keep) < policy.Capacity && item.score >= minRetention {
			plan.Keep = append(plan.Keep, item.node)
			continue
		}
		plan.Archive = append(plan.Archive, item.node)
		plan.ArchivedIDs = append(plan.ArchivedIDs, item.node.ID)
	}
	return plan
}

// Apply loads the user's live nodes, plans, and archives the overflow.
func Apply(ctx context.Context, store storage.Storage, userID string, policy Policy) (*Plan, error) {
	limit := policy.Capacity * 5
	if limit < 200 {
		limit = 200
	}
	nodes, err := store.List(ctx, userID, storage.ListOptions{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("listing live nodes: %w", err)
	}
	plan := PlanForgetting(nodes, policy)
	if len(plan.ArchivedIDs) > 0 {
		if _, err := store.Archive(ctx, userID, plan.ArchivedIDs); err != nil {
			return nil, fmt.Errorf("archiving %d nodes: %w", len(plan.ArchivedIDs), err)
		}
	}
	return plan, nil
}
