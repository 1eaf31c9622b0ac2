// Package memory defines the canonical memory schema: the closed set of
// memory types, update policies, the candidate shape that flows through the
// write gate, the persisted node shape, and the mory:// path registry with
// its normalization rules.
package memory

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors for memory validation and lookup.
var (
	ErrEmptyValue     = errors.New("memory value cannot be empty")
	ErrEmptyUserID    = errors.New("user ID cannot be empty")
	ErrInvalidType    = errors.New("unknown memory type")
	ErrInvalidPolicy  = errors.New("unknown update policy")
	ErrNodeNotFound   = errors.New("memory node not found")
	ErrInvalidPayload = errors.New("extraction payload must contain a memories array")
)

// Scheme is the URI scheme prefix for canonical memory paths.
const Scheme = "mory://"

// Type is the closed set of memory categories.
//
//   - TypeUserPreference: how the user wants to be served (tone, length, format)
//   - TypeUserFact: stable facts about the user (name, location, job)
//   - TypeSkill: knowledge or skill the user has or is learning
//   - TypeEvent: time-anchored incident or milestone
//   - TypeTask: ongoing project or workspace state
//   - TypeWorldKnowledge: general knowledge not specific to the user
type Type string

const (
	TypeUserPreference Type = "user_preference"
	TypeUserFact       Type = "user_fact"
	TypeSkill          Type = "skill"
	TypeEvent          Type = "event"
	TypeTask           Type = "task"
	TypeWorldKnowledge Type = "world_knowledge"
)

// AllTypes lists every valid memory type, in registry order.
var AllTypes = []Type{
	TypeUserPreference,
	TypeUserFact,
	TypeSkill,
	TypeEvent,
	TypeTask,
	TypeWorldKnowledge,
}

// Valid reports whether t is a member of the closed type set.
func (t Type) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// UpdatePolicy controls how an incoming memory is reconciled with an
// existing one at the same canonical path.
//
//   - PolicyOverwrite: newer value always wins
//   - PolicyMergeAppend: append novel details to the existing value
//   - PolicyHighestConfidence: keep whichever record has higher confidence
//   - PolicySkip: never overwrite once written (immutable facts)
type UpdatePolicy string

const (
	PolicyOverwrite         UpdatePolicy = "overwrite"
	PolicyMergeAppend       UpdatePolicy = "merge_append"
	PolicyHighestConfidence UpdatePolicy = "highest_confidence"
	PolicySkip              UpdatePolicy = "skip"
)

// AllPolicies lists every valid update policy.
var AllPolicies = []UpdatePolicy{
	PolicyOverwrite,
	PolicyMergeAppend,
	PolicyHighestConfidence,
	PolicySkip,
}

// Valid reports whether p is a member of the closed policy set.
func (p UpdatePolicy) Valid() bool {
	for _, known := range AllPolicies {
		if p == known {
			return true
		}
	}
	return false
}

// Candidate is a validated, transient memory proposed for writing.
//
// It is the canonical form that flows through the scoring model, write gate,
// and conflict resolver before being persisted as a Node. Importance and
// Utility are pointers because the scoring model applies type-keyed priors
// only when the extractor did not supply explicit values.
type Candidate struct {
	// Path is the resolved canonical path, e.g. "mory://user_preference/answer_length".
	Path string `json:"path"`

	// Type is the semantic category.
	Type Type `json:"type"`

	// Subject is the specific attribute within the type, e.g. "language",
	// "python.fastapi", "2026-02-27.server_crash".
	Subject string `json:"subject"`

	// Value is the human-readable summary used as the L1 layer in prompt context.
	Value string `json:"value"`

	// Confidence in [0,1]; defaults to 0.7 when the extractor omits it.
	Confidence float64 `json:"confidence"`

	// Importance in [0,1]; nil means "apply the type prior".
	Importance *float64 `json:"importance,omitempty"`

	// Utility in [0,1]; nil means "apply the type prior".
	Utility *float64 `json:"utility,omitempty"`

	// Policy selects how conflicts at the same path are resolved.
	Policy UpdatePolicy `json:"updated_policy"`

	// Source is the session or pipeline this candidate was derived from.
	Source string `json:"source,omitempty"`

	// ObservedAt is when the underlying fact was observed; nil when unknown.
	// Used by the conflict resolver's recency tie-break.
	ObservedAt *time.Time `json:"observed_at,omitempty"`

	// Title is an optional short label for the L0 layer; derived from the
	// subject when empty.
	Title string `json:"title,omitempty"`
}

// Node is a persisted memory record owned by the Storage collaborator.
//
// Nodes are created only by the ingestion pipeline, mutated by access bumps
// and archival, and never physically removed by the core. Version values at
// a given (UserID, Path) are strictly increasing; Supersedes links each
// version to the node it replaced.
type Node struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Path           string     `json:"path"`
	MemoryType     Type       `json:"memory_type"`
	Subject        string     `json:"subject"`
	Title          string     `json:"title,omitempty"`
	Value          string     `json:"value"`
	Detail         string     `json:"detail,omitempty"`
	Confidence     float64    `json:"confidence"`
	Importance     float64    `json:"importance"`
	Utility        *float64   `json:"utility,omitempty"`
	AccessCount    int        `json:"access_count"`
	Source         string     `json:"source,omitempty"`
	ObservedAt     *time.Time `json:"observed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	Embedding      []float32  `json:"embedding,omitempty"`
	Version        int        `json:"version"`
	Supersedes     string     `json:"supersedes,omitempty"`
	ConflictFlag   bool       `json:"conflict_flag"`
	ArchivedAt     *time.Time `json:"archived_at,omitempty"`
}

// Archived reports whether the node has been soft-deleted.
func (n *Node) Archived() bool {
	return n.ArchivedAt != nil
}

// Render returns the flat record block used by read-memory responses.
func (n *Node) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "path: %s\n", n.Path)
	fmt.Fprintf(&b, "type: %s\n", n.MemoryType)
	fmt.Fprintf(&b, "subject: %s\n", n.Subject)
	fmt.Fprintf(&b, "value: %s\n", n.Value)
	fmt.Fprintf(&b, "confidence: %.2f\n", n.Confidence)
	fmt.Fprintf(&b, "importance: %.2f\n", n.Importance)
	fmt.Fprintf(&b, "version: %d", n.Version)
	if n.Detail != "" {
		fmt.Fprintf(&b, "\ndetail: %s", n.Detail)
	}
	if n.Supersedes != "" {
		fmt.Fprintf(&b, "\nsupersedes: %s", n.Supersedes)
	}
	if n.ConflictFlag {
		b.WriteString("\nconflict_flag: true")
	}
	return b.String()
}
