package http

import (
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/engine"
)

// HealthResponse is the health check response body.
type HealthResponse struct {
	Status string `json:"status"`
}

// IngestRequest writes one extracted memory object for a user.
type IngestRequest struct {
	UserID     string         `json:"user_id"`
	Memory     map[string]any `json:"memory"`
	Source     string         `json:"source,omitempty"`
	ObservedAt *time.Time     `json:"observed_at,omitempty"`
}

// CommitRequest runs a batch of extracted memories through ingestion.
// When Memories is set it is used directly; otherwise Dialogue is handed
// to the configured extractor.
type CommitRequest struct {
	UserID     string           `json:"user_id"`
	Dialogue   string           `json:"dialogue,omitempty"`
	Memories   []map[string]any `json:"memories,omitempty"`
	Source     string           `json:"source,omitempty"`
	ObservedAt *time.Time       `json:"observed_at,omitempty"`
}

// RetrieveRequest asks for ranked recall against a query.
type RetrieveRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
	TopK   int    `json:"top_k,omitempty"`
}

// ForgetRequest applies a retention policy to a user's live memories.
type ForgetRequest struct {
	UserID            string   `json:"user_id"`
	Capacity          int      `json:"capacity"`
	MinRetentionScore *float64 `json:"min_retention_score,omitempty"`
	HalfLifeDays      float64  `json:"half_life_days,omitempty"`
}

// ForgetResponse summarizes an applied forgetting plan.
type ForgetResponse struct {
	Kept        int      `json:"kept"`
	Archived    int      `json:"archived"`
	ArchivedIDs []string `json:"archived_ids"`
}

// ConsolidateRequest distills a user's episodic memories into rules.
type ConsolidateRequest struct {
	UserID              string  `json:"user_id"`
	MinSupport          int     `json:"min_support,omitempty"`
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`
}

// ConsolidateResponse lists the ingestion outcome of each distilled rule.
type ConsolidateResponse struct {
	Items []*engine.ItemResult `json:"items"`
}
