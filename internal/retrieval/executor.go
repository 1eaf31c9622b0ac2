package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/similarity"
	"github.com/fyrsmithlabs/memoryd/internal/storage"
)

var timeNow = time.Now

var tracer = otel.Tracer("memoryd.retrieval")

// Fusion weights for the final ranking score. Semantic similarity
// dominates; lexical overlap, trust, and freshness nudge the order.
const (
	weightSemantic   = 0.55
	weightLexical    = 0.20
	weightConfidence = 0.10
	weightImportance = 0.10
	weightRecency    = 0.05

	recencyHalfLifeDays = 14.0
)

// RankedNode is one retrieval hit with its score breakdown.
type RankedNode struct {
	Node          *memory.Node `json:"node"`
	Score         float64      `json:"score"`
	SemanticScore float64      `json:"semantic_score"`
	LexicalScore  float64      `json:"lexical_score"`
	RecencyScore  float64      `json:"recency_score"`
}

// IndexEntry is one L0 line: path plus a short title.
type IndexEntry struct {
	Path  string `json:"path"`
	Title string `json:"title"`
}

// SummaryEntry is one L1 line: path plus the full value.
type SummaryEntry struct {
	Path    string `json:"path"`
	Summary string `json:"summary"`
}

// DetailEntry is one L2 line: path plus the node's long-form detail.
type DetailEntry struct {
	Path   string `json:"path"`
	Detail string `json:"detail"`
}

// Result is a complete retrieval response.
type Result struct {
	Plan          Plan           `json:"plan"`
	Hits          []RankedNode   `json:"hits"`
	L0            []IndexEntry   `json:"l0"`
	L1            []SummaryEntry `json:"l1"`
	L2            []DetailEntry  `json:"l2"`
	PromptContext string         `json:"prompt_context"`
}

// Options tunes one retrieval call.
type Options struct {
	Planner PlannerOptions
	// TopK overrides the plan's budget when positive.
	TopK int
	// L0Limit, L1Limit, L2Limit cap the layered context sections.
	// Defaults: 3, 6, 2 (each further capped by the hit count).
	L0Limit *int
	L1Limit *int
	L2Limit *int
}

// Executor runs plan, recall, rerank, and context rendering.
//
// The embedder and vector index are optional. Without an embedder the
// semantic score is zero for every node and ranking is lexical-only; with
// an embedder but no index, vector recall runs brute-force through the
// store.
type Executor struct {
	store    storage.Storage
	embedder embeddings.Embedder
	index    *storage.ChromemIndex
	logger   *zap.Logger
}

// NewExecutor creates a retrieval executor.
func NewExecutor(store storage.Storage, embedder embeddings.Embedder, index *storage.ChromemIndex, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{store: store, embedder: embedder, index: index, logger: logger}
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

// recencyScore decays exponentially with a 14-day half-life-style constant.
// Nodes with no usable timestamp score a neutral 0.3.
func recencyScore(updatedAt time.Time) float64 {
	if updatedAt.IsZero() {
		return 0.3
	}
	ageDays := timeNow().Sub(updatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / recencyHalfLifeDays)
}

func lexicalScore(query, text string) float64 {
	return similarity.Combined(query, text)
}

// titleFor derives a short display title: the node's own title, or the
// subject plus a clipped value.
func titleFor(node *memory.Node) string {
	if node.Title != "" {
		return node.Title
	}
	subject := node.Subject
	if subject == "" {
		if idx := strings.LastIndex(node.Path, "/"); idx >= 0 && idx+1 < len(node.Path) {
			subject = node.Path[idx+1:]
		} else {
			subject = "unknown"
		}
	}
	value := []rune(node.Value)
	if len(value) > 22 {
		value = value[:22]
	}
	return subject + ": " + string(value)
}

// semanticScores returns node ID to similarity for the query, using the
// chromem index when present, otherwise brute force through the store.
func (e *Executor) semanticScores(ctx context.Context, userID, query string, plan Plan, topK int) (map[string]float64, error) {
	if e.embedder == nil {
		return nil, nil
	}
	queryVec, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	poolK := topK * 2

	if e.index != nil {
		return e.index.Query(ctx, userID, queryVec, poolK)
	}

	hits, err := e.store.VectorSearch(ctx, userID, storage.VectorSearchOptions{
		Vector:       queryVec,
		TopK:         poolK,
		MemoryTypes:  plan.MemoryTypes,
		PathPrefixes: plan.PathPrefixes,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	scores := make(map[string]float64, len(hits))
	for _, hit := range hits {
		scores[hit.Node.ID] = clamp01(hit.Similarity)
	}
	return scores, nil
}

// Retrieve plans, recalls, reranks, and renders context for one query.
func (e *Executor) Retrieve(ctx context.Context, userID, query string, opts Options) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Executor.Retrieve")
	defer span.End()

	plan := BuildPlan(query, opts.Planner)
	topK := plan.TopK
	if opts.TopK > 0 {
		topK = opts.TopK
	}
	span.SetAttributes(
		attribute.String("retrieval.intent", string(plan.Intent)),
		attribute.Int("retrieval.top_k", topK),
	)

	semantic, err := e.semanticScores(ctx, userID, query, plan, topK)
	if err != nil {
		// Semantic recall is best-effort; lexical ranking still works.
		e.logger.Warn("semantic recall failed, falling back to lexical",
			zap.String("user_id", userID),
			zap.Error(err))
		semantic = nil
	}

	poolLimit := topK * 6
	if poolLimit < 60 {
		poolLimit = 60
	}
	pool, err := e.store.List(ctx, userID, storage.ListOptions{
		MemoryTypes:  plan.MemoryTypes,
		PathPrefixes: plan.PathPrefixes,
		Limit:        poolLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("listing recall pool: %w", err)
	}

	ranked := make([]RankedNode, 0, len(pool))
	for _, node := range pool {
		semanticScore := semantic[node.ID]
		lexical := lexicalScore(query, strings.TrimSpace(node.Title+" "+node.Value))
		recency := recencyScore(node.UpdatedAt)
		score := clamp01(
			semanticScore*weightSemantic +
				lexical*weightLexical +
				clamp01(node.Confidence)*weightConfidence +
				clamp01(node.Importance)*weightImportance +
				recency*weightRecency,
		)
		ranked = append(ranked, RankedNode{
			Node:          node,
			Score:         score,
			SemanticScore: semanticScore,
			LexicalScore:  lexical,
			RecencyScore:  recency,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	l0Limit := limitOr(opts.L0Limit, 3, len(ranked))
	l1Limit := limitOr(opts.L1Limit, 6, len(ranked))
	l2Limit := limitOr(opts.L2Limit, 2, len(ranked))

	result := &Result{Plan: plan, Hits: ranked}
	for _, item := range ranked[:l0Limit] {
		result.L0 = append(result.L0, IndexEntry{Path: item.Node.Path, Title: titleFor(item.Node)})
	}
	for _, item := range ranked[:l1Limit] {
		result.L1 = append(result.L1, SummaryEntry{Path: item.Node.Path, Summary: item.Node.Value})
	}
	for _, item := range ranked {
		if len(result.L2) >= l2Limit {
			break
		}
		if item.Node.Detail == "" {
			continue
		}
		result.L2 = append(result.L2, DetailEntry{Path: item.Node.Path, Detail: item.Node.Detail})
	}
	result.PromptContext = formatPromptContext(result)

	span.SetAttributes(attribute.Int("retrieval.hits", len(ranked)))
	return result, nil
}

func limitOr(override *int, fallback, hitCount int) int {
	limit := fallback
	if override != nil {
		limit = *override
	}
	if limit > hitCount {
		limit = hitCount
	}
	if limit < 0 {
		limit = 0
	}
	return limit
}

// formatPromptContext renders the layered context block injected into the
// agent's prompt.
func formatPromptContext(result *Result) string {
	var lines []string

	if len(result.L0) > 0 {
		lines = append(lines, "[L0 Memory Index]")
		for _, item := range result.L0 {
			lines = append(lines, fmt.Sprintf("- %s — %s", item.Path, item.Title))
		}
	}
	if len(result.L1) > 0 {
		lines = append(lines, "\n[L1 Summary]")
		for _, item := range result.L1 {
			lines = append(lines, fmt.Sprintf("- %s: %s", item.Path, item.Summary))
		}
	}
	if len(result.L2) > 0 {
		lines = append(lines, "\n[L2 Detail]")
		for _, item := range result.L2 {
			lines = append(lines, fmt.Sprintf("- %s: %s", item.Path, item.Detail))
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
