// Package engine orchestrates the full memory pipeline: validation,
// write scoring, gating, conflict resolution, versioned persistence,
// retrieval, and maintenance passes.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/conflict"
	"github.com/fyrsmithlabs/memoryd/internal/consolidation"
	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/forgetting"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/metrics"
	"github.com/fyrsmithlabs/memoryd/internal/retrieval"
	"github.com/fyrsmithlabs/memoryd/internal/scoring"
	"github.com/fyrsmithlabs/memoryd/internal/storage"
	"github.com/fyrsmithlabs/memoryd/internal/writegate"
)

var timeNow = time.Now

var tracer = otel.Tracer("memoryd.engine")

// defaultImportance is persisted when neither the extractor nor the type
// prior supplied an explicit value.
const defaultImportance = 0.6

// Extractor turns raw dialogue into an extraction payload, typically by
// calling an LLM.
type Extractor interface {
	Extract(ctx context.Context, dialogue string) (*memory.ExtractionPayload, error)
}

// Options wires an Engine. Store is required; everything else degrades
// gracefully when absent.
type Options struct {
	Store     storage.Storage
	Embedder  embeddings.Embedder
	Index     *storage.ChromemIndex
	Extractor Extractor
	Logger    *zap.Logger

	Scoring  scoring.Options
	Gate     writegate.Options
	Conflict conflict.Options
}

// Engine is the orchestration layer every API surface calls into.
type Engine struct {
	store     storage.Storage
	embedder  embeddings.Embedder
	index     *storage.ChromemIndex
	extractor Extractor
	executor  *retrieval.Executor
	logger    *zap.Logger

	scoring  scoring.Options
	gate     writegate.Options
	conflict conflict.Options

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an Engine. Returns an error when no store is configured.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     opts.Store,
		embedder:  opts.Embedder,
		index:     opts.Index,
		extractor: opts.Extractor,
		executor:  retrieval.NewExecutor(opts.Store, opts.Embedder, opts.Index, logger),
		logger:    logger,
		scoring:   opts.Scoring,
		gate:      opts.Gate,
		conflict:  opts.Conflict,
		locks:     map[string]*sync.Mutex{},
	}, nil
}

// Init prepares the storage backend.
func (e *Engine) Init(ctx context.Context) error {
	return e.store.Init(ctx)
}

// pathLock serializes writes to one (user, path) pair. Reads stay
// lock-free; versioning correctness only needs writer exclusion.
func (e *Engine) pathLock(userID, path string) *sync.Mutex {
	key := userID + "\x00" + path
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[key] = lock
	}
	return lock
}

// ItemResult reports the outcome of ingesting one candidate.
type ItemResult struct {
	Action writegate.Action         `json:"action"`
	Path   string                   `json:"path"`
	ID     string                   `json:"id,omitempty"`
	Reason string                   `json:"reason"`
	Issues []memory.ValidationIssue `json:"issues,omitempty"`
}

// IngestOptions carries provenance for one ingest call.
type IngestOptions struct {
	Source     string
	ObservedAt *time.Time
}

// Ingest validates a raw extracted object and runs it through the write
// pipeline.
func (e *Engine) Ingest(ctx context.Context, userID string, raw map[string]any, opts IngestOptions) (*ItemResult, error) {
	cand, issues := memory.ValidateCandidate(raw, memory.ValidateOptions{
		Source:     opts.Source,
		ObservedAt: opts.ObservedAt,
	})
	if cand == nil {
		return &ItemResult{
			Action: writegate.ActionSkip,
			Reason: "validation failed",
			Issues: issues,
		}, nil
	}
	return e.IngestCandidate(ctx, userID, cand)
}

// IngestCandidate runs one validated candidate through scoring, gating,
// conflict resolution, and versioned persistence.
func (e *Engine) IngestCandidate(ctx context.Context, userID string, cand *memory.Candidate) (*ItemResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.IngestCandidate")
	defer span.End()
	span.SetAttributes(
		attribute.String("memory.path", cand.Path),
		attribute.String("memory.type", string(cand.Type)),
	)

	if userID == "" {
		return nil, memory.ErrEmptyUserID
	}

	lock := e.pathLock(userID, cand.Path)
	lock.Lock()
	defer lock.Unlock()

	existing, err := e.store.ReadByPath(ctx, userID, cand.Path, false)
	if err != nil {
		return nil, fmt.Errorf("reading existing nodes at %s: %w", cand.Path, err)
	}

	score := scoring.ScoreWriteCandidate(existing, cand, e.scoring)
	if !score.ShouldWrite {
		metrics.RecordWrite("skip", true)
		return &ItemResult{Action: writegate.ActionSkip, Path: cand.Path, Reason: score.Reason}, nil
	}

	decision := writegate.Decide(existing, cand, e.gate)
	switch {
	case decision.Action == writegate.ActionSkip:
		metrics.RecordWrite("skip", decision.Duplicate != nil)
		result := &ItemResult{Action: writegate.ActionSkip, Path: cand.Path, Reason: decision.Reason}
		if decision.Duplicate != nil {
			result.ID = decision.Duplicate.ID
		}
		return result, nil

	case decision.Action == writegate.ActionInsert || len(existing) == 0:
		// Archived nodes can already occupy versions at this path, so the
		// next version comes from the full history.
		all, err := e.store.ReadByPath(ctx, userID, cand.Path, true)
		if err != nil {
			return nil, fmt.Errorf("reading history at %s: %w", cand.Path, err)
		}
		version := 1
		for _, n := range all {
			if n.Version >= version {
				version = n.Version + 1
			}
		}
		node, err := e.insertSnapshot(ctx, userID, cand, snapshotOpts{version: version})
		if err != nil {
			return nil, err
		}
		metrics.RecordWrite("insert", false)
		return &ItemResult{Action: writegate.ActionInsert, Path: cand.Path, ID: node.ID, Reason: "inserted new memory"}, nil
	}

	target := existing[0]
	if decision.Target != nil {
		for _, n := range existing {
			if n.ID == decision.Target.ID {
				target = n
				break
			}
		}
	}

	resolution := conflict.Resolve(target, cand, e.conflict)
	if resolution.Conflict {
		metrics.RecordConflicts(1)
	}

	switch resolution.Action {
	case conflict.ActionKeepExisting:
		metrics.RecordWrite("skip", false)
		return &ItemResult{Action: writegate.ActionSkip, Path: cand.Path, ID: target.ID, Reason: resolution.Reason}, nil

	case conflict.ActionFlagConflict:
		flagged := *target
		flagged.ConflictFlag = true
		flagged.UpdatedAt = timeNow().UTC()
		if err := e.store.Update(ctx, &flagged); err != nil {
			return nil, fmt.Errorf("flagging conflict on %s: %w", target.ID, err)
		}
		metrics.RecordWrite("skip", false)
		return &ItemResult{Action: writegate.ActionSkip, Path: cand.Path, ID: target.ID, Reason: resolution.Reason}, nil
	}

	// Replace or merge: archive the current head and insert the next
	// version snapshot built by the resolver.
	if _, err := e.store.Archive(ctx, userID, []string{target.ID}); err != nil {
		return nil, fmt.Errorf("archiving superseded node %s: %w", target.ID, err)
	}
	e.removeFromIndex(ctx, userID, target.ID)

	opts := snapshotOpts{
		version:      target.Version + 1,
		supersedes:   target.ID,
		conflictFlag: resolution.Conflict,
	}
	if resolution.Next != nil {
		opts.valueOverride = resolution.Next.Value
		opts.confidenceOverride = &resolution.Next.Confidence
	}
	node, err := e.insertSnapshot(ctx, userID, cand, opts)
	if err != nil {
		return nil, err
	}
	metrics.RecordWrite("update", false)
	return &ItemResult{Action: writegate.ActionUpdate, Path: cand.Path, ID: node.ID, Reason: resolution.Reason}, nil
}

type snapshotOpts struct {
	version            int
	supersedes         string
	conflictFlag       bool
	valueOverride      string
	confidenceOverride *float64
}

func (e *Engine) insertSnapshot(ctx context.Context, userID string, cand *memory.Candidate, opts snapshotOpts) (*memory.Node, error) {
	now := timeNow().UTC()

	value := cand.Value
	if opts.valueOverride != "" {
		value = opts.valueOverride
	}
	confidence := cand.Confidence
	if opts.confidenceOverride != nil {
		confidence = *opts.confidenceOverride
	}

	path := memory.Normalize(cand.Path)
	memoryType := memory.TypeFromPath(path)
	if memoryType == "" {
		memoryType = cand.Type
	}
	subject := cand.Subject
	if subject == "" {
		if idx := strings.LastIndex(path, "/"); idx >= 0 && idx+1 < len(path) {
			subject = path[idx+1:]
		} else {
			subject = "unknown"
		}
	}
	importance := defaultImportance
	if cand.Importance != nil {
		importance = *cand.Importance
	}

	var embedding []float32
	if e.embedder != nil {
		vectors, err := e.embedder.EmbedDocuments(ctx, []string{value})
		switch {
		case err != nil:
			e.logger.Warn("embedding failed, persisting without vector",
				zap.String("path", path),
				zap.Error(err))
		case len(vectors) == 0:
			e.logger.Warn("embedder returned no vectors, persisting without vector",
				zap.String("path", path))
		default:
			embedding = vectors[0]
		}
	}

	node := &memory.Node{
		ID:           uuid.NewString(),
		UserID:       userID,
		Path:         path,
		MemoryType:   memoryType,
		Subject:      subject,
		Title:        cand.Title,
		Value:        value,
		Confidence:   confidence,
		Importance:   importance,
		Utility:      cand.Utility,
		Source:       cand.Source,
		ObservedAt:   cand.ObservedAt,
		CreatedAt:    now,
		UpdatedAt:    now,
		Embedding:    embedding,
		Version:      opts.version,
		Supersedes:   opts.supersedes,
		ConflictFlag: opts.conflictFlag,
	}
	if err := e.store.Insert(ctx, node); err != nil {
		return nil, fmt.Errorf("inserting node at %s: %w", path, err)
	}
	if e.index != nil && len(embedding) > 0 {
		if err := e.index.Index(ctx, node); err != nil {
			e.logger.Warn("vector index update failed",
				zap.String("node_id", node.ID),
				zap.Error(err))
		}
	}
	e.logger.With(logging.ContextFields(ctx)...).Debug("persisted memory snapshot",
		zap.String("user_id", userID),
		zap.String("path", path),
		zap.Int("version", opts.version))
	return node, nil
}

func (e *Engine) removeFromIndex(ctx context.Context, userID string, ids ...string) {
	if e.index == nil || len(ids) == 0 {
		return
	}
	if err := e.index.Remove(ctx, userID, ids...); err != nil {
		e.logger.Warn("vector index removal failed",
			zap.Strings("node_ids", ids),
			zap.Error(err))
	}
}

// CommitInput is one batch write request. Extracted takes precedence;
// Dialogue requires a configured extractor.
type CommitInput struct {
	UserID     string
	Dialogue   string
	Extracted  *memory.ExtractionPayload
	Source     string
	ObservedAt *time.Time
}

// CommitResult aggregates the per-item outcomes of one batch.
type CommitResult struct {
	Accepted int                      `json:"accepted"`
	Skipped  int                      `json:"skipped"`
	Errors   int                      `json:"errors"`
	Items    []ItemResult             `json:"items"`
	Issues   []memory.ValidationIssue `json:"issues,omitempty"`
}

// Commit runs a whole extraction payload through ingestion. One bad entry
// never blocks its siblings.
func (e *Engine) Commit(ctx context.Context, input CommitInput) (*CommitResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.Commit")
	defer span.End()

	payload := input.Extracted
	if payload == nil {
		if e.extractor == nil || input.Dialogue == "" {
			return &CommitResult{
				Errors: 1,
				Issues: []memory.ValidationIssue{{Field: "commit", Message: "missing extracted payload or extractor and dialogue"}},
			}, nil
		}
		extracted, err := e.extractor.Extract(ctx, input.Dialogue)
		if err != nil {
			return nil, fmt.Errorf("extracting memories from dialogue: %w", err)
		}
		payload = extracted
	}

	candidates, issues := memory.ValidatePayload(payload, memory.ValidateOptions{
		Source:     input.Source,
		ObservedAt: input.ObservedAt,
	})

	result := &CommitResult{Issues: issues, Errors: len(issues)}
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, err := e.IngestCandidate(ctx, input.UserID, cand)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, *item)
		if item.Action == writegate.ActionSkip {
			result.Skipped++
		} else {
			result.Accepted++
		}
	}
	span.SetAttributes(
		attribute.Int("commit.accepted", result.Accepted),
		attribute.Int("commit.skipped", result.Skipped),
	)
	return result, nil
}

// Retrieve plans and executes recall for one query.
func (e *Engine) Retrieve(ctx context.Context, userID, query string, opts retrieval.Options) (*retrieval.Result, error) {
	result, err := e.executor.Retrieve(ctx, userID, query, opts)
	if err != nil {
		return nil, err
	}
	metrics.RecordRetrieval(len(result.Hits))
	return result, nil
}

// ReadByPath returns the live nodes at a path and records the access.
// The access bump never touches UpdatedAt; reads are not writes for
// recency scoring.
func (e *Engine) ReadByPath(ctx context.Context, userID, rawPath string) ([]*memory.Node, error) {
	ctx, span := tracer.Start(ctx, "Engine.ReadByPath")
	defer span.End()

	path := memory.Normalize(rawPath)
	rows, err := e.store.ReadByPath(ctx, userID, path, false)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	now := timeNow().UTC()
	for _, row := range rows {
		bumped := *row
		bumped.AccessCount = row.AccessCount + 1
		bumped.LastAccessedAt = &now
		if err := e.store.Update(ctx, &bumped); err != nil {
			e.logger.Warn("access bump failed",
				zap.String("node_id", row.ID),
				zap.Error(err))
		}
	}
	return rows, nil
}

// ReadResult is the read_memory tool response.
type ReadResult struct {
	Path    string   `json:"path"`
	Records []string `json:"records"`
}

// ReadMemory renders the live nodes at a path for tool consumption.
func (e *Engine) ReadMemory(ctx context.Context, userID, rawPath string) (*ReadResult, error) {
	path := memory.Normalize(rawPath)
	rows, err := e.ReadByPath(ctx, userID, path)
	if err != nil {
		return nil, err
	}
	records := make([]string, len(rows))
	for i, row := range rows {
		records[i] = row.Render()
	}
	return &ReadResult{Path: path, Records: records}, nil
}

// Forget applies the retention policy and drops archived nodes from the
// vector index.
func (e *Engine) Forget(ctx context.Context, userID string, policy forgetting.Policy) (*forgetting.Plan, error) {
	ctx, span := tracer.Start(ctx, "Engine.Forget")
	defer span.End()

	plan, err := forgetting.Apply(ctx, e.store, userID, policy)
	if err != nil {
		return nil, err
	}
	metrics.RecordArchived(len(plan.ArchivedIDs))
	e.removeFromIndex(ctx, userID, plan.ArchivedIDs...)
	if len(plan.ArchivedIDs) > 0 {
		e.logger.Info("forgetting pass archived nodes",
			zap.String("user_id", userID),
			zap.Int("archived", len(plan.ArchivedIDs)))
	}
	return plan, nil
}

// Consolidate distills repeated episodic memories into semantic rules and
// feeds them back through ingestion.
func (e *Engine) Consolidate(ctx context.Context, userID string, opts consolidation.Options) ([]*ItemResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.Consolidate")
	defer span.End()

	nodes, err := e.store.List(ctx, userID, storage.ListOptions{
		MemoryTypes: []memory.Type{memory.TypeEvent},
		Limit:       500,
	})
	if err != nil {
		return nil, fmt.Errorf("listing episodic nodes: %w", err)
	}
	episodes := make([]consolidation.Episode, len(nodes))
	for i, node := range nodes {
		episodes[i] = consolidation.Episode{
			ID:         node.ID,
			Path:       node.Path,
			Type:       node.MemoryType,
			Subject:    node.Subject,
			Value:      node.Value,
			Confidence: node.Confidence,
		}
	}

	rules := consolidation.ConsolidateEpisodes(episodes, opts)
	var results []*ItemResult
	for _, rule := range rules {
		item, err := e.IngestCandidate(ctx, userID, consolidation.CandidateFromRule(rule))
		if err != nil {
			return nil, err
		}
		results = append(results, item)
	}
	return results, nil
}

// ExpireWorkspaces archives session-scoped working memory past its TTL.
func (e *Engine) ExpireWorkspaces(ctx context.Context, userID string, ttl time.Duration) (int, error) {
	nodes, err := e.store.List(ctx, userID, storage.ListOptions{
		MemoryTypes: []memory.Type{memory.TypeTask},
	})
	if err != nil {
		return 0, fmt.Errorf("listing task nodes: %w", err)
	}
	var expired []string
	for _, node := range nodes {
		if memory.IsWorkspacePath(node.Path) && memory.WorkspaceExpired(node.UpdatedAt, ttl) {
			expired = append(expired, node.ID)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	count, err := e.store.Archive(ctx, userID, expired)
	if err != nil {
		return 0, fmt.Errorf("archiving expired workspaces: %w", err)
	}
	metrics.RecordArchived(count)
	e.removeFromIndex(ctx, userID, expired...)
	return count, nil
}

// Close releases the embedder and storage backend.
func (e *Engine) Close() error {
	var first error
	if e.embedder != nil {
		if err := e.embedder.Close(); err != nil {
			first = err
		}
	}
	if err := e.store.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
