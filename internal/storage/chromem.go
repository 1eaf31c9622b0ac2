package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("memoryd.storage.chromem")

// ChromemConfig holds configuration for the chromem-go vector index.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty keeps the index
	// in memory only.
	Path string

	// Compress enables gzip compression for persisted data.
	Compress bool

	// VectorSize is the expected embedding dimension.
	// Must match the embedder's output dimension. Default 384.
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// ChromemIndex is a vector index over memory nodes backed by chromem-go.
//
// chromem-go is an embeddable pure-Go vector database; no external service
// is needed. Each user gets one collection, so similarity search never
// crosses user boundaries. The index stores only IDs, paths, and vectors;
// the node of record always lives in Storage.
type ChromemIndex struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger
}

// NewChromemIndex creates a vector index. A nonempty cfg.Path makes it
// persistent across restarts.
func NewChromemIndex(cfg ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if cfg.VectorSize <= 0 {
		return nil, fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		if err = os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory %s: %w", cfg.Path, err)
		}
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	logger.Info("chromem vector index initialized",
		zap.String("path", cfg.Path),
		zap.Bool("compress", cfg.Compress),
		zap.Int("vector_size", cfg.VectorSize),
	)

	return &ChromemIndex{db: db, config: cfg, logger: logger}, nil
}

// collectionName maps a user ID onto a chromem-safe collection name.
func collectionName(userID string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, userID)
	return "mem_" + sanitized
}

func (ix *ChromemIndex) collection(userID string) (*chromem.Collection, error) {
	col, err := ix.db.GetOrCreateCollection(collectionName(userID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("getting collection for user: %w", err)
	}
	return col, nil
}

// Index upserts a node's embedding. Nodes without embeddings are ignored.
func (ix *ChromemIndex) Index(ctx context.Context, node *memory.Node) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Index")
	defer span.End()
	span.SetAttributes(attribute.String("memory.path", node.Path))

	if len(node.Embedding) == 0 {
		return nil
	}
	col, err := ix.collection(node.UserID)
	if err != nil {
		return err
	}
	err = col.AddDocument(ctx, chromem.Document{
		ID:        node.ID,
		Embedding: node.Embedding,
		Content:   node.Value,
		Metadata: map[string]string{
			"path":        node.Path,
			"memory_type": string(node.MemoryType),
		},
	})
	if err != nil {
		return fmt.Errorf("indexing node %s: %w", node.ID, err)
	}
	return nil
}

// Remove drops node IDs from the user's collection. Missing IDs are not an
// error.
func (ix *ChromemIndex) Remove(ctx context.Context, userID string, ids ...string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Remove")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}
	col, err := ix.collection(userID)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("removing nodes from index: %w", err)
	}
	return nil
}

// Query returns up to topK (id, similarity) pairs for the query vector,
// most similar first.
func (ix *ChromemIndex) Query(ctx context.Context, userID string, vector []float32, topK int) (map[string]float64, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("top_k", topK))

	col, err := ix.collection(userID)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults above the collection size.
	if count := col.Count(); topK > count {
		topK = count
	}
	if topK == 0 {
		return map[string]float64{}, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying vector index: %w", err)
	}

	out := make(map[string]float64, len(results))
	for _, res := range results {
		out[res.ID] = float64(res.Similarity)
	}
	return out, nil
}
