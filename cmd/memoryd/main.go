// Memoryd is a long-term memory daemon for LLM agents.
//
// It exposes an HTTP API for committing extracted memories, retrieving
// layered context for prompts, and running the forgetting and
// consolidation maintenance passes.
//
// Configuration is loaded from ~/.config/memoryd/config.yaml (or the
// --config flag) with environment variable overrides. See internal/config
// for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	memoryd
//
//	# Configure via environment
//	SERVER_PORT=9030 STORAGE_DRIVER=memory memoryd
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/engine"
	apihttp "github.com/fyrsmithlabs/memoryd/internal/http"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/storage"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "memoryd",
	Short: "Long-term memory daemon for LLM agents",
	Long: `memoryd stores extracted memories under stable mory:// paths, versions
them on update, and serves layered recall context over HTTP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("memoryd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// runServe initializes all dependencies and blocks until the context is
// cancelled or the server fails.
func runServe(ctx context.Context) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()

	store, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(embeddings.ProviderConfig{
		Provider: cfg.Embeddings.Provider,
		Model:    cfg.Embeddings.Model,
		CacheDir: cfg.Embeddings.CacheDir,
		BaseURL:  cfg.Embeddings.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("initializing embeddings: %w", err)
	}
	if embedder == nil {
		logger.Info("no embedding provider configured, retrieval is lexical-only")
	}

	var index *storage.ChromemIndex
	if cfg.VectorStore.Enabled {
		indexPath, err := config.ExpandHome(cfg.VectorStore.Path)
		if err != nil {
			return fmt.Errorf("resolving vector store path: %w", err)
		}
		index, err = storage.NewChromemIndex(storage.ChromemConfig{
			Path:       indexPath,
			Compress:   cfg.VectorStore.Compress,
			VectorSize: cfg.VectorStore.VectorSize,
		}, logger.Named("vectorstore"))
		if err != nil {
			return fmt.Errorf("initializing vector store: %w", err)
		}
	}

	eng, err := engine.New(engine.Options{
		Store:    store,
		Embedder: embedder,
		Index:    index,
		Logger:   logger.Named("engine"),
	})
	if err != nil {
		return fmt.Errorf("initializing engine: %w", err)
	}
	if err := eng.Init(ctx); err != nil {
		return fmt.Errorf("initializing engine storage: %w", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn("engine close failed", zap.Error(err))
		}
	}()

	server, err := apihttp.NewServer(eng, logger.Named("http"), &apihttp.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("memoryd started",
		zap.String("version", version),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("embeddings_provider", cfg.Embeddings.Provider),
	)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	}
}

// newStore builds the node store selected by the storage driver.
func newStore(cfg *config.Config) (storage.Storage, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "sqlite":
		dsn, err := config.ExpandHome(cfg.Storage.DSN)
		if err != nil {
			return nil, fmt.Errorf("resolving storage dsn: %w", err)
		}
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0700); err != nil {
				return nil, fmt.Errorf("creating storage directory: %w", err)
			}
		}
		return storage.NewSQLiteStore(dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
