// Docingestd is the document ingestion daemon: it connects tenants' Google
// Drive folders through delegated OAuth, parses and chunks their documents,
// and writes embeddings into per-tenant qdrant collections.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docingest/internal/authflow"
	"github.com/fyrsmithlabs/docingest/internal/config"
	"github.com/fyrsmithlabs/docingest/internal/connections"
	"github.com/fyrsmithlabs/docingest/internal/drive"
	"github.com/fyrsmithlabs/docingest/internal/embeddings"
	server "github.com/fyrsmithlabs/docingest/internal/http"
	"github.com/fyrsmithlabs/docingest/internal/ingest"
	"github.com/fyrsmithlabs/docingest/internal/jobs"
	"github.com/fyrsmithlabs/docingest/internal/logging"
	"github.com/fyrsmithlabs/docingest/internal/parser"
	"github.com/fyrsmithlabs/docingest/internal/telemetry"
	"github.com/fyrsmithlabs/docingest/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "docingestd",
	Short: "Multi-tenant document ingestion service",
	Long: `docingestd ingests documents from tenants' Google Drive folders into
per-tenant qdrant collections for semantic search.

It manages delegated OAuth connections, runs asynchronous ingestion jobs
(download, parse, chunk, embed, upsert), and serves a search API.`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", version, gitCommit, buildDate),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingestion daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tel, err := telemetry.New(context.Background(), cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	logger, err := logging.New(cfg.Logging, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown incomplete", zap.Error(err))
		}
	}()

	logger.Info("starting docingestd",
		zap.String("version", version),
		zap.String("commit", gitCommit))

	store, err := connections.Open(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("opening connection store: %w", err)
	}
	defer func() { _ = store.Close() }()

	flow := authflow.New(cfg.OAuth, store, logger)

	embedder, err := embeddings.NewFastEmbedder(embeddings.Config{
		Model:    cfg.Embedding.Model,
		CacheDir: cfg.Embedding.CacheDir,
	})
	if err != nil {
		return fmt.Errorf("initializing embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	qdrant, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.UseTLS,
		VectorSize: uint64(embedder.Dimension()),
	})
	if err != nil {
		return fmt.Errorf("connecting to qdrant: %w", err)
	}
	defer func() { _ = qdrant.Close() }()

	driveClient := drive.New(drive.Config{
		BaseURL:     cfg.OAuth.DriveAPIURL,
		MaxFileSize: cfg.Ingest.MaxFileSize,
	}, flow, logger)

	pipeline, err := ingest.NewPipeline(
		cfg.Ingest,
		store,
		driveClient,
		parser.New(nil, logger),
		embedder,
		qdrant,
		jobs.NewRegistry(),
		logger,
	)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}
	defer pipeline.Close()

	srv, err := server.NewServer(server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, pipeline, flow, store, qdrant, embedder, logger)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go flow.RunStateSweeper(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	return nil
}
