// Package ingest runs the document ingestion pipeline: list, download,
// parse, chunk, embed, upsert, with per-file error isolation and batch-level
// progress reporting.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docingest/internal/config"
	"github.com/fyrsmithlabs/docingest/internal/connections"
	"github.com/fyrsmithlabs/docingest/internal/jobs"
	"github.com/fyrsmithlabs/docingest/internal/parser"
	"github.com/fyrsmithlabs/docingest/internal/tenant"
	"github.com/fyrsmithlabs/docingest/internal/vectorstore"
)

var (
	// ErrTenantMismatch indicates the connection belongs to a different
	// tenant than the request.
	ErrTenantMismatch = errors.New("ingest: connection does not belong to tenant")

	// ErrNoFolders indicates a submission without folder ids.
	ErrNoFolders = errors.New("ingest: at least one folder id required")

	// ErrBusy indicates all job workers are occupied. The submission is
	// retryable.
	ErrBusy = errors.New("ingest: all job workers busy")
)

// ConnectionResolver resolves a connection id to its active record.
// Implemented by the connections store.
type ConnectionResolver interface {
	GetConnection(id string) (*connections.Connection, error)
}

// Request is an ingestion submission.
type Request struct {
	Tenant       string   `json:"tenant"`
	ConnectionID string   `json:"connection_id"`
	FolderIDs    []string `json:"folder_ids"`

	// Reingest selects between full and incremental reprocessing. Only
	// full reprocessing is implemented; the field is accepted and ignored
	// so callers can set it ahead of incremental support.
	Reingest string `json:"reingest,omitempty"`
}

// Pipeline validates submissions and runs ingestion jobs on a bounded
// worker pool. One worker runs one job; within a job, files are processed
// in sequential batches of bounded width.
type Pipeline struct {
	cfg      config.IngestConfig
	conns    ConnectionResolver
	source   FileSource
	parser   DocumentParser
	embedder vectorstore.Embedder
	store    vectorstore.Store
	registry jobs.Store
	pool     *ants.Pool
	metrics  *Metrics
	logger   *zap.Logger
}

// NewPipeline creates a Pipeline with its job worker pool.
func NewPipeline(
	cfg config.IngestConfig,
	conns ConnectionResolver,
	source FileSource,
	docParser DocumentParser,
	embedder vectorstore.Embedder,
	store vectorstore.Store,
	registry jobs.Store,
	logger *zap.Logger,
) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.JobWorkers
	if workers <= 0 {
		workers = 4
	}
	// Nonblocking keeps Submit from parking the HTTP caller when every
	// worker is running a job; a saturated pool surfaces as ErrBusy.
	pool, err := ants.NewPool(workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("creating job pool: %w", err)
	}
	return &Pipeline{
		cfg:      cfg,
		conns:    conns,
		source:   source,
		parser:   docParser,
		embedder: embedder,
		store:    store,
		registry: registry,
		pool:     pool,
		metrics:  NewMetrics(logger),
		logger:   logger,
	}, nil
}

// Close releases the worker pool. Running jobs finish first.
func (p *Pipeline) Close() {
	p.pool.Release()
}

// Submit validates the request, allocates a job, and schedules it for
// background execution. Validation failures return before any job exists.
func (p *Pipeline) Submit(ctx context.Context, req Request) (jobs.Job, error) {
	tenantName := tenant.Normalize(req.Tenant)
	if err := tenant.Validate(tenantName); err != nil {
		return jobs.Job{}, err
	}
	if len(req.FolderIDs) == 0 {
		return jobs.Job{}, ErrNoFolders
	}

	conn, err := p.conns.GetConnection(req.ConnectionID)
	if err != nil {
		return jobs.Job{}, fmt.Errorf("resolving connection %s: %w", req.ConnectionID, err)
	}
	if conn.Tenant != tenantName {
		return jobs.Job{}, fmt.Errorf("%w: connection %s", ErrTenantMismatch, req.ConnectionID)
	}

	job := p.registry.Create(tenantName, conn.ID)
	folderIDs := append([]string(nil), req.FolderIDs...)

	// The job outlives the submission request; it runs under its own
	// context.
	if err := p.pool.Submit(func() {
		p.run(context.Background(), job.ID, tenantName, conn.ID, folderIDs)
	}); err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			err = ErrBusy
		}
		_ = p.registry.Update(job.ID, func(j *jobs.Job) {
			j.Errors = append(j.Errors, "scheduling failed: "+err.Error())
		})
		_ = p.registry.Complete(job.ID, jobs.StatusFailed)
		return jobs.Job{}, fmt.Errorf("scheduling job: %w", err)
	}

	p.logger.Info("ingestion job submitted",
		zap.String("job_id", job.ID),
		zap.String("tenant", tenantName),
		zap.String("connection_id", conn.ID),
		zap.Int("folders", len(folderIDs)))
	return job, nil
}

// Job returns a snapshot of a job.
func (p *Pipeline) Job(id string) (jobs.Job, error) {
	return p.registry.Get(id)
}

// Jobs returns the tenant's job snapshots, most recently started first.
func (p *Pipeline) Jobs(tenantName string) ([]jobs.Job, error) {
	tenantName = tenant.Normalize(tenantName)
	if err := tenant.Validate(tenantName); err != nil {
		return nil, err
	}
	return p.registry.List(tenantName), nil
}

// run drives one job to a terminal status. Collection setup and listing
// failures are fatal; per-file failures are recorded and skipped.
func (p *Pipeline) run(ctx context.Context, jobID, tenantName, connectionID string, folderIDs []string) {
	logger := p.logger.With(zap.String("job_id", jobID), zap.String("tenant", tenantName))

	fail := func(msg string, err error) {
		logger.Error("ingestion job failed", zap.String("stage", msg), zap.Error(err))
		_ = p.registry.Update(jobID, func(j *jobs.Job) {
			j.Errors = append(j.Errors, fmt.Sprintf("%s: %v", msg, err))
		})
		_ = p.registry.Complete(jobID, jobs.StatusFailed)
		p.metrics.RecordJob(ctx, tenantName, string(jobs.StatusFailed))
	}

	_ = p.registry.Update(jobID, func(j *jobs.Job) {
		j.Status = jobs.StatusRunning
	})

	if err := p.store.EnsureCollection(ctx, tenantName); err != nil {
		fail("ensuring collection", err)
		return
	}

	var files []FileRef
	for _, folderID := range folderIDs {
		refs, err := p.source.List(ctx, connectionID, folderID)
		if err != nil {
			fail(fmt.Sprintf("listing folder %s", folderID), err)
			return
		}
		files = append(files, refs...)
	}

	_ = p.registry.Update(jobID, func(j *jobs.Job) {
		j.TotalDocs = len(files)
	})
	logger.Info("ingestion job listing complete", zap.Int("files", len(files)))

	batchSize := p.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}

	for start := 0; start < len(files); start += batchSize {
		end := start + batchSize
		if end > len(files) {
			end = len(files)
		}
		p.runBatch(ctx, jobID, tenantName, connectionID, files[start:end], logger)
	}

	_ = p.registry.Complete(jobID, jobs.StatusCompleted)
	p.metrics.RecordJob(ctx, tenantName, string(jobs.StatusCompleted))
	logger.Info("ingestion job completed")
}

// fileResult is the outcome of processing one file within a batch.
type fileResult struct {
	pages  int
	chunks int
	err    error
	name   string
}

// runBatch processes one batch concurrently, then publishes its counters
// and errors in a single registry update.
func (p *Pipeline) runBatch(ctx context.Context, jobID, tenantName, connectionID string, batch []FileRef, logger *zap.Logger) {
	results := make([]fileResult, len(batch))
	var wg sync.WaitGroup
	for i, ref := range batch {
		wg.Add(1)
		go func(i int, ref FileRef) {
			defer wg.Done()
			start := time.Now()
			pages, chunks, err := p.processFile(ctx, tenantName, connectionID, ref)
			p.metrics.RecordFile(ctx, tenantName, time.Since(start), chunks, err)
			results[i] = fileResult{pages: pages, chunks: chunks, err: err, name: ref.Name}
		}(i, ref)
	}
	wg.Wait()

	_ = p.registry.Update(jobID, func(j *jobs.Job) {
		for _, res := range results {
			if res.err != nil {
				j.Errors = append(j.Errors, fmt.Sprintf("%s: %v", res.name, res.err))
				continue
			}
			j.ProcessedDocs++
			j.ProcessedPages += res.pages
			j.TotalPages += res.pages
		}
	})

	for _, res := range results {
		if res.err != nil {
			logger.Warn("file processing failed", zap.String("file", res.name), zap.Error(res.err))
		}
	}
}

// processFile runs the full download, parse, chunk, embed, upsert sequence
// for one file. A document that yields no chunks is a success with zero
// chunks.
func (p *Pipeline) processFile(ctx context.Context, tenantName, connectionID string, ref FileRef) (pages, chunks int, err error) {
	content, err := p.source.Download(ctx, connectionID, ref.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("download: %w", err)
	}

	doc, err := p.parser.Parse(ctx, content.Data, content.MimeType, content.Filename)
	if err != nil {
		return 0, 0, fmt.Errorf("parse: %w", err)
	}

	pageChunks := parser.ChunkDocument(doc, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if len(pageChunks) == 0 {
		return doc.TotalPages, 0, nil
	}

	texts := make([]string, len(pageChunks))
	for i, pc := range pageChunks {
		texts[i] = pc.Text
	}
	embeddings, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, 0, fmt.Errorf("embed: %w", err)
	}
	if len(embeddings) != len(pageChunks) {
		return 0, 0, fmt.Errorf("embed: got %d embeddings for %d chunks", len(embeddings), len(pageChunks))
	}

	digest := sha256.Sum256(content.Data)
	contentHash := hex.EncodeToString(digest[:])

	records := make([]vectorstore.Chunk, len(pageChunks))
	for i, pc := range pageChunks {
		records[i] = vectorstore.Chunk{
			Tenant:     tenantName,
			DocID:      ref.ID,
			Title:      content.Filename,
			SourcePath: content.Filename,
			MimeType:   content.MimeType,
			Page:       pc.Page,
			ChunkIdx:   pc.ChunkIdx,
			SHA256:     contentHash,
			Text:       pc.Text,
			Embedding:  embeddings[i],
		}
	}

	if err := p.store.UpsertChunks(ctx, tenantName, records); err != nil {
		return 0, 0, fmt.Errorf("upsert: %w", err)
	}
	return doc.TotalPages, len(records), nil
}
