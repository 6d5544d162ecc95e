package ingest

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/docingest/internal/ingest"

// Metrics holds ingestion pipeline metrics.
type Metrics struct {
	meter        metric.Meter
	logger       *zap.Logger
	fileDuration metric.Float64Histogram
	filesTotal   metric.Int64Counter
	chunksTotal  metric.Int64Counter
	jobsTotal    metric.Int64Counter
}

// NewMetrics creates a Metrics instance for the pipeline.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.fileDuration, err = m.meter.Float64Histogram(
		"docingest.file.processing_duration_seconds",
		metric.WithDescription("Per-file processing duration covering download, parse, embed, and upsert"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0),
	)
	if err != nil {
		m.logger.Warn("failed to create file duration histogram", zap.Error(err))
	}

	m.filesTotal, err = m.meter.Int64Counter(
		"docingest.files_total",
		metric.WithDescription("Files processed, labeled by result (success, error)"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		m.logger.Warn("failed to create files counter", zap.Error(err))
	}

	m.chunksTotal, err = m.meter.Int64Counter(
		"docingest.chunks_upserted_total",
		metric.WithDescription("Chunks embedded and written to the vector store"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		m.logger.Warn("failed to create chunks counter", zap.Error(err))
	}

	m.jobsTotal, err = m.meter.Int64Counter(
		"docingest.jobs_total",
		metric.WithDescription("Ingestion jobs by terminal status (completed, failed)"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		m.logger.Warn("failed to create jobs counter", zap.Error(err))
	}
}

// RecordFile records one file's processing outcome.
func (m *Metrics) RecordFile(ctx context.Context, tenant string, duration time.Duration, chunks int, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.String("result", result),
	)
	if m.fileDuration != nil {
		m.fileDuration.Record(ctx, duration.Seconds(), attrs)
	}
	if m.filesTotal != nil {
		m.filesTotal.Add(ctx, 1, attrs)
	}
	if m.chunksTotal != nil && chunks > 0 {
		m.chunksTotal.Add(ctx, int64(chunks), metric.WithAttributes(attribute.String("tenant", tenant)))
	}
}

// RecordJob records a job reaching a terminal status.
func (m *Metrics) RecordJob(ctx context.Context, tenant, status string) {
	if m.jobsTotal != nil {
		m.jobsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tenant", tenant),
			attribute.String("status", status),
		))
	}
}
