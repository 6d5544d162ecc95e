package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/docingest/internal/config"
	"github.com/fyrsmithlabs/docingest/internal/tenant"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("docingest.vectorstore.qdrant")

// QdrantConfig holds configuration for the qdrant gRPC client.
type QdrantConfig struct {
	// Host is the qdrant server hostname or IP address.
	Host string

	// Port is the qdrant gRPC port (6334), not the HTTP REST port.
	Port int

	// APIKey authenticates against managed qdrant clusters. Optional.
	APIKey config.Secret

	// VectorSize is the embedding dimensionality. Must match the embedder.
	VectorSize uint64

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries is the retry budget for transient failures. Default 3.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubling per retry. Default 1s.
	RetryBackoff time.Duration

	// MaxMessageSize is the gRPC message cap in bytes. Default 50MB so a
	// large file's chunk batch fits in one upsert.
	MaxMessageSize int
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// IsTransientError checks if an error is transient (should retry).
// Returns true for timeouts and temporary unavailability, false for invalid
// arguments, not found, and permission errors.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore implements Store against qdrant's native gRPC transport.
// Collections are per tenant (sp_{tenant}); chunk identity comes from
// PointID so upserts are idempotent.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig

	// collections caches collection existence to avoid repeated checks.
	collections sync.Map
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore connects to qdrant and verifies the connection with a
// health check.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey.Value(),
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantStore{client: client, config: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.healthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *QdrantStore) healthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.HealthCheck")
	defer span.End()

	if _, err := s.client.HealthCheck(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("health check failed: %w", err)
	}
	span.SetStatus(codes.Ok, "healthy")
	return nil
}

// retryOperation retries an operation with exponential backoff on transient
// errors.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, s.config.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

// EnsureCollection creates the tenant's collection if it does not exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context, tenantName string) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.EnsureCollection")
	defer span.End()

	if err := tenant.Validate(tenantName); err != nil {
		return err
	}
	collection := tenant.CollectionName(tenantName)
	span.SetAttributes(attribute.String("collection", collection))

	if _, ok := s.collections.Load(collection); ok {
		return nil
	}

	err := s.retryOperation(ctx, "ensure collection", func() error {
		exists, err := s.client.CollectionExists(ctx, collection)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.config.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("ensuring collection %s: %w", collection, err)
	}

	s.collections.Store(collection, true)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// UpsertChunks writes all chunks for one file as a single upsert. Point
// identifiers are derived from content-address fields, so unchanged content
// overwrites in place.
func (s *QdrantStore) UpsertChunks(ctx context.Context, tenantName string, chunks []Chunk) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.UpsertChunks")
	defer span.End()

	if len(chunks) == 0 {
		return ErrEmptyChunks
	}
	if err := tenant.Validate(tenantName); err != nil {
		return err
	}
	collection := tenant.CollectionName(tenantName)
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("chunk_count", len(chunks)),
	)

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		if len(c.Embedding) != int(s.config.VectorSize) {
			return fmt.Errorf("chunk %d: embedding size %d does not match collection size %d", i, len(c.Embedding), s.config.VectorSize)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(c.DocID, c.Page, c.ChunkIdx, c.SHA256)),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				"tenant":      c.Tenant,
				"doc_id":      c.DocID,
				"title":       c.Title,
				"source_path": c.SourcePath,
				"mime_type":   c.MimeType,
				"page":        int64(c.Page),
				"chunk_idx":   int64(c.ChunkIdx),
				"sha256":      c.SHA256,
				"text":        c.Text,
			}),
		}
	}

	err := s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting %d points to %s: %w", len(points), collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search performs similarity search in the tenant's collection.
func (s *QdrantStore) Search(ctx context.Context, tenantName string, vector []float32, topK int, scoreThreshold float32) ([]SearchHit, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Search")
	defer span.End()

	if err := tenant.Validate(tenantName); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	const maxTopK = 1000
	if topK > maxTopK {
		topK = maxTopK
	}
	collection := tenant.CollectionName(tenantName)
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("top_k", topK),
	)

	query := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if scoreThreshold > 0 {
		query.ScoreThreshold = qdrant.PtrOf(scoreThreshold)
	}

	var results []*qdrant.ScoredPoint
	err := s.retryOperation(ctx, "search", func() error {
		res, err := s.client.Query(ctx, query)
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching %s: %w", collection, err)
	}

	hits := make([]SearchHit, 0, len(results))
	for _, point := range results {
		hits = append(hits, hitFromPayload(point))
	}
	span.SetAttributes(attribute.Int("hit_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// DeleteDocument removes every record whose payload doc_id matches.
func (s *QdrantStore) DeleteDocument(ctx context.Context, tenantName, docID string) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteDocument")
	defer span.End()

	if err := tenant.Validate(tenantName); err != nil {
		return err
	}
	collection := tenant.CollectionName(tenantName)
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.String("doc_id", docID),
	)

	err := s.retryOperation(ctx, "delete document", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
				Must: []*qdrant.Condition{
					qdrant.NewMatch("doc_id", docID),
				},
			}),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting document %s from %s: %w", docID, collection, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

func hitFromPayload(point *qdrant.ScoredPoint) SearchHit {
	hit := SearchHit{Score: point.Score}
	for key, value := range point.Payload {
		switch key {
		case "text":
			hit.Text = value.GetStringValue()
		case "doc_id":
			hit.DocID = value.GetStringValue()
		case "title":
			hit.Title = value.GetStringValue()
		case "source_path":
			hit.SourcePath = value.GetStringValue()
		case "page":
			hit.Page = int(value.GetIntegerValue())
		case "chunk_idx":
			hit.ChunkIdx = int(value.GetIntegerValue())
		}
	}
	return hit
}
