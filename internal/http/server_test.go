package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docingest/internal/authflow"
	"github.com/fyrsmithlabs/docingest/internal/config"
	"github.com/fyrsmithlabs/docingest/internal/connections"
	"github.com/fyrsmithlabs/docingest/internal/ingest"
	"github.com/fyrsmithlabs/docingest/internal/jobs"
	"github.com/fyrsmithlabs/docingest/internal/parser"
	"github.com/fyrsmithlabs/docingest/internal/vectorstore"
)

type stubSource struct {
	mu    sync.Mutex
	files map[string][]stubFile
}

type stubFile struct {
	ref  ingest.FileRef
	data string
}

func (s *stubSource) List(_ context.Context, _, folderID string) ([]ingest.FileRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	files := s.files[folderID]
	refs := make([]ingest.FileRef, len(files))
	for i, f := range files {
		refs[i] = f.ref
	}
	return refs, nil
}

func (s *stubSource) Download(_ context.Context, _, fileID string) (ingest.FileContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, files := range s.files {
		for _, f := range files {
			if f.ref.ID == fileID {
				return ingest.FileContent{Data: []byte(f.data), Filename: f.ref.Name, MimeType: "text/plain"}, nil
			}
		}
	}
	return ingest.FileContent{}, connections.ErrNotFound
}

type stubEmbedder struct{}

func (stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

func (stubEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 2, 3}, nil
}

type stubVectorStore struct {
	mu       sync.Mutex
	upserted int
	deleted  []string
	hits     []vectorstore.SearchHit
}

func (s *stubVectorStore) EnsureCollection(_ context.Context, _ string) error { return nil }

func (s *stubVectorStore) UpsertChunks(_ context.Context, _ string, chunks []vectorstore.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted += len(chunks)
	return nil
}

func (s *stubVectorStore) Search(_ context.Context, _ string, _ []float32, _ int, _ float32) ([]vectorstore.SearchHit, error) {
	return s.hits, nil
}

func (s *stubVectorStore) DeleteDocument(_ context.Context, _, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, docID)
	return nil
}

func (s *stubVectorStore) Close() error { return nil }

type fixture struct {
	server      *Server
	conns       *connections.Store
	source      *stubSource
	vstore      *stubVectorStore
	flow        *authflow.Flow
	authURL     string
	failRefresh *bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	failRefresh := new(bool)

	provider := http.NewServeMux()
	provider.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if *failRefresh {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-token",
			"refresh_token": "refresh-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	provider.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"email": "user@example.com"})
	})
	provider.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	providerSrv := httptest.NewServer(provider)
	t.Cleanup(providerSrv.Close)

	store, err := connections.OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	oauthCfg := config.OAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://docingest.example.com/oauth/callback",
		Scopes:       []string{"https://www.googleapis.com/auth/drive.readonly"},
		StateSecret:  "state-secret",
		StateTTL:     config.Duration(10 * time.Minute),
		AuthURL:      providerSrv.URL + "/auth",
		TokenURL:     providerSrv.URL + "/token",
		RevokeURL:    providerSrv.URL + "/revoke",
		UserInfoURL:  providerSrv.URL + "/userinfo",
	}
	flow := authflow.New(oauthCfg, store, nil)

	source := &stubSource{files: make(map[string][]stubFile)}
	vstore := &stubVectorStore{}
	registry := jobs.NewRegistry()

	ingestCfg := config.IngestConfig{ChunkSize: 1000, ChunkOverlap: 200, BatchSize: 5, JobWorkers: 2}
	pipeline, err := ingest.NewPipeline(ingestCfg, store, source, parser.New(nil, nil), stubEmbedder{}, vstore, registry, nil)
	require.NoError(t, err)
	t.Cleanup(pipeline.Close)

	server, err := NewServer(Config{}, pipeline, flow, store, vstore, stubEmbedder{}, nil)
	require.NoError(t, err)

	return &fixture{
		server:      server,
		conns:       store,
		source:      source,
		vstore:      vstore,
		flow:        flow,
		authURL:     providerSrv.URL + "/auth",
		failRefresh: failRefresh,
	}
}

func (fx *fixture) seedConnection(t *testing.T, tenantName string) *connections.Connection {
	t.Helper()
	conn, err := connections.NewConnection(
		connections.NewConnectionID(), tenantName, "site-1", "user@example.com",
		"refresh-token", "access-token", time.Now().Add(time.Hour), nil)
	require.NoError(t, err)
	require.NoError(t, fx.conns.UpsertConnection(conn))
	return conn
}

func (fx *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	fx.server.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSubmitIngestAndPoll(t *testing.T) {
	fx := newFixture(t)
	conn := fx.seedConnection(t, "acme_co")
	fx.source.files["folder-1"] = []stubFile{
		{ref: ingest.FileRef{ID: "f1", Name: "a.txt", MimeType: "text/plain"}, data: "alpha text"},
		{ref: ingest.FileRef{ID: "f2", Name: "b.txt", MimeType: "text/plain"}, data: "beta text"},
	}

	rec := fx.do(http.MethodPost, "/api/v1/ingest",
		`{"tenant":"Acme-Co","connection_id":"`+conn.ID+`","folder_ids":["folder-1"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted SubmitIngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	assert.NotEmpty(t, submitted.JobID)

	var job jobs.Job
	require.Eventually(t, func() bool {
		poll := fx.do(http.MethodGet, "/api/v1/ingest/jobs/"+submitted.JobID, "")
		require.Equal(t, http.StatusOK, poll.Code)
		require.NoError(t, json.Unmarshal(poll.Body.Bytes(), &job))
		return job.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, 2, job.ProcessedDocs)
	assert.Empty(t, job.Errors)
	assert.Greater(t, fx.vstore.upserted, 0)
}

func TestSubmitIngestTenantMismatch(t *testing.T) {
	fx := newFixture(t)
	conn := fx.seedConnection(t, "acme_co")

	rec := fx.do(http.MethodPost, "/api/v1/ingest",
		`{"tenant":"other-co","connection_id":"`+conn.ID+`","folder_ids":["folder-1"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitIngestUnknownConnection(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(http.MethodPost, "/api/v1/ingest",
		`{"tenant":"acme-co","connection_id":"conn_missing","folder_ids":["folder-1"]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobsByTenant(t *testing.T) {
	fx := newFixture(t)
	conn := fx.seedConnection(t, "acme_co")
	fx.source.files["folder-1"] = []stubFile{
		{ref: ingest.FileRef{ID: "f1", Name: "a.txt", MimeType: "text/plain"}, data: "alpha text"},
	}

	rec := fx.do(http.MethodPost, "/api/v1/ingest",
		`{"tenant":"acme-co","connection_id":"`+conn.ID+`","folder_ids":["folder-1"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	list := fx.do(http.MethodGet, "/api/v1/ingest/jobs?tenant=Acme-Co", "")
	require.Equal(t, http.StatusOK, list.Code)

	var resp JobListResponse
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "acme_co", resp.Jobs[0].Tenant)

	empty := fx.do(http.MethodGet, "/api/v1/ingest/jobs?tenant=other-co", "")
	require.Equal(t, http.StatusOK, empty.Code)
	var emptyResp JobListResponse
	require.NoError(t, json.Unmarshal(empty.Body.Bytes(), &emptyResp))
	assert.Zero(t, emptyResp.Count)
}

func TestListJobsRejectsBadTenant(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(http.MethodGet, "/api/v1/ingest/jobs?tenant=bad%20tenant!", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobNotFound(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(http.MethodGet, "/api/v1/ingest/jobs/job_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnsureCollection(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(http.MethodPost, "/api/v1/collections", `{"tenant":"Acme-Co"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sp_acme_co"`)
}

func TestSearch(t *testing.T) {
	fx := newFixture(t)
	fx.vstore.hits = []vectorstore.SearchHit{
		{Text: "relevant chunk", DocID: "f1", Score: 0.93, Page: 2},
	}

	rec := fx.do(http.MethodPost, "/api/v1/search",
		`{"tenant":"acme-co","query":"what is alpha","top_k":5}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "relevant chunk", resp.Results[0].Text)
}

func TestSearchRequiresQuery(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(http.MethodPost, "/api/v1/search", `{"tenant":"acme-co"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchRejectsBadTenant(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(http.MethodPost, "/api/v1/search", `{"tenant":"!!","query":"q"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteDocument(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(http.MethodDelete, "/api/v1/documents/f1?tenant=acme-co", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"f1"}, fx.vstore.deleted)
}

func TestListConnections(t *testing.T) {
	fx := newFixture(t)
	fx.seedConnection(t, "acme_co")
	fx.seedConnection(t, "acme_co")
	fx.seedConnection(t, "other_co")

	rec := fx.do(http.MethodGet, "/api/v1/connections?tenant=acme-co", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConnectionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	for _, conn := range resp.Connections {
		assert.Equal(t, "acme_co", conn.Tenant)
	}
	// Token material never appears in responses.
	assert.NotContains(t, rec.Body.String(), "refresh-token")
	assert.NotContains(t, rec.Body.String(), "access-token")
}

func TestListConnectionsRejectsBadTenant(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(http.MethodGet, "/api/v1/connections?tenant=bad%20tenant!", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConnectionStatus(t *testing.T) {
	fx := newFixture(t)
	conn := fx.seedConnection(t, "acme_co")

	rec := fx.do(http.MethodGet, "/api/v1/connections/"+conn.ID+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConnectionStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Valid)
	assert.Equal(t, "user@example.com", resp.Connection.UserEmail)
}

func TestConnectionStatusExpiredTokenRefreshes(t *testing.T) {
	fx := newFixture(t)
	conn, err := connections.NewConnection(
		connections.NewConnectionID(), "acme_co", "site-1", "user@example.com",
		"refresh-token", "stale-token", time.Now().Add(-time.Hour), nil)
	require.NoError(t, err)
	require.NoError(t, fx.conns.UpsertConnection(conn))

	rec := fx.do(http.MethodGet, "/api/v1/connections/"+conn.ID+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConnectionStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Valid)
	assert.Empty(t, resp.Error)
}

func TestConnectionStatusProviderRevoked(t *testing.T) {
	fx := newFixture(t)
	conn, err := connections.NewConnection(
		connections.NewConnectionID(), "acme_co", "site-1", "user@example.com",
		"refresh-token", "stale-token", time.Now().Add(-time.Hour), nil)
	require.NoError(t, err)
	require.NoError(t, fx.conns.UpsertConnection(conn))
	*fx.failRefresh = true

	rec := fx.do(http.MethodGet, "/api/v1/connections/"+conn.ID+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConnectionStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Valid)
	assert.NotEmpty(t, resp.Error)
	assert.NotContains(t, rec.Body.String(), "refresh-token")
}

func TestConnectionStatusNotFound(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(http.MethodGet, "/api/v1/connections/conn_missing/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRevokeConnection(t *testing.T) {
	fx := newFixture(t)
	conn := fx.seedConnection(t, "acme_co")

	rec := fx.do(http.MethodDelete, "/api/v1/connections/"+conn.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	status := fx.do(http.MethodGet, "/api/v1/connections/"+conn.ID+"/status", "")
	assert.Equal(t, http.StatusNotFound, status.Code)
}

func TestAuthorizationURL(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(http.MethodGet,
		"/oauth/url?tenant=acme-co&site_id=site-1&return_url="+url.QueryEscape("https://acme.example.com/settings"), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AuthorizationURLResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.State)
	assert.Contains(t, resp.URL, fx.authURL)
	assert.Contains(t, resp.URL, "state="+url.QueryEscape(resp.State))
}

func TestAuthorizationURLRequiresReturnURL(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(http.MethodGet, "/oauth/url?tenant=acme-co&site_id=site-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthorizationStartRedirects(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(http.MethodGet,
		"/oauth/start?tenant=acme-co&site_id=site-1&return_url="+url.QueryEscape("https://acme.example.com/settings"), "")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), fx.authURL)
}

func TestCallbackMissingParams(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(http.MethodGet, "/oauth/callback?code=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackInvalidState(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(http.MethodGet, "/oauth/callback?code=abc&state=forged", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackExchangesAndRedirects(t *testing.T) {
	fx := newFixture(t)

	_, state, err := fx.flow.BuildAuthorizationRequest("acme-co", "site-1", "https://acme.example.com/settings", "")
	require.NoError(t, err)

	rec := fx.do(http.MethodGet, "/oauth/callback?code=auth-code&state="+url.QueryEscape(state), "")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "acme.example.com", loc.Host)
	assert.Equal(t, "success", loc.Query().Get("status"))

	connID := loc.Query().Get("connection_id")
	require.NotEmpty(t, connID)
	conn, err := fx.conns.GetConnection(connID)
	require.NoError(t, err)
	assert.Equal(t, "acme_co", conn.Tenant)
	assert.Equal(t, "user@example.com", conn.UserEmail)
}
