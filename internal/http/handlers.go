package http

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docingest/internal/authflow"
	"github.com/fyrsmithlabs/docingest/internal/connections"
	"github.com/fyrsmithlabs/docingest/internal/ingest"
	"github.com/fyrsmithlabs/docingest/internal/jobs"
	"github.com/fyrsmithlabs/docingest/internal/tenant"
	"github.com/fyrsmithlabs/docingest/internal/vectorstore"
)

// httpError maps domain errors to HTTP status codes.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, jobs.ErrNotFound),
		errors.Is(err, connections.ErrNotFound),
		errors.Is(err, authflow.ErrNoConnection):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, tenant.ErrInvalidTenant),
		errors.Is(err, ingest.ErrTenantMismatch),
		errors.Is(err, ingest.ErrNoFolders),
		errors.Is(err, authflow.ErrInvalidState):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, authflow.ErrExchangeFailed),
		errors.Is(err, authflow.ErrRefreshFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, ingest.ErrBusy):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// SubmitIngestResponse is the response body for POST /api/v1/ingest.
type SubmitIngestResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (s *Server) handleSubmitIngest(c echo.Context) error {
	var req ingest.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	job, err := s.pipeline.Submit(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, SubmitIngestResponse{
		JobID:  job.ID,
		Status: string(job.Status),
	})
}

func (s *Server) handleGetJob(c echo.Context) error {
	job, err := s.pipeline.Job(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, job)
}

// JobListResponse is the response body for GET /api/v1/ingest/jobs.
type JobListResponse struct {
	Jobs  []jobs.Job `json:"jobs"`
	Count int        `json:"count"`
}

func (s *Server) handleListJobs(c echo.Context) error {
	list, err := s.pipeline.Jobs(c.QueryParam("tenant"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, JobListResponse{Jobs: list, Count: len(list)})
}

// CollectionRequest is the request body for POST /api/v1/collections.
type CollectionRequest struct {
	Tenant string `json:"tenant"`
}

func (s *Server) handleEnsureCollection(c echo.Context) error {
	var req CollectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	tenantName := tenant.Normalize(req.Tenant)
	if err := s.store.EnsureCollection(c.Request().Context(), tenantName); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"tenant":     tenantName,
		"collection": tenant.CollectionName(tenantName),
	})
}

// SearchRequest is the request body for POST /api/v1/search.
type SearchRequest struct {
	Tenant         string  `json:"tenant"`
	Query          string  `json:"query"`
	TopK           int     `json:"top_k"`
	ScoreThreshold float32 `json:"score_threshold"`
}

// SearchResponse is the response body for POST /api/v1/search.
type SearchResponse struct {
	Results []vectorstore.SearchHit `json:"results"`
	Count   int                     `json:"count"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}

	tenantName := tenant.Normalize(req.Tenant)
	if err := tenant.Validate(tenantName); err != nil {
		return httpError(err)
	}

	ctx := c.Request().Context()
	vector, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return httpError(err)
	}

	hits, err := s.store.Search(ctx, tenantName, vector, req.TopK, req.ScoreThreshold)
	if err != nil {
		return httpError(err)
	}
	if hits == nil {
		hits = []vectorstore.SearchHit{}
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: hits, Count: len(hits)})
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	docID := c.Param("doc_id")
	tenantName := tenant.Normalize(c.QueryParam("tenant"))
	if err := tenant.Validate(tenantName); err != nil {
		return httpError(err)
	}

	if err := s.store.DeleteDocument(c.Request().Context(), tenantName, docID); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"doc_id": docID, "status": "deleted"})
}

// ConnectionListResponse is the response body for GET /api/v1/connections.
type ConnectionListResponse struct {
	Connections []*connections.Connection `json:"connections"`
	Count       int                       `json:"count"`
}

func (s *Server) handleListConnections(c echo.Context) error {
	tenantName := tenant.Normalize(c.QueryParam("tenant"))
	if err := tenant.Validate(tenantName); err != nil {
		return httpError(err)
	}

	conns, err := s.conns.ListByTenant(tenantName)
	if err != nil {
		return httpError(err)
	}
	if conns == nil {
		conns = []*connections.Connection{}
	}
	return c.JSON(http.StatusOK, ConnectionListResponse{Connections: conns, Count: len(conns)})
}

// ConnectionStatusResponse is the response body for connection status
// checks. Valid reports whether the connection can currently produce a
// usable access credential, which may require a provider refresh.
type ConnectionStatusResponse struct {
	Valid      bool                    `json:"valid"`
	Connection *connections.Connection `json:"connection"`
	Error      string                  `json:"error,omitempty"`
}

func (s *Server) handleConnectionStatus(c echo.Context) error {
	id := c.Param("id")
	conn, err := s.flow.ConnectionInfo(id)
	if err != nil {
		return httpError(err)
	}
	resp := ConnectionStatusResponse{Connection: conn}
	if _, err := s.flow.LiveAccessToken(c.Request().Context(), id); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Valid = true
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRevokeConnection(c echo.Context) error {
	id := c.Param("id")
	if err := s.flow.Revoke(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"connection_id": id, "status": "revoked"})
}

// AuthorizationURLResponse is the response body for GET /oauth/url.
type AuthorizationURLResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

func (s *Server) authorizationRequest(c echo.Context) (redirectURL, state string, err error) {
	tenantName := c.QueryParam("tenant")
	siteID := c.QueryParam("site_id")
	returnURL := c.QueryParam("return_url")
	loginHint := c.QueryParam("login_hint")
	if returnURL == "" {
		return "", "", echo.NewHTTPError(http.StatusBadRequest, "return_url is required")
	}
	return s.flow.BuildAuthorizationRequest(tenantName, siteID, returnURL, loginHint)
}

func (s *Server) handleAuthorizationURL(c echo.Context) error {
	redirectURL, state, err := s.authorizationRequest(c)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, AuthorizationURLResponse{URL: redirectURL, State: state})
}

func (s *Server) handleAuthorizationStart(c echo.Context) error {
	redirectURL, _, err := s.authorizationRequest(c)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr
		}
		return httpError(err)
	}
	return c.Redirect(http.StatusFound, redirectURL)
}

// CallbackResponse is the JSON fallback for GET /oauth/callback when the
// state carries no return URL.
type CallbackResponse struct {
	ConnectionID string `json:"connection_id"`
	Tenant       string `json:"tenant"`
	UserEmail    string `json:"user_email"`
	Status       string `json:"status"`
}

func (s *Server) handleCallback(c echo.Context) error {
	code := c.QueryParam("code")
	state := c.QueryParam("state")
	if code == "" || state == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code and state are required")
	}

	result, err := s.flow.ExchangeCode(c.Request().Context(), code, state)
	if err != nil {
		s.logger.Warn("oauth callback failed", zap.Error(err))
		return httpError(err)
	}

	conn := result.Connection
	if result.ReturnURL == "" {
		return c.JSON(http.StatusOK, CallbackResponse{
			ConnectionID: conn.ID,
			Tenant:       conn.Tenant,
			UserEmail:    conn.UserEmail,
			Status:       "connected",
		})
	}

	target, err := url.Parse(result.ReturnURL)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid return url")
	}
	q := target.Query()
	q.Set("connection_id", conn.ID)
	q.Set("tenant", conn.Tenant)
	q.Set("user_email", conn.UserEmail)
	q.Set("status", "success")
	target.RawQuery = q.Encode()
	return c.Redirect(http.StatusFound, target.String())
}
