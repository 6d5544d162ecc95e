// Package drive implements file listing and download against the Google
// Drive v3 REST API.
package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/docingest/internal/ingest"
)

var (
	// ErrFileTooLarge indicates a file exceeding the configured size cap.
	ErrFileTooLarge = errors.New("drive: file too large")

	// ErrRequestFailed indicates a non-2xx response from the Drive API.
	ErrRequestFailed = errors.New("drive: request failed")
)

// ingestMimeTypes are the listed types the pipeline can process.
// Google-native documents are converted on download.
var ingestMimeTypes = []string{
	"application/pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.google-apps.document",
	"text/plain",
	"text/csv",
}

// exportMimeTypes maps Google-native types to the format requested from the
// export endpoint.
var exportMimeTypes = map[string]string{
	"application/vnd.google-apps.document":     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.google-apps.spreadsheet":  "text/csv",
	"application/vnd.google-apps.presentation": "application/pdf",
}

// TokenProvider supplies a live bearer token for a connection, refreshing
// it if needed.
type TokenProvider interface {
	LiveAccessToken(ctx context.Context, connectionID string) (string, error)
}

// Config holds Drive client settings.
type Config struct {
	// BaseURL is the Drive v3 API root. Defaults to the public endpoint.
	BaseURL string

	// MaxFileSize caps downloads in bytes. Zero means 50MB.
	MaxFileSize int64

	// RequestsPerSecond throttles API calls. Zero means 10.
	RequestsPerSecond float64

	// Timeout bounds each HTTP request. Zero means 60s.
	Timeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://www.googleapis.com/drive/v3"
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 50 * 1024 * 1024
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 10
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
}

// Client is a rate-limited Google Drive API client. It implements
// ingest.FileSource.
type Client struct {
	base    string
	maxSize int64
	tokens  TokenProvider
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ ingest.FileSource = (*Client)(nil)

// New creates a Drive client. tokens resolves connection ids to live access
// tokens.
func New(cfg Config, tokens TokenProvider, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		maxSize: cfg.MaxFileSize,
		tokens:  tokens,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger,
	}
}

type listResponse struct {
	Files []struct {
		ID           string    `json:"id"`
		Name         string    `json:"name"`
		MimeType     string    `json:"mimeType"`
		Size         string    `json:"size"`
		ModifiedTime time.Time `json:"modifiedTime"`
	} `json:"files"`
	NextPageToken string `json:"nextPageToken"`
}

// List returns the ingestable files directly inside folderID, newest first.
// Trashed files and unsupported types are excluded by the query. Paginates
// until the listing is exhausted.
func (c *Client) List(ctx context.Context, connectionID, folderID string) ([]ingest.FileRef, error) {
	if folderID == "" {
		folderID = "root"
	}

	mimeClauses := make([]string, len(ingestMimeTypes))
	for i, m := range ingestMimeTypes {
		mimeClauses[i] = fmt.Sprintf("mimeType='%s'", m)
	}
	query := fmt.Sprintf("'%s' in parents and (%s) and trashed=false",
		folderID, strings.Join(mimeClauses, " or "))

	var refs []ingest.FileRef
	pageToken := ""
	for {
		params := url.Values{
			"q":        {query},
			"fields":   {"files(id,name,mimeType,size,modifiedTime),nextPageToken"},
			"orderBy":  {"modifiedTime desc"},
			"pageSize": {"100"},
		}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var page listResponse
		if err := c.getJSON(ctx, connectionID, c.base+"/files?"+params.Encode(), &page); err != nil {
			return nil, fmt.Errorf("listing folder %s: %w", folderID, err)
		}

		for _, f := range page.Files {
			size, _ := strconv.ParseInt(f.Size, 10, 64)
			refs = append(refs, ingest.FileRef{
				ID:           f.ID,
				Name:         f.Name,
				MimeType:     f.MimeType,
				Size:         size,
				ModifiedTime: f.ModifiedTime,
			})
		}
		if page.NextPageToken == "" {
			return refs, nil
		}
		pageToken = page.NextPageToken
	}
}

type fileMetadata struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     string `json:"size"`
}

// Download fetches a file's bytes. Google-native documents are exported to
// a parseable format; everything else is fetched as stored.
func (c *Client) Download(ctx context.Context, connectionID, fileID string) (ingest.FileContent, error) {
	var meta fileMetadata
	metaURL := c.base + "/files/" + url.PathEscape(fileID) + "?fields=" + url.QueryEscape("name,mimeType,size")
	if err := c.getJSON(ctx, connectionID, metaURL, &meta); err != nil {
		return ingest.FileContent{}, fmt.Errorf("fetching metadata for %s: %w", fileID, err)
	}

	if size, _ := strconv.ParseInt(meta.Size, 10, 64); size > c.maxSize {
		return ingest.FileContent{}, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrFileTooLarge, meta.Name, size, c.maxSize)
	}

	mimeType := meta.MimeType
	var downloadURL string
	if strings.HasPrefix(mimeType, "application/vnd.google-apps") {
		exported, ok := exportMimeTypes[mimeType]
		if !ok {
			exported = "application/pdf"
		}
		downloadURL = c.base + "/files/" + url.PathEscape(fileID) + "/export?mimeType=" + url.QueryEscape(exported)
		mimeType = exported
	} else {
		downloadURL = c.base + "/files/" + url.PathEscape(fileID) + "?alt=media"
	}

	body, err := c.get(ctx, connectionID, downloadURL)
	if err != nil {
		return ingest.FileContent{}, fmt.Errorf("downloading %s: %w", fileID, err)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, c.maxSize+1))
	if err != nil {
		return ingest.FileContent{}, fmt.Errorf("reading %s: %w", fileID, err)
	}
	if int64(len(data)) > c.maxSize {
		return ingest.FileContent{}, fmt.Errorf("%w: %s (max %d)", ErrFileTooLarge, meta.Name, c.maxSize)
	}

	c.logger.Debug("downloaded file",
		zap.String("file_id", fileID),
		zap.String("filename", meta.Name),
		zap.Int("bytes", len(data)))

	return ingest.FileContent{Data: data, Filename: meta.Name, MimeType: mimeType}, nil
}

// get performs an authenticated, rate-limited GET and returns the body on
// 2xx.
func (c *Client) get(ctx context.Context, connectionID, rawURL string) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	token, err := c.tokens.LiveAccessToken(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("resolving access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d: %s", ErrRequestFailed, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return resp.Body, nil
}

func (c *Client) getJSON(ctx context.Context, connectionID, rawURL string, out any) error {
	body, err := c.get(ctx, connectionID, rawURL)
	if err != nil {
		return err
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
