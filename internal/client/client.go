// Package client talks to the valuation desk files API over HTTP. It
// provides the Uploader and Extractor a coordinator needs when it runs
// outside the server.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/valuedesk/backend/internal/models"
	"github.com/valuedesk/backend/internal/upload"
)

var (
	// ErrUnauthorized is returned when the server rejects the token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is returned for unknown file ids.
	ErrNotFound = errors.New("not found")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

// Health is the server health payload.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Batches int    `json:"batches"`
}

// Client wraps a resty client bound to one server.
type Client struct {
	http *resty.Client
}

var (
	_ upload.Uploader  = (*Client)(nil)
	_ upload.Extractor = (*Client)(nil)
)

// NewClient creates a client for baseURL, e.g. http://localhost:8090/api.
// token may be empty.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	rc := resty.New().
		SetHostURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json")
	if token != "" {
		rc.SetAuthToken(token)
	}
	if timeout > 0 {
		rc.SetTimeout(timeout)
	}
	return &Client{http: rc}
}

// Upload sends one file to /files/upload. Relative URLs in the receipt are
// resolved against the server.
func (c *Client) Upload(ctx context.Context, f models.SourceFile) (*models.UploadReceipt, error) {
	if f.Open == nil {
		return nil, fmt.Errorf("no content for %s", f.Name)
	}
	r, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer r.Close()

	var receipt models.UploadReceipt
	req := c.http.R().
		SetContext(ctx).
		SetResult(&receipt).
		SetError(&APIError{})
	if f.MimeType != "" {
		req.SetMultipartField("file", f.Name, f.MimeType, r)
	} else {
		req.SetFileReader("file", f.Name, r)
	}

	resp, err := req.Post("/files/upload")
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", f.Name, err)
	}
	if err := responseError(resp); err != nil {
		return nil, fmt.Errorf("uploading %s: %w", f.Name, err)
	}

	if strings.HasPrefix(receipt.URL, "/") {
		receipt.URL = c.origin() + receipt.URL
	}
	return &receipt, nil
}

// Extract runs text extraction on a stored file.
func (c *Client) Extract(ctx context.Context, fileID string) (*models.ExtractionResult, error) {
	var result models.ExtractionResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"id": fileID}).
		SetResult(&result).
		SetError(&APIError{}).
		Post("/files/ocr/{id}")
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", fileID, err)
	}
	if err := responseError(resp); err != nil {
		return nil, fmt.Errorf("extracting %s: %w", fileID, err)
	}
	return &result, nil
}

// Health fetches the server health status.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&h).
		SetError(&APIError{}).
		Get("/health")
	if err != nil {
		return nil, err
	}
	if err := responseError(resp); err != nil {
		return nil, err
	}
	return &h, nil
}

// origin is the scheme and host of the base URL.
func (c *Client) origin() string {
	base := c.http.HostURL
	if i := strings.Index(base, "://"); i >= 0 {
		if j := strings.Index(base[i+3:], "/"); j >= 0 {
			return base[:i+3+j]
		}
	}
	return base
}

func responseError(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}

	apiErr, ok := resp.Error().(*APIError)
	if !ok || apiErr.Code == "" {
		apiErr = &APIError{Code: "HTTP_ERROR", Message: strings.TrimSpace(string(resp.Body()))}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode())
		}
	}
	apiErr.Status = resp.StatusCode()

	switch resp.StatusCode() {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrUnauthorized, apiErr)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, apiErr)
	}
	return apiErr
}
