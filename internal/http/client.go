package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Common errors.
var (
	// ErrRangeNotSupported is returned when a ranged GET is answered with a
	// success status other than 206 Partial Content. The server ignored the
	// Range header, so chunked download cannot proceed.
	ErrRangeNotSupported = errors.New("http: server does not support range requests")

	// ErrRangeMismatch is returned when a 206 response carries a
	// Content-Range that does not match the requested range.
	ErrRangeMismatch = errors.New("http: content range does not match request")
)

// StatusError is returned for responses with status >= 400.
type StatusError struct {
	Code   int    // HTTP status code
	Status string // Status line, e.g. "404 Not Found"
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http: unexpected status: %s", e.Status)
}

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 100
	MaxIdleConnsPerHost int

	// ResponseHeaderTimeout bounds the wait for a server's response headers.
	// Zero means no limit; per-request deadlines come from the context.
	ResponseHeaderTimeout time.Duration
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 100,
	}
}

// FileInfo contains metadata about a remote resource.
type FileInfo struct {
	Size          int64 // -1 if the server reported no length
	ETag          string
	AcceptsRanges bool
	ContentType   string
	LastModified  time.Time
}

// RangeResponse represents a validated partial-content response.
type RangeResponse struct {
	Body          io.ReadCloser
	ContentLength int64
	ETag          string
}

// Client is an HTTP client optimized for parallel range downloads.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = 100
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		DisableCompression:    true, // We want raw bytes for range requests
	}

	return &Client{
		client: &http.Client{Transport: transport},
		opts:   opts,
	}
}

// Head performs a HEAD request to get resource metadata.
func (c *Client) Head(ctx context.Context, url string) (*FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	info := &FileInfo{
		Size:          resp.ContentLength,
		ETag:          cleanETag(resp.Header.Get("ETag")),
		AcceptsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
		ContentType:   resp.Header.Get("Content-Type"),
	}

	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			info.LastModified = t
		}
	}

	return info, nil
}

// GetRange performs a ranged GET for [startByte, endByte] (inclusive, like the
// HTTP Range header). The response must be 206 Partial Content; a server that
// answers with any other success status does not honor ranged requests. When
// the response carries a Content-Range header, its range must match the
// request exactly.
func (c *Client) GetRange(ctx context.Context, url string, startByte, endByte int64) (*RangeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", startByte, endByte))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	if resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, ErrRangeNotSupported
	}

	if cr := resp.Header.Get("Content-Range"); cr != "" {
		start, end, _, err := ParseContentRange(cr)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %v", ErrRangeMismatch, err)
		}
		if start != startByte || end != endByte {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: requested bytes %d-%d, got %d-%d",
				ErrRangeMismatch, startByte, endByte, start, end)
		}
	}

	return &RangeResponse{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		ETag:          cleanETag(resp.Header.Get("ETag")),
	}, nil
}

// Get performs a simple GET request.
func (c *Client) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	return resp.Body, nil
}

// cleanETag removes quotes from an ETag value.
func cleanETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)
	return etag
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total may be -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total or bytes start-end/*
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if parts[1] == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	return start, end, total, nil
}
