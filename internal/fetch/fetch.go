// Package fetch is the outbound HTTP transport. GET and POST responses can be
// served from and recorded into the content-addressed cache.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/edm-harvester/internal/cache"
	"github.com/animus-labs/edm-harvester/internal/contenthash"
)

const userAgent = "edm-harvester/1"

type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	// CacheQuery is combined with URL to form the cache key. POST requests
	// whose body is a query text should set it to that text.
	CacheQuery string
	NoCache    bool
}

type Response struct {
	Status      int
	ContentType string
	Encoding    cache.Encoding
	// Body is always decompressed.
	Body      []byte
	FromCache bool
}

type HeadInfo struct {
	Status          int
	ContentLength   int64
	HasLength       bool
	ContentType     string
	ContentEncoding string
}

type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

type Client struct {
	http   *http.Client
	cache  *cache.Store
	logger *slog.Logger
}

// New returns a client. store may be nil, in which case nothing is cached.
func New(httpClient *http.Client, store *cache.Store, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(60 * time.Second)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{http: httpClient, cache: store, logger: logger}
}

func NewHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          50,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

func (c *Client) HTTP() *http.Client {
	return c.http
}

func (c *Client) Head(ctx context.Context, rawURL string) (HeadInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return HeadInfo{}, fmt.Errorf("build head request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return HeadInfo{}, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return HeadInfo{}, &StatusError{Method: http.MethodHead, URL: rawURL, Status: resp.StatusCode}
	}
	info := HeadInfo{
		Status:          resp.StatusCode,
		ContentType:     resp.Header.Get("Content-Type"),
		ContentEncoding: resp.Header.Get("Content-Encoding"),
	}
	if raw := strings.TrimSpace(resp.Header.Get("Content-Length")); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err == nil && n >= 0 {
			info.ContentLength = n
			info.HasLength = true
		}
	} else if resp.ContentLength >= 0 {
		info.ContentLength = resp.ContentLength
		info.HasLength = true
	}
	return info, nil
}

// Get is a cached GET of rawURL.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL, Header: header})
}

// Do performs req. When a cache is configured and req.NoCache is false, a
// hit returns the stored payload without touching the network, and a miss
// records the raw response body before returning it decoded. Failing to
// record is logged and otherwise ignored.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	useCache := c.cache != nil && !req.NoCache
	var key contenthash.Key
	if useCache {
		key = contenthash.ForRequest(req.URL, req.CacheQuery)
		data, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn("cache read failed", "url", req.URL, "key", key.String(), "error", err)
		} else if ok {
			c.logger.Debug("cache hit", "url", req.URL, "key", key.String())
			resp := &Response{Status: http.StatusOK, Body: data, FromCache: true}
			if entry, found, err := c.cache.Entry(key); err == nil && found {
				resp.ContentType = entry.ContentType
				resp.Encoding = entry.Encoding
			}
			return resp, nil
		}
	}

	raw, resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	enc, err := cache.DetectEncoding(req.URL, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	body, err := cache.Decompress(raw, enc)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}

	if useCache {
		meta := cache.Meta{Encoding: enc, Source: req.URL, ContentType: resp.Header.Get("Content-Type")}
		if err := c.cache.Put(ctx, key, raw, meta); err != nil {
			c.logger.Warn("cache write failed", "url", req.URL, "key", key.String(), "error", err)
		}
	}
	return &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Encoding:    enc,
		Body:        body,
	}, nil
}

func (c *Client) roundTrip(ctx context.Context, req Request) ([]byte, *http.Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("User-Agent", userAgent)
	// Setting Accept-Encoding disables the transport's transparent gzip
	// handling, so the cache sees the bytes exactly as they were sent.
	if httpReq.Header.Get("Accept-Encoding") == "" {
		httpReq.Header.Set("Accept-Encoding", "gzip")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &StatusError{
			Method: req.Method,
			URL:    req.URL,
			Status: resp.StatusCode,
			Body:   snippet(raw),
		}
	}
	return raw, resp, nil
}

// IsStatus reports whether err is a StatusError with the given status.
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}

func snippet(b []byte) string {
	const max = 256
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
