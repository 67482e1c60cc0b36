// Package triply is a client for the TriplyDB REST API: datasets, import
// jobs, assets, saved queries and SPARQL services.
package triply

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

var (
	ErrNotFound      = errors.New("triply resource not found")
	ErrAlreadyExists = errors.New("triply resource already exists")
	ErrUnauthorized  = errors.New("triply request unauthorized")
	ErrForbidden     = errors.New("triply request forbidden")
)

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("triply api error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("triply api error (status=%d): %s", e.StatusCode, body)
}

type Config struct {
	BaseURL string
	Token   string
	// Account owns the datasets and queries the harvester provisions.
	Account      string
	PollInterval time.Duration
	Timeout      time.Duration
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("TRIPLY_API_URL is required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("TRIPLY_API_URL is invalid: %w", err)
	}
	if strings.TrimSpace(c.Token) == "" {
		return errors.New("TRIPLY_TOKEN is required")
	}
	if strings.TrimSpace(c.Account) == "" {
		return errors.New("TRIPLY_ACCOUNT is required")
	}
	if c.PollInterval <= 0 {
		return errors.New("TRIPLY_IMPORT_POLL_INTERVAL must be positive")
	}
	return nil
}

type Client struct {
	baseURL      string
	account      string
	pollInterval time.Duration
	http         *http.Client
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: strings.TrimSpace(cfg.Token), TokenType: "Bearer"})
	httpClient := oauth2.NewClient(ctx, src)
	httpClient.Timeout = timeout
	return &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		account:      strings.TrimSpace(cfg.Account),
		pollInterval: cfg.PollInterval,
		http:         httpClient,
	}, nil
}

func (c *Client) Account() string {
	return c.account
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) newJSONRequest(ctx context.Context, method string, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	if req == nil {
		return errors.New("request is required")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		if out == nil || len(body) == 0 {
			return nil
		}
		if raw, ok := out.(*[]byte); ok {
			*raw = body
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode triply response: %w", err)
		}
		return nil
	case http.StatusConflict:
		return ErrAlreadyExists
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	default:
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}

func escape(parts ...string) string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = url.PathEscape(p)
	}
	return "/" + strings.Join(out, "/")
}
