// Package apiclient talks to the search service over HTTP.
package apiclient

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

	"go.uber.org/zap"

	"github.com/onehubexpress/search/internal/models"
	"github.com/onehubexpress/search/internal/resilience"
)

var ErrUnauthorized = errors.New("unauthorized")

// StatusError is returned for non-2xx answers.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search service returned %d: %s", e.StatusCode, e.Body)
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Retry   resilience.RetryConfig
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      resilience.RetryConfig
	logger     *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.RetryConfig{
			MaxAttempts: 2,
			InitialWait: 200 * time.Millisecond,
			MaxWait:     time.Second,
			Multiplier:  2,
		}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      cfg.Retry,
		logger:     logger,
	}
}

func (c *Client) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	var out models.SearchResponse
	err = resilience.Retry(ctx, c.retry, func() error {
		return c.do(ctx, http.MethodPost, "/api/v1/search", nil, body, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Suggest satisfies suggest.Fetcher. It is not retried: a newer keystroke
// will supersede it anyway.
func (c *Client) Suggest(ctx context.Context, req *models.SearchRequest) (*models.SuggestionResult, error) {
	q := url.Values{}
	q.Set("q", req.Query)
	if req.ServiceType != "" {
		q.Set("serviceType", req.ServiceType.String())
	}

	var out models.SuggestionResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/suggestions", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) History(ctx context.Context, limit int) ([]models.SearchHistoryEntry, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var out struct {
		History []models.SearchHistoryEntry `json:"history"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/history", q, nil, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

// do returns errors wrapped with resilience.Permanent when a retry cannot help.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return resilience.Permanent(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return resilience.Permanent(ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		serr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return serr
		}
		return resilience.Permanent(serr)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resilience.Permanent(fmt.Errorf("decoding %s response: %w", path, err))
	}
	return nil
}
