package gemini

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

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/onehubexpress/search/internal/config"
	"github.com/onehubexpress/search/internal/observability"
	"github.com/onehubexpress/search/internal/resilience"
)

var (
	ErrMissingCredentials = errors.New("missing API credentials")
	ErrEmptyResponse      = errors.New("model returned no candidate text")
)

// NetworkError covers transport failures, timeouts and non-2xx replies.
// StatusCode is zero when no response was received.
type NetworkError struct {
	StatusCode int
	Body       string
	Timeout    bool
	Err        error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("request timed out: %v", e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("endpoint returned status %d: %s", e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("request failed: %v", e.Err)
	}
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

const maxErrorBody = 512

type Client struct {
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	cfg        config.GeminiConfig
	retryCfg   resilience.RetryConfig
	logger     *zap.Logger
}

// NewClient never fails on a missing API key; Generate reports
// ErrMissingCredentials instead so the search path can still fall back.
func NewClient(cfg config.GeminiConfig, searchCfg config.SearchConfig, logger *zap.Logger) *Client {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Transport: http.DefaultTransport},
		cb:         resilience.NewCircuitBreaker("gemini", searchCfg.CircuitBreaker, logger),
		limiter:    rate.NewLimiter(limit, burst),
		cfg:        cfg,
		retryCfg:   resilience.RetryConfigFrom(searchCfg.Retry),
		logger:     logger,
	}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Generate sends one prompt and returns the first candidate's text. The whole
// call, retries included, is bounded by the configured timeout.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", ErrMissingCredentials
	}

	ctx, span := observability.StartSpan(ctx, "gemini.generate",
		attribute.String("gemini.model", c.cfg.Model),
		attribute.Int("prompt_len", len(prompt)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     c.cfg.Temperature,
			TopK:            c.cfg.TopK,
			TopP:            c.cfg.TopP,
			MaxOutputTokens: c.cfg.MaxOutputTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling generate request: %w", err)
	}

	cbResult, err := c.cb.Execute(func() (any, error) {
		var text string
		retryErr := resilience.Retry(ctx, c.retryCfg, func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return resilience.Permanent(timeoutError(ctx, err))
			}
			var callErr error
			text, callErr = c.call(ctx, body)
			return callErr
		})
		return text, retryErr
	})
	if err != nil {
		span.RecordError(err)
		if ctx.Err() != nil && !isNetworkError(err) {
			return "", timeoutError(ctx, err)
		}
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	text, _ := cbResult.(string)
	return text, nil
}

func (c *Client) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Model)
}

func (c *Client) call(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", resilience.Permanent(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error repeats the request URL; keep only the transport cause.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		if ctx.Err() != nil {
			return "", timeoutError(ctx, err)
		}
		return "", &NetworkError{Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		netErr := &NetworkError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(snippet))}
		c.logger.Warn("gemini non-2xx response", zap.Int("status", res.StatusCode))
		// Client errors other than throttling will not improve on retry.
		if res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
			return "", resilience.Permanent(netErr)
		}
		return "", netErr
	}

	var gr generateResponse
	if err := json.NewDecoder(res.Body).Decode(&gr); err != nil {
		return "", resilience.Permanent(fmt.Errorf("%w: decoding envelope: %v", ErrEmptyResponse, err))
	}

	for _, cand := range gr.Candidates {
		var sb strings.Builder
		for _, p := range cand.Content.Parts {
			sb.WriteString(p.Text)
		}
		if text := sb.String(); strings.TrimSpace(text) != "" {
			return text, nil
		}
	}
	return "", resilience.Permanent(ErrEmptyResponse)
}

func timeoutError(ctx context.Context, err error) *NetworkError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &NetworkError{Timeout: true, Err: err}
	}
	return &NetworkError{Err: err}
}

func isNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
