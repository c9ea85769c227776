package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	maxErrorBody        = 512
	defaultMaxBodyBytes = 10 << 20
)

// Transport performs authenticated, throttled GET requests with retries.
type Transport struct {
	httpClient     *http.Client
	limiter        *rate.Limiter
	baseURL        string
	apiKey         string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxBodyBytes   int64
	logger         *slog.Logger
}

func NewTransport(cfg Config, logger *slog.Logger) *Transport {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	return &Transport{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:        rate.NewLimiter(limit, burst),
		baseURL:        cfg.BaseURL,
		apiKey:         cfg.APIKey,
		maxAttempts:    attempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		maxBodyBytes:   maxBody,
		logger:         logger,
	}
}

// GetJSON fetches path relative to the base URL and returns the raw body.
// Only 429 responses are retried in-call, waiting for the longer of the
// exponential backoff and Retry-After. Connectivity errors and 5xx are
// returned on the first failure; callers record the term as failed and the
// next cycle picks it up again.
func (t *Transport) GetJSON(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	endpoint := t.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var body json.RawMessage
	var err error

	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		var wait time.Duration
		body, wait, err = t.doRequest(ctx, endpoint)
		if err == nil {
			return body, nil
		}

		if !isRateLimited(err) || attempt == t.maxAttempts || ctx.Err() != nil {
			break
		}

		backoff := t.calculateBackoff(attempt)
		if wait > backoff {
			backoff = wait
		}
		t.logger.Warn("rate limited, retrying",
			"path", path,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrConnectivity, ctx.Err())
		case <-time.After(backoff):
		}
	}

	return nil, err
}

func (t *Transport) doRequest(ctx context.Context, endpoint string) (json.RawMessage, time.Duration, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("%w: rate limiter: %w", ErrConnectivity, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ContentHarvester/1.0")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrConnectivity, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodyBytes+1))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read body: %w", ErrConnectivity, err)
	}
	oversized := int64(len(data)) > t.maxBodyBytes

	if resp.StatusCode != http.StatusOK {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return nil, retryAfter(resp), &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if oversized {
		return nil, 0, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedPayload, t.maxBodyBytes)
	}

	if !json.Valid(data) {
		return nil, 0, ErrMalformedPayload
	}

	return data, 0, nil
}

func (t *Transport) calculateBackoff(attempt int) time.Duration {
	backoff := t.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if t.maxBackoff > 0 && backoff > t.maxBackoff {
		backoff = t.maxBackoff
	}
	return backoff
}

func isRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

func retryAfter(resp *http.Response) time.Duration {
	if resp.StatusCode != http.StatusTooManyRequests {
		return 0
	}
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Decode unmarshals a response body, tagging failures as malformed payloads.
func Decode(body json.RawMessage, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Join(ErrMalformedPayload, err)
	}
	return nil
}
