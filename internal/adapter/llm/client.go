// Package llm implements the HTTP client for self-hosted worker endpoints.
// Workers expose an OpenAI-compatible chat completion surface plus a plain
// health endpoint. Every call here is a single attempt; retries across
// candidates are owned by the dispatch layer.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/medgate/inference-gateway/internal/adapter/observability"
	"github.com/medgate/inference-gateway/internal/domain"
	"github.com/medgate/inference-gateway/pkg/textx"
)

const (
	completionsPath = "/v1/chat/completions"
	healthPath      = "/health"
	snippetLimit    = 512
)

// Client implements domain.ModelClient over HTTP.
type Client struct {
	chatHC   *http.Client
	healthHC *http.Client
	apiKey   string
}

// New constructs a worker client. timeout bounds a single completion call as
// a backstop; the per-task deadline on the context usually fires first.
func New(timeout time.Duration, workerAPIKey string) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		chatHC:   &http.Client{Timeout: timeout},
		healthHC: &http.Client{Timeout: 10 * time.Second},
		apiKey:   workerAPIKey,
	}
}

// Complete posts a chat completion to one worker endpoint and decodes the
// OpenAI-style response. Each call is recorded as one dispatch attempt.
func (c *Client) Complete(ctx domain.Context, endpointURL, model string, req domain.ChatRequest) (domain.ChatCompletion, error) {
	start := time.Now()
	out, err := c.complete(ctx, endpointURL, model, req)
	observability.ObserveDispatch(model, outcomeLabel(err), time.Since(start))
	return out, err
}

func (c *Client) complete(ctx domain.Context, endpointURL, model string, req domain.ChatRequest) (domain.ChatCompletion, error) {
	body := map[string]any{
		"model":    model,
		"messages": req.Messages,
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	b, err := json.Marshal(body)
	if err != nil {
		return domain.ChatCompletion{}, fmt.Errorf("op=llm.complete: %w: %v", domain.ErrInternal, err)
	}

	url := strings.TrimSuffix(endpointURL, "/") + completionsPath
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return domain.ChatCompletion{}, fmt.Errorf("op=llm.complete: %w: %v", domain.ErrInvalidArgument, err)
	}
	r.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.chatHC.Do(r)
	if err != nil {
		return domain.ChatCompletion{}, mapTransportErr("llm.complete", err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ChatCompletion{}, mapTransportErr("llm.complete", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := textx.Truncate(string(bodyBytes), snippetLimit)
		// 429 and 5xx mean the worker cannot serve right now; another
		// candidate may. Remaining 4xx mean this request will never
		// succeed as sent.
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			slog.Warn("worker completion unavailable", slog.String("endpoint", url), slog.String("model", model), slog.Int("status", resp.StatusCode), slog.String("body", snippet))
			return domain.ChatCompletion{}, fmt.Errorf("op=llm.complete: %w: status %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
		}
		slog.Warn("worker rejected completion", slog.String("endpoint", url), slog.String("model", model), slog.Int("status", resp.StatusCode), slog.String("body", snippet))
		return domain.ChatCompletion{}, fmt.Errorf("op=llm.complete: %w: status %d", domain.ErrUpstreamBadResponse, resp.StatusCode)
	}

	var out domain.ChatCompletion
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		slog.Error("worker completion decode error", slog.String("endpoint", url), slog.String("model", model), slog.Any("error", err))
		return domain.ChatCompletion{}, fmt.Errorf("op=llm.complete: %w: %v", domain.ErrUpstreamBadResponse, err)
	}
	if len(out.Choices) == 0 {
		slog.Error("worker returned empty choices", slog.String("endpoint", url), slog.String("model", model))
		return domain.ChatCompletion{}, fmt.Errorf("op=llm.complete: %w: empty choices", domain.ErrUpstreamBadResponse)
	}
	return out, nil
}

// CheckHealth probes the worker health endpoint. Any 2xx is a pass.
func (c *Client) CheckHealth(ctx domain.Context, endpointURL string) error {
	url := strings.TrimSuffix(endpointURL, "/") + healthPath
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("op=llm.check_health: %w: %v", domain.ErrInvalidArgument, err)
	}
	resp, err := c.healthHC.Do(r)
	if err != nil {
		return mapTransportErr("llm.check_health", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("op=llm.check_health: %w: status %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}
	return nil
}

// outcomeLabel names an attempt result for the dispatch metrics.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrCancelled):
		return "cancelled"
	case errors.Is(err, domain.ErrUpstreamBadResponse):
		return "bad_response"
	default:
		return "error"
	}
}

// mapTransportErr folds transport failures into the sentinel taxonomy.
func mapTransportErr(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("op=%s: %w: %v", op, domain.ErrCancelled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("op=%s: %w: %v", op, domain.ErrUpstreamTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("op=%s: %w: %v", op, domain.ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("op=%s: %w: %v", op, domain.ErrUpstreamUnavailable, err)
}

var _ domain.ModelClient = (*Client)(nil)
