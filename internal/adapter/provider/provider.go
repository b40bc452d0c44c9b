// Package provider implements the optional external LLM endpoint client.
//
// When enabled, the gateway tries this endpoint before local dispatch and
// falls back on any failure; that policy lives in the chat service. This
// client makes exactly one attempt and reports failures by kind.
package provider

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/medgate/inference-gateway/internal/adapter/observability"
	"github.com/medgate/inference-gateway/internal/config"
	"github.com/medgate/inference-gateway/internal/domain"
	"github.com/medgate/inference-gateway/pkg/textx"
)

const snippetLimit = 512

// Kind classifies a provider failure. Callers treat every kind as opaque
// except disabled, which means "skip, do not count this as a failure".
type Kind string

const (
	KindDisabled   Kind = "disabled"
	KindNetwork    Kind = "network"
	KindHTTPStatus Kind = "http_status"
	KindDecode     Kind = "decode"
	KindTimeout    Kind = "timeout"
	KindCancelled  Kind = "cancelled"
)

// Error is the only error type Complete returns.
type Error struct {
	Kind   Kind
	Status int // set for KindHTTPStatus
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("external provider %s: status %d", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("external provider %s: %v", e.Kind, e.Err)
	}
	return "external provider " + string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from an error returned by Complete.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindNetwork
}

// Client implements domain.ExternalProvider against one OpenAI-compatible
// base URL.
type Client struct {
	hc      *http.Client
	baseURL string
	apiKey  string
	model   string
	name    string
	enabled bool
}

// New builds the client from configuration. A missing base URL disables the
// provider regardless of the enable flag.
func New(cfg config.Config) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("External %s %s", r.Method, r.URL.Host)
		}),
	)
	return &Client{
		hc: &http.Client{
			Timeout:   cfg.ExternalLLMTimeout,
			Transport: transport,
		},
		baseURL: strings.TrimSuffix(cfg.ExternalLLMBaseURL, "/"),
		apiKey:  cfg.ExternalLLMAPIKey,
		model:   cfg.ExternalLLMModel,
		name:    cfg.ExternalLLMName,
		enabled: cfg.ExternalLLMEnabled,
	}
}

// Enabled reports whether Complete will attempt the remote endpoint.
func (c *Client) Enabled() bool { return c.enabled && c.baseURL != "" }

// Complete makes a single bearer-authenticated completion attempt. On
// success the model field is rewritten to "name:model" so callers can tell
// an external completion from a local one.
func (c *Client) Complete(ctx domain.Context, req domain.ChatRequest) (domain.ChatCompletion, error) {
	if !c.Enabled() {
		return domain.ChatCompletion{}, &Error{Kind: KindDisabled, Err: domain.ErrProviderDisabled}
	}

	body := map[string]any{
		"model":    c.model,
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
		return c.fail(&Error{Kind: KindDecode, Err: err})
	}

	observability.ExternalAttemptsTotal.Inc()

	url := c.baseURL + "/chat/completions"
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return c.fail(&Error{Kind: KindNetwork, Err: err})
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.hc.Do(r)
	if err != nil {
		return c.fail(transportError(err))
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.fail(transportError(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := textx.Truncate(string(bodyBytes), snippetLimit)
		slog.Warn("external provider non-2xx",
			slog.String("provider", c.name),
			slog.Int("status", resp.StatusCode),
			slog.String("x_request_id", resp.Header.Get("X-Request-Id")),
			slog.String("body", snippet))
		return c.fail(&Error{Kind: KindHTTPStatus, Status: resp.StatusCode})
	}

	var out domain.ChatCompletion
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		slog.Warn("external provider decode error", slog.String("provider", c.name), slog.Any("error", err))
		return c.fail(&Error{Kind: KindDecode, Err: err})
	}
	if len(out.Choices) == 0 {
		return c.fail(&Error{Kind: KindDecode, Err: errors.New("empty choices")})
	}

	out.Model = c.name + ":" + c.model
	return out, nil
}

// fail reports one fallback-causing failure. A cancellation is the caller
// hanging up, not a provider failure, so it stays out of the failover count.
func (c *Client) fail(e *Error) (domain.ChatCompletion, error) {
	if e.Kind != KindCancelled {
		observability.ExternalFailoversTotal.Inc()
	}
	return domain.ChatCompletion{}, e
}

func transportError(err error) *Error {
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindNetwork, Err: err}
}

var _ domain.ExternalProvider = (*Client)(nil)
