package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgate/inference-gateway/internal/domain"
)

func chatReq() domain.ChatRequest {
	return domain.ChatRequest{
		AgentKind:   domain.AgentTriage,
		Messages:    []domain.ChatMessage{{Role: "user", Content: "chest pain and shortness of breath"}},
		Temperature: 0.2,
		MaxTokens:   128,
	}
}

const completionJSON = `{"id":"cmpl-1","object":"chat.completion","created":1700000000,"model":"llama-3.1-8b-q4","choices":[{"index":0,"message":{"role":"assistant","content":"Seek urgent care."},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}`

func TestCompleteOK(t *testing.T) {
	t.Parallel()

	var gotAuth, gotPath, gotContentType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionJSON))
	}))
	defer srv.Close()

	c := New(5*time.Second, "worker-key")
	out, err := c.Complete(context.Background(), srv.URL, "llama-3.1-8b-q4", chatReq())
	require.NoError(t, err)

	assert.Equal(t, "Bearer worker-key", gotAuth)
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "llama-3.1-8b-q4", gotBody["model"])
	assert.EqualValues(t, 128, gotBody["max_tokens"])
	assert.InDelta(t, 0.2, gotBody["temperature"], 1e-9)

	require.Len(t, out.Choices, 1)
	assert.Equal(t, "Seek urgent care.", out.Choices[0].Message.Content)
	assert.Equal(t, "stop", out.Choices[0].FinishReason)
	assert.Equal(t, 17, out.Usage.TotalTokens)
}

func TestCompleteOmitsUnsetSamplingParams(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(completionJSON))
	}))
	defer srv.Close()

	req := chatReq()
	req.Temperature = 0
	req.MaxTokens = 0

	c := New(5*time.Second, "")
	_, err := c.Complete(context.Background(), srv.URL, "llama-3.1-8b-q4", req)
	require.NoError(t, err)

	_, hasTemp := gotBody["temperature"]
	_, hasMax := gotBody["max_tokens"]
	assert.False(t, hasTemp)
	assert.False(t, hasMax)
}

func TestCompleteNoAuthHeaderWithoutKey(t *testing.T) {
	t.Parallel()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(completionJSON))
	}))
	defer srv.Close()

	c := New(5*time.Second, "")
	_, err := c.Complete(context.Background(), srv.URL, "llama-3.1-8b-q4", chatReq())
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestCompleteStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"server error retryable elsewhere", http.StatusInternalServerError, domain.ErrUpstreamUnavailable},
		{"bad gateway retryable elsewhere", http.StatusBadGateway, domain.ErrUpstreamUnavailable},
		{"worker overloaded", http.StatusTooManyRequests, domain.ErrUpstreamUnavailable},
		{"bad request is permanent", http.StatusBadRequest, domain.ErrUpstreamBadResponse},
		{"not found is permanent", http.StatusNotFound, domain.ErrUpstreamBadResponse},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			c := New(5*time.Second, "")
			_, err := c.Complete(context.Background(), srv.URL, "m", chatReq())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCompleteMalformedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := New(5*time.Second, "")
	_, err := c.Complete(context.Background(), srv.URL, "m", chatReq())
	assert.ErrorIs(t, err, domain.ErrUpstreamBadResponse)
}

func TestCompleteEmptyChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"cmpl-2","object":"chat.completion","choices":[]}`))
	}))
	defer srv.Close()

	c := New(5*time.Second, "")
	_, err := c.Complete(context.Background(), srv.URL, "m", chatReq())
	assert.ErrorIs(t, err, domain.ErrUpstreamBadResponse)
}

func TestCompleteDeadlineExceeded(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		_, _ = w.Write([]byte(completionJSON))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := New(5*time.Second, "")
	_, err := c.Complete(ctx, srv.URL, "m", chatReq())
	assert.ErrorIs(t, err, domain.ErrUpstreamTimeout)
}

func TestCompleteCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(completionJSON))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(5*time.Second, "")
	_, err := c.Complete(ctx, srv.URL, "m", chatReq())
	assert.ErrorIs(t, err, domain.ErrCancelled)
}

func TestCompleteConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(time.Second, "")
	_, err := c.Complete(context.Background(), url, "m", chatReq())
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestCheckHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		wantOK bool
	}{
		{"ok", http.StatusOK, true},
		{"no content", http.StatusNoContent, true},
		{"unavailable", http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var gotPath string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := New(time.Second, "")
			// Trailing slash on the configured endpoint must not double up.
			err := c.CheckHealth(context.Background(), srv.URL+"/")
			if tt.wantOK {
				require.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
			}
			assert.Equal(t, "/health", gotPath)
		})
	}
}

func TestCheckHealthConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(time.Second, "")
	err := c.CheckHealth(context.Background(), url)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}
