package httpserver_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgate/inference-gateway/internal/adapter/httpserver"
	"github.com/medgate/inference-gateway/internal/observability"
	"github.com/medgate/inference-gateway/internal/usecase"
)

func TestRequestIDGeneratesULID(t *testing.T) {
	t.Parallel()
	var seen string
	router := chi.NewRouter()
	router.Use(httpserver.RequestID())
	router.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		seen = observability.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	r := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	id := w.Header().Get("X-Request-Id")
	require.NotEmpty(t, id)
	assert.Len(t, id, 26, "generated ids are ULIDs")
	assert.Equal(t, id, seen, "handlers must see the same id the client gets")
}

func TestRequestIDEchoesClientValue(t *testing.T) {
	t.Parallel()
	var seen string
	router := chi.NewRouter()
	router.Use(httpserver.RequestID())
	router.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		seen = observability.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	r := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.Header.Set("X-Request-Id", "req-abc-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, "req-abc-123", w.Header().Get("X-Request-Id"))
	assert.Equal(t, "req-abc-123", seen)
}

func TestRecovererConvertsPanic(t *testing.T) {
	t.Parallel()
	router := chi.NewRouter()
	router.Use(httpserver.Recoverer())
	router.Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("probe disconnected")
	})

	r := httptest.NewRequest(http.MethodGet, "/boom", nil)
	w := httptest.NewRecorder()
	require.NotPanics(t, func() { router.ServeHTTP(w, r) })
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()
	router := chi.NewRouter()
	router.Use(httpserver.SecurityHeaders)
	router.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "default-src 'none'", w.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
}

func TestTimeoutMiddlewareCutsSlowHandlers(t *testing.T) {
	t.Parallel()
	router := chi.NewRouter()
	router.Use(httpserver.TimeoutMiddleware(20 * time.Millisecond))
	router.Get("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
			w.WriteHeader(http.StatusOK)
		case <-r.Context().Done():
		}
	})

	r := httptest.NewRequest(http.MethodGet, "/slow", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequireAuthDisabledPassesThrough(t *testing.T) {
	t.Parallel()
	cfg := testChatConfig()
	cfg.GatewayAPIKey = ""
	srv, err := httpserver.NewServer(cfg, usecase.ChatService{}, nil, nil, nil, nil)
	require.NoError(t, err)

	router := chi.NewRouter()
	router.Use(srv.RequireAuth())
	router.Get("/open", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r := httptest.NewRequest(http.MethodGet, "/open", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("WWW-Authenticate"))
}
