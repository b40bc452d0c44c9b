//go:build e2e

package e2e_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"
)

// getenv returns the value of the environment variable k or def if empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func baseURL() string { return getenv("E2E_BASE_URL", "http://localhost:8080") }

// authorize attaches the gateway bearer token when one is configured.
func authorize(r *http.Request) {
	if key := os.Getenv("GATEWAY_API_KEY"); key != "" {
		r.Header.Set("Authorization", "Bearer "+key)
	}
}

// waitForReady polls /readyz until the gateway reports ready or the budget
// runs out.
func waitForReady(t *testing.T, client *http.Client, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL() + "/readyz")
		if err == nil {
			ok := resp.StatusCode == http.StatusOK
			_ = resp.Body.Close()
			if ok {
				return
			}
		}
		time.Sleep(time.Second)
	}
	t.Fatalf("gateway not ready after %s", timeout)
}

// postJSON posts a body and decodes the JSON response, returning the status
// code alongside the parsed document.
func postJSON(t *testing.T, client *http.Client, path string, body any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, baseURL()+path, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	authorize(req)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode, decodeBody(t, resp)
}

func getJSON(t *testing.T, client *http.Client, path string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, baseURL()+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	authorize(req)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return doc
}

// waitForTerminal polls task status until it leaves queued/batching/processing.
func waitForTerminal(t *testing.T, client *http.Client, taskID string, timeout time.Duration) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last map[string]any
	for time.Now().Before(deadline) {
		code, doc := getJSON(t, client, "/v1/async/status/"+taskID)
		if code != http.StatusOK {
			t.Fatalf("status %s: http %d: %#v", taskID, code, doc)
		}
		last = doc
		switch doc["status"] {
		case "completed", "failed", "cancelled":
			return doc
		}
		time.Sleep(500 * time.Millisecond)
	}
	return last
}

func chatPayload(kind, content string) map[string]any {
	return map[string]any{
		"agent_kind": kind,
		"messages": []map[string]string{
			{"role": "user", "content": content},
		},
		"max_tokens": 64,
	}
}

func errorCode(doc map[string]any) string {
	errObj, ok := doc["error"].(map[string]any)
	if !ok {
		return ""
	}
	code, _ := errObj["code"].(string)
	return code
}
