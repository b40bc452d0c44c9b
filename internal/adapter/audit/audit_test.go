package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgate/inference-gateway/internal/domain"
)

func sampleRecord() domain.AuditRecord {
	return domain.AuditRecord{
		EventID:       "5f1c9b4e-2a77-4d1b-9f33-8c1d2e4a6b90",
		RequestID:     "01J5ZX7Y8K9M2N3P4Q5R6S7T8U",
		ClientIP:      "10.0.0.12",
		AgentKind:     domain.AgentTriage,
		MessageDigest: "0f343b0931126a20f133d67c2b018a3b1c7f78cde0c2f72fbc35d0c3e36ea99f",
		ModelUsed:     "llama-3.1-8b-q4",
		Outcome:       "completed",
		Clamped:       true,
		At:            time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
}

func TestLogSinkWritesDigestNotContent(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	sink.Record(context.Background(), sampleRecord())

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "audit", line["msg"])
	assert.Equal(t, "5f1c9b4e-2a77-4d1b-9f33-8c1d2e4a6b90", line["event_id"])
	assert.Equal(t, "01J5ZX7Y8K9M2N3P4Q5R6S7T8U", line["request_id"])
	assert.Equal(t, "triage", line["agent_kind"])
	assert.Equal(t, "0f343b0931126a20f133d67c2b018a3b1c7f78cde0c2f72fbc35d0c3e36ea99f", line["message_digest"])
	assert.Equal(t, "completed", line["outcome"])
	assert.Equal(t, true, line["clamped"])
}

func TestLogSinkNilLoggerFallsBack(t *testing.T) {
	t.Parallel()
	sink := NewLogSink(nil)
	// must not panic
	sink.Record(context.Background(), sampleRecord())
}

type captureSink struct {
	mu   sync.Mutex
	recs []domain.AuditRecord
}

func (c *captureSink) Record(_ domain.Context, rec domain.AuditRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
}

func TestTeeFansOut(t *testing.T) {
	t.Parallel()
	a := &captureSink{}
	b := &captureSink{}
	tee := Tee{a, b}

	tee.Record(context.Background(), sampleRecord())

	require.Len(t, a.recs, 1)
	require.Len(t, b.recs, 1)
	assert.Equal(t, a.recs[0], b.recs[0])
}

func TestNewKafkaSinkValidation(t *testing.T) {
	t.Parallel()
	_, err := NewKafkaSink(nil, "gateway.audit")
	assert.Error(t, err)

	_, err = NewKafkaSink([]string{"localhost:9092"}, "")
	assert.Error(t, err)
}
