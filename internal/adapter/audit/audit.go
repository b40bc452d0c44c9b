// Package audit persists the admission trail. Every record carries a content
// digest instead of message text; sinks must never block the request path.
package audit

import (
	"log/slog"

	"github.com/medgate/inference-gateway/internal/domain"
)

// LogSink writes audit records to the structured log. It is the sink of last
// resort and is always configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink constructs a LogSink. A nil logger falls back to slog.Default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Record emits one audit line.
func (s *LogSink) Record(_ domain.Context, rec domain.AuditRecord) {
	s.logger.Info("audit",
		slog.String("event_id", rec.EventID),
		slog.String("request_id", rec.RequestID),
		slog.String("client_ip", rec.ClientIP),
		slog.String("agent_kind", string(rec.AgentKind)),
		slog.String("message_digest", rec.MessageDigest),
		slog.String("model_used", rec.ModelUsed),
		slog.String("outcome", rec.Outcome),
		slog.Bool("clamped", rec.Clamped),
		slog.Time("at", rec.At),
	)
}

// Tee fans one record out to every sink in order.
type Tee []domain.AuditSink

// Record forwards to every sink.
func (t Tee) Record(ctx domain.Context, rec domain.AuditRecord) {
	for _, s := range t {
		s.Record(ctx, rec)
	}
}

var (
	_ domain.AuditSink = (*LogSink)(nil)
	_ domain.AuditSink = Tee(nil)
)
