// Package usecase contains the request orchestration services sitting
// between the HTTP surface and the adapters.
package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/medgate/inference-gateway/internal/domain"
	"github.com/medgate/inference-gateway/internal/observability"
	"github.com/medgate/inference-gateway/pkg/textx"
)

// ChatService answers synchronous completions: the external provider first
// when enabled, local dispatch otherwise. An external failure is logged and
// audited but never surfaced to the caller.
type ChatService struct {
	Provider   domain.ExternalProvider
	Dispatcher domain.Dispatcher
	Counter    domain.TokenEstimator
	Audit      domain.AuditSink
}

// NewChatService constructs a ChatService with its dependencies.
func NewChatService(provider domain.ExternalProvider, dispatcher domain.Dispatcher, counter domain.TokenEstimator, audit domain.AuditSink) ChatService {
	return ChatService{Provider: provider, Dispatcher: dispatcher, Counter: counter, Audit: audit}
}

// Complete serves one chat request end to end.
func (s ChatService) Complete(ctx domain.Context, req domain.ChatRequest) (domain.ChatCompletion, error) {
	if s.Provider != nil && s.Provider.Enabled() {
		out, err := s.Provider.Complete(ctx, req)
		switch {
		case err == nil:
			finalizeCompletion(s.Counter, req, &out, out.Model)
			return out, nil
		case errors.Is(err, domain.ErrProviderDisabled):
			// toggled off between the check and the call; dispatch locally
		case ctx.Err() != nil:
			return domain.ChatCompletion{}, fmt.Errorf("op=chat.complete: %w: %v", ctxSentinel(ctx), err)
		default:
			slog.Info("external provider failed, dispatching locally", slog.Any("error", err))
			s.recordFailover(ctx, req)
		}
	}
	return s.Dispatcher.Dispatch(ctx, req)
}

func (s ChatService) recordFailover(ctx domain.Context, req domain.ChatRequest) {
	if s.Audit == nil {
		return
	}
	s.Audit.Record(ctx, domain.AuditRecord{
		EventID:       uuid.NewString(),
		RequestID:     observability.RequestIDFromContext(ctx),
		AgentKind:     req.AgentKind,
		MessageDigest: MessageDigest(req.Messages),
		Outcome:       "external_failover",
		At:            time.Now().UTC(),
	})
}

// ctxSentinel maps a dead context onto the error taxonomy.
func ctxSentinel(ctx domain.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.ErrUpstreamTimeout
	}
	return domain.ErrCancelled
}

// MessageDigest fingerprints a conversation for the audit trail. Raw message
// content never enters a record; only the role sequence and normalized text
// feed the hash.
func MessageDigest(messages []domain.ChatMessage) string {
	h := sha256.New()
	for _, m := range messages {
		h.Write([]byte{0})
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(textx.NormalizeForHash(m.Content)))
	}
	return hex.EncodeToString(h.Sum(nil))
}
