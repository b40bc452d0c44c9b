// Package tokencount estimates token usage for chat requests.
//
// It uses tiktoken-go, a Go port of OpenAI's tiktoken library. Workers
// usually report usage themselves; counting here backs two gaps: sizing a
// request against a model's context window before dispatch, and filling in
// usage when an upstream response omits it.
package tokencount

import (
	"log/slog"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/medgate/inference-gateway/internal/domain"
)

// estimateCharsPerToken backs the rough fallback when no encoding loads.
const estimateCharsPerToken = 4

// Counter provides thread-safe token counting with cached encodings.
type Counter struct {
	encodingCache map[string]*tiktoken.Tiktoken
	mu            sync.RWMutex
}

// NewCounter creates a new token counter instance.
func NewCounter() *Counter {
	return &Counter{
		encodingCache: make(map[string]*tiktoken.Tiktoken),
	}
}

// getEncodingForModel returns the tiktoken encoding for a model, cached.
func (c *Counter) getEncodingForModel(model string) (*tiktoken.Tiktoken, error) {
	normalized := normalizeModelName(model)

	c.mu.RLock()
	if enc, ok := c.encodingCache[normalized]; ok {
		c.mu.RUnlock()
		return enc, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if enc, ok := c.encodingCache[normalized]; ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(normalized)
	if err != nil {
		// cl100k_base serves GPT-4, GPT-3.5-turbo and approximates most
		// open-weights vocabularies well enough for budgeting.
		slog.Debug("falling back to cl100k_base encoding",
			slog.String("model", model),
			slog.String("normalized", normalized),
			slog.Any("error", err))
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}

	c.encodingCache[normalized] = enc
	return enc, nil
}

// normalizeModelName maps fleet model names to tiktoken-compatible ones.
// Fleet names carry size and quantization suffixes (llama-3.1-8b-q4,
// meditron-7b, phi-3-mini) that tiktoken does not know.
func normalizeModelName(model string) string {
	model = strings.ToLower(model)

	// External provider IDs may carry a vendor prefix, e.g. "openai/gpt-4o".
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}

	switch {
	case strings.Contains(model, "gpt-3.5"):
		return "gpt-3.5-turbo"
	case strings.Contains(model, "gpt-4"):
		return "gpt-4"
	default:
		// llama, mistral, phi, meditron, qwen and the rest tokenize close
		// enough to cl100k_base for estimation purposes.
		return "gpt-4"
	}
}

// CountTokens counts the number of tokens in a text string for a given model.
func (c *Counter) CountTokens(text, model string) (int, error) {
	enc, err := c.getEncodingForModel(model)
	if err != nil {
		return 0, err
	}

	tokens := enc.Encode(text, nil, nil)
	return len(tokens), nil
}

// CountChatTokens counts prompt tokens for a full message list, including
// the per-message framing overhead used by OpenAI-compatible servers:
// 3 tokens per message plus 1 for the role, and a 3-token reply primer.
func (c *Counter) CountChatTokens(messages []domain.ChatMessage, model string) (int, error) {
	enc, err := c.getEncodingForModel(model)
	if err != nil {
		return 0, err
	}

	const tokensPerMessage = 3
	const tokensPerRole = 1

	numTokens := 0
	for _, m := range messages {
		numTokens += tokensPerMessage
		numTokens += len(enc.Encode(m.Role, nil, nil))
		numTokens += len(enc.Encode(m.Content, nil, nil))
		numTokens += tokensPerRole
	}

	// Every reply is primed with <|start|>assistant<|message|>
	numTokens += 3

	return numTokens, nil
}

// PromptTokens is CountChatTokens with a rough characters-per-token estimate
// when no encoding is available. It never fails.
func (c *Counter) PromptTokens(messages []domain.ChatMessage, model string) int {
	n, err := c.CountChatTokens(messages, model)
	if err != nil {
		slog.Warn("failed to count prompt tokens, using estimate",
			slog.String("model", model),
			slog.Any("error", err))
		chars := 0
		for _, m := range messages {
			chars += len(m.Role) + len(m.Content)
		}
		return chars/estimateCharsPerToken + 4*len(messages)
	}
	return n
}

// EstimateUsage fills a Usage for responses where the upstream omitted one.
func (c *Counter) EstimateUsage(messages []domain.ChatMessage, completion, model string) domain.Usage {
	prompt := c.PromptTokens(messages, model)

	comp, err := c.CountTokens(completion, model)
	if err != nil {
		slog.Warn("failed to count completion tokens, using estimate",
			slog.String("model", model),
			slog.Any("error", err))
		comp = len(completion) / estimateCharsPerToken
	}

	return domain.Usage{
		PromptTokens:     prompt,
		CompletionTokens: comp,
		TotalTokens:      prompt + comp,
	}
}

var _ domain.TokenEstimator = (*Counter)(nil)
