package tokencount

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgate/inference-gateway/internal/domain"
)

func TestCountTokens(t *testing.T) {
	t.Parallel()

	counter := NewCounter()

	tests := []struct {
		name     string
		text     string
		model    string
		minCount int
		maxCount int
	}{
		{
			name:     "simple text with gpt-4",
			text:     "Hello, world!",
			model:    "gpt-4",
			minCount: 3,
			maxCount: 5,
		},
		{
			name:     "longer text",
			text:     "The quick brown fox jumps over the lazy dog.",
			model:    "gpt-3.5-turbo",
			minCount: 8,
			maxCount: 12,
		},
		{
			name:     "fleet llama model",
			text:     "Hello, world!",
			model:    "llama-3.1-8b-q4",
			minCount: 3,
			maxCount: 5,
		},
		{
			name:     "fleet medical model",
			text:     "Testing token counting",
			model:    "meditron-7b",
			minCount: 3,
			maxCount: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := counter.CountTokens(tt.text, tt.model)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, count, tt.minCount)
			assert.LessOrEqual(t, count, tt.maxCount)
		})
	}
}

func TestCountChatTokens(t *testing.T) {
	t.Parallel()

	counter := NewCounter()

	messages := []domain.ChatMessage{
		{Role: "system", Content: "You are a triage assistant."},
		{Role: "user", Content: "I have chest pain and shortness of breath."},
	}

	count, err := counter.CountChatTokens(messages, "llama-3.1-8b-q4")
	require.NoError(t, err)
	assert.Greater(t, count, 10, "chat tokens should include message overhead")
	assert.Less(t, count, 50)

	// Adding a turn must add tokens.
	longer, err := counter.CountChatTokens(append(messages, domain.ChatMessage{
		Role: "assistant", Content: "How long have you had the pain?",
	}), "llama-3.1-8b-q4")
	require.NoError(t, err)
	assert.Greater(t, longer, count)
}

func TestCountChatTokensEmptyMessages(t *testing.T) {
	t.Parallel()

	counter := NewCounter()

	// Framing overhead remains even with empty content.
	count, err := counter.CountChatTokens([]domain.ChatMessage{{Role: "", Content: ""}}, "gpt-4")
	require.NoError(t, err)
	assert.Greater(t, count, 0)

	none, err := counter.CountChatTokens(nil, "gpt-4")
	require.NoError(t, err)
	assert.Equal(t, 3, none, "reply primer only")
}

func TestNormalizeModelName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected string
	}{
		{"gpt-4", "gpt-4"},
		{"GPT-4-Turbo", "gpt-4"},
		{"gpt-3.5-turbo", "gpt-3.5-turbo"},
		{"gpt-4o-mini", "gpt-4"},
		{"openai/gpt-4o", "gpt-4"},
		{"llama-3.1-8b-q4", "gpt-4"},
		{"mixtral-8x7b-q5", "gpt-4"},
		{"phi-3-mini", "gpt-4"},
		{"meditron-7b", "gpt-4"},
		{"unknown-model", "gpt-4"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeModelName(tt.input))
		})
	}
}

func TestPromptTokensNeverFails(t *testing.T) {
	t.Parallel()

	counter := NewCounter()

	messages := []domain.ChatMessage{
		{Role: "user", Content: strings.Repeat("billing code lookup ", 50)},
	}

	n := counter.PromptTokens(messages, "completely-unknown-model-xyz")
	assert.Greater(t, n, 0)
}

func TestEstimateUsage(t *testing.T) {
	t.Parallel()

	counter := NewCounter()

	messages := []domain.ChatMessage{
		{Role: "system", Content: "You are a documentation assistant."},
		{Role: "user", Content: "Summarize the visit note."},
	}
	completion := "Patient presented with mild symptoms and was advised rest."

	usage := counter.EstimateUsage(messages, completion, "llama-3.1-8b-q4")
	assert.Greater(t, usage.PromptTokens, 0)
	assert.Greater(t, usage.CompletionTokens, 0)
	assert.Equal(t, usage.PromptTokens+usage.CompletionTokens, usage.TotalTokens)
}

func TestEstimateUsageEmptyCompletion(t *testing.T) {
	t.Parallel()

	counter := NewCounter()

	usage := counter.EstimateUsage([]domain.ChatMessage{{Role: "user", Content: "hi"}}, "", "gpt-4")
	assert.Equal(t, 0, usage.CompletionTokens)
	assert.Greater(t, usage.PromptTokens, 0)
	assert.Equal(t, usage.PromptTokens, usage.TotalTokens)
}

func TestEncodingCache(t *testing.T) {
	t.Parallel()

	counter := NewCounter()

	count1, err := counter.CountTokens("Hello", "llama-3.1-8b-q4")
	require.NoError(t, err)

	count2, err := counter.CountTokens("Hello", "llama-3.1-8b-q4")
	require.NoError(t, err)

	assert.Equal(t, count1, count2, "cached encoding should produce same result")
}
