// Package tokens counts prompt tokens for request logs.
package tokens

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/tjfontaine/pmdev-translator/internal/api/openai"
)

// Chat formatting overhead, following OpenAI's accounting for chat models:
// 3 tokens per message, 1 for the role, 3 for assistant priming.
const (
	tokensPerMessage = 3
	tokensPerRole    = 1
	primingTokens    = 3
)

// Counter counts chat prompt tokens with tiktoken. Models tiktoken does not
// know (deepseek-chat among them) are counted with cl100k_base, which is close
// enough for logging. If no codec can be loaded the Estimator is used.
type Counter struct {
	fallback *Estimator

	mu     sync.RWMutex
	codecs map[string]tokenizer.Codec
}

// NewCounter creates a new token counter.
func NewCounter() *Counter {
	return &Counter{
		fallback: NewEstimator(),
		codecs:   make(map[string]tokenizer.Codec),
	}
}

// Result is a token count and whether it was estimated.
type Result struct {
	Tokens    int
	Estimated bool
}

// CountMessages counts the prompt tokens of messages sent to model.
func (c *Counter) CountMessages(model string, messages []openai.ChatCompletionMessage) Result {
	codec, err := c.codec(model)
	if err != nil {
		return Result{Tokens: c.fallback.CountMessages(messages), Estimated: true}
	}

	total := primingTokens
	for _, msg := range messages {
		total += tokensPerMessage + tokensPerRole
		ids, _, err := codec.Encode(msg.Content)
		if err != nil {
			return Result{Tokens: c.fallback.CountMessages(messages), Estimated: true}
		}
		total += len(ids)
	}
	return Result{Tokens: total}
}

func (c *Counter) codec(model string) (tokenizer.Codec, error) {
	c.mu.RLock()
	cached, ok := c.codecs[model]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
		}
	}

	c.mu.Lock()
	c.codecs[model] = codec
	c.mu.Unlock()

	return codec, nil
}

// Estimator approximates token counts from character counts.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		CharsPerToken: 4.0,
	}
}

// CountMessages estimates the token count of messages.
func (e *Estimator) CountMessages(messages []openai.ChatCompletionMessage) int {
	totalChars := 0
	for _, msg := range messages {
		totalChars += len(msg.Role)
		totalChars += len(msg.Content)
		totalChars += 4 // role tokens + separators
	}
	return int(float64(totalChars) / e.CharsPerToken)
}
