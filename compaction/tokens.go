package compaction

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/youssefsiam38/memorypg/types"
)

// messageOverheadTokens approximates per-message framing overhead.
const messageOverheadTokens = 4

// ApproximateTokens provides fast estimation without an API call, roughly
// four characters per token.
func ApproximateTokens(content string) int {
	if content == "" {
		return 0
	}
	return (len(content) + 3) / 4
}

// MessageTokens returns the message's stored token count, or a deterministic
// character-based estimate when none has been computed yet.
func MessageTokens(msg *types.Message) int {
	if msg.TokenCount != nil {
		return *msg.TokenCount
	}
	return EstimateMessageTokens(msg)
}

// EstimateMessageTokens estimates a message's token count from its text.
func EstimateMessageTokens(msg *types.Message) int {
	return ApproximateTokens(msg.Content) + ApproximateTokens(msg.ToolOutput) + messageOverheadTokens
}

// SumTokens calculates total tokens across messages.
func SumTokens(messages []*types.Message) int {
	total := 0
	for _, msg := range messages {
		total += MessageTokens(msg)
	}
	return total
}

// TokenCounter provides token counting with caching. When an Anthropic
// client is configured it uses the token counting API; otherwise, or when
// the API fails, it falls back to character-based approximation.
type TokenCounter struct {
	client *anthropic.Client
	model  string

	mu    sync.Mutex
	cache map[string]int
}

// NewTokenCounter creates a new token counter. The client may be nil, in
// which case only the approximation is used.
func NewTokenCounter(client *anthropic.Client, model string) *TokenCounter {
	return &TokenCounter{
		client: client,
		model:  model,
		cache:  make(map[string]int),
	}
}

// CountContent counts tokens for a single piece of text.
func (c *TokenCounter) CountContent(ctx context.Context, content string) int {
	if content == "" {
		return 0
	}
	if c.client == nil {
		return ApproximateTokens(content)
	}

	key := c.cacheKey(content)
	c.mu.Lock()
	if count, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return count
	}
	c.mu.Unlock()

	resp, err := c.client.Messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
		Model: anthropic.Model(c.model),
		Messages: []anthropic.MessageParam{
			{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(content),
				},
			},
		},
	})
	if err != nil {
		// Fallback to approximation if the API fails
		return ApproximateTokens(content)
	}

	count := int(resp.InputTokens)
	c.mu.Lock()
	c.cache[key] = count
	c.mu.Unlock()
	return count
}

// CountMessage counts tokens for one message, preferring the stored count.
func (c *TokenCounter) CountMessage(ctx context.Context, msg *types.Message) int {
	if msg.TokenCount != nil {
		return *msg.TokenCount
	}

	text := msg.Content
	if msg.ToolOutput != "" {
		text += "\n" + msg.ToolOutput
	}
	if text == "" {
		return messageOverheadTokens
	}
	return c.CountContent(ctx, text) + messageOverheadTokens
}

// cacheKey generates a cache key for content.
func (c *TokenCounter) cacheKey(content string) string {
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%s:%x", c.model, hash[:8])
}
