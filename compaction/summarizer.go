package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tidwall/gjson"
	"github.com/youssefsiam38/memorypg/types"
)

// SummaryResult is the structured output of a summarization call.
type SummaryResult struct {
	// Summary is the condensed text that replaces the message range.
	Summary string

	// KeyTopics are short labels extracted from the range.
	KeyTopics []string

	// Decisions are concrete conclusions extracted from the range.
	Decisions []string
}

// Summarizer generates a structured summary of a message range. It is the
// external LLM collaborator; implementations must honor context cancellation.
type Summarizer interface {
	Summarize(ctx context.Context, messages []*types.Message) (*SummaryResult, error)
}

// AnthropicSummarizer implements Summarizer using Claude's streaming API.
type AnthropicSummarizer struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicSummarizer creates a summarizer with the given client and
// configuration.
func NewAnthropicSummarizer(client *anthropic.Client, model string, maxTokens int) *AnthropicSummarizer {
	return &AnthropicSummarizer{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
	}
}

// Summarize generates a summary of the given messages.
func (s *AnthropicSummarizer) Summarize(ctx context.Context, messages []*types.Message) (*SummaryResult, error) {
	if len(messages) == 0 {
		return nil, ErrNoMessagesToCompact
	}

	userPrompt := BuildSummarizationUserPrompt(FormatMessagesAsText(messages))

	stream := s.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(s.maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: SummarizationSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("%w: failed to accumulate stream: %v", ErrSummarizationFailed, err)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSummarizationFailed, err)
	}

	var raw strings.Builder
	for _, block := range message.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			raw.WriteString(text.Text)
		}
	}
	if raw.Len() == 0 {
		return nil, fmt.Errorf("%w: empty response from summarizer", ErrSummarizationFailed)
	}

	return ParseSummaryResponse(raw.String()), nil
}

// ParseSummaryResponse extracts the structured summary from the model's
// response. Models occasionally wrap JSON in code fences or prose, so the
// parse is lenient: if no usable JSON object is found, the entire response
// becomes the summary text.
func ParseSummaryResponse(raw string) *SummaryResult {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	parsed := gjson.Parse(text)
	summary := parsed.Get("summary")
	if !summary.Exists() || summary.String() == "" {
		return &SummaryResult{Summary: strings.TrimSpace(raw)}
	}

	result := &SummaryResult{Summary: summary.String()}
	for _, topic := range parsed.Get("key_topics").Array() {
		if t := strings.TrimSpace(topic.String()); t != "" {
			result.KeyTopics = append(result.KeyTopics, t)
		}
	}
	for _, decision := range parsed.Get("decisions").Array() {
		if d := strings.TrimSpace(decision.String()); d != "" {
			result.Decisions = append(result.Decisions, d)
		}
	}
	return result
}
