package compaction

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/youssefsiam38/memorypg/types"
)

func TestApproximateTokens(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{name: "empty", content: "", want: 0},
		{name: "single char", content: "a", want: 1},
		{name: "exactly four chars", content: "abcd", want: 1},
		{name: "five chars rounds up", content: "abcde", want: 2},
		{name: "longer text", content: strings.Repeat("x", 400), want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ApproximateTokens(tt.content); got != tt.want {
				t.Errorf("ApproximateTokens(%q) = %d, want %d", tt.content, got, tt.want)
			}
		})
	}
}

func TestEstimateMessageTokens(t *testing.T) {
	sessionID := uuid.New()

	msg := types.NewMessage(sessionID, types.RoleUser, strings.Repeat("x", 40))
	if got := EstimateMessageTokens(msg); got != 10+messageOverheadTokens {
		t.Errorf("EstimateMessageTokens() = %d, want %d", got, 10+messageOverheadTokens)
	}

	tool := types.NewToolMessage(sessionID, "search", strings.Repeat("y", 80))
	want := ApproximateTokens(tool.Content) + 20 + messageOverheadTokens
	if got := EstimateMessageTokens(tool); got != want {
		t.Errorf("EstimateMessageTokens(tool) = %d, want %d", got, want)
	}
}

func TestMessageTokens_PrefersStoredCount(t *testing.T) {
	msg := types.NewMessage(uuid.New(), types.RoleUser, strings.Repeat("x", 400))
	msg.SetTokenCount(42)

	if got := MessageTokens(msg); got != 42 {
		t.Errorf("MessageTokens() = %d, want stored 42", got)
	}
}

func TestSumTokens(t *testing.T) {
	sessionID := uuid.New()
	messages := []*types.Message{
		messageWithTokens(sessionID, 100),
		messageWithTokens(sessionID, 250),
		messageWithTokens(sessionID, 50),
	}

	if got := SumTokens(messages); got != 400 {
		t.Errorf("SumTokens() = %d, want 400", got)
	}
}

func TestTokenCounter_NilClientFallsBack(t *testing.T) {
	counter := NewTokenCounter(nil, "claude-3-5-haiku-20241022")

	content := strings.Repeat("a", 100)
	if got := counter.CountContent(context.Background(), content); got != 25 {
		t.Errorf("CountContent() = %d, want approximation 25", got)
	}

	msg := types.NewMessage(uuid.New(), types.RoleUser, content)
	if got := counter.CountMessage(context.Background(), msg); got != 25+messageOverheadTokens {
		t.Errorf("CountMessage() = %d, want %d", got, 25+messageOverheadTokens)
	}
}

func TestTokenCounter_EmptyContent(t *testing.T) {
	counter := NewTokenCounter(nil, "claude-3-5-haiku-20241022")

	if got := counter.CountContent(context.Background(), ""); got != 0 {
		t.Errorf("CountContent(\"\") = %d, want 0", got)
	}

	msg := types.NewMessage(uuid.New(), types.RoleUser, "")
	if got := counter.CountMessage(context.Background(), msg); got != messageOverheadTokens {
		t.Errorf("CountMessage(empty) = %d, want overhead only", got)
	}
}
