package compaction

import (
	"fmt"
	"strings"

	"github.com/youssefsiam38/memorypg/types"
)

// SummarizationSystemPrompt instructs the model to produce a structured
// summary of the conversation range being compacted. The response must be a
// single JSON object so topics and decisions can be extracted reliably.
const SummarizationSystemPrompt = `You are a conversation summarizer for a tiered memory system. Your task is to condense a range of chat messages into a durable memory record that will replace the original messages.

Respond with ONLY a JSON object in this exact shape, no surrounding prose:

{
  "summary": "A comprehensive summary of the conversation range. Preserve the user's goals, constraints, important facts, file or entity names, and the current state of any ongoing work. Be concise but complete enough that the conversation can continue with full context.",
  "key_topics": ["short topic labels covering what was discussed"],
  "decisions": ["concrete decisions or conclusions that were reached"]
}

Guidelines:
- Do not add information that was not in the original conversation
- Preserve exact names, identifiers and quotes when they convey intent
- key_topics should be 3-8 short labels; decisions may be empty
- Maintain chronological order inside the summary`

// BuildSummarizationUserPrompt creates the user message for summarization.
func BuildSummarizationUserPrompt(conversationText string) string {
	return `Summarize the following conversation range according to your instructions.

<conversation>
` + conversationText + `
</conversation>

Remember: respond with only the JSON object.`
}

// FormatMessagesAsText converts messages to a readable transcript for
// summarization. Pruned tool outputs are carried as-is (the marker conveys
// that the payload was dropped).
func FormatMessagesAsText(messages []*types.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		switch {
		case msg.Role == types.RoleTool:
			fmt.Fprintf(&b, "## tool (%s)\n\n%s\n\n", msg.ToolName, msg.ToolOutput)
		case msg.IsSummary:
			fmt.Fprintf(&b, "## earlier summary\n\n%s\n\n", msg.Content)
		default:
			fmt.Fprintf(&b, "## %s\n\n%s\n\n", msg.Role, msg.Content)
		}
	}
	return b.String()
}
