package agent

import "encoding/json"

// Role values used in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a session's conversation history. Assistant
// messages may carry tool calls; user messages may carry the matching
// tool results.
type Message struct {
	Role        string       `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolCall is a model request to run one tool with the given input.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of one tool call, keyed by the call ID.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Request is one model turn: full history plus the tools on offer.
type Request struct {
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
}

// Usage is the token accounting reported by the backend for one turn.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StreamEvent is one unit of a streamed model response. Exactly one of
// the fields is meaningful per event: Text for a content fragment,
// ToolCall for a completed tool request, Done with Usage for normal
// end of stream, Err for a failed stream. The channel closes after
// Done or Err.
type StreamEvent struct {
	Text     string
	ToolCall *ToolCall
	Done     bool
	Usage    Usage
	Err      error
}

// EstimateTokens approximates the token count of a history without a
// backend round trip. Four bytes per token tracks the tokenizers of
// both supported providers closely enough for compression accounting.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
		for _, tc := range m.ToolCalls {
			total += len(tc.Name) + len(tc.Input)
		}
		for _, tr := range m.ToolResults {
			total += len(tr.Content)
		}
	}
	return total / 4
}
