package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"

	"github.com/harun/tiller/pkg/credentials"
)

// AnthropicClient streams turns through the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

// NewAnthropicClient builds a client from resolved credentials. OAuth
// tokens go over the Authorization header, API keys over x-api-key.
func NewAnthropicClient(res credentials.Resolved) (*AnthropicClient, error) {
	if res.APIKey == "" {
		return nil, credentials.ErrMissingAPIKey
	}

	opts := []option.RequestOption{}
	if res.AuthMode == credentials.AuthOAuth {
		opts = append(opts, option.WithAuthToken(res.APIKey))
	} else {
		opts = append(opts, option.WithAPIKey(res.APIKey))
	}
	if res.Endpoint != "" {
		// The SDK versions its request paths itself.
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(res.Endpoint, "/v1")))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  res.Model,
	}, nil
}

// Model returns the configured model identifier.
func (c *AnthropicClient) Model() string { return c.model }

// Provider returns the backend name.
func (c *AnthropicClient) Provider() string { return "anthropic" }

// Stream sends one turn and emits response events as they arrive.
func (c *AnthropicClient) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)

		stream := c.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		var (
			currentTool  *ToolCall
			currentInput strings.Builder
			usage        Usage
		)

		for stream.Next() {
			event := stream.Current()

			switch event.Type {
			case "message_start":
				start := event.AsMessageStart()
				if start.Message.Usage.InputTokens > 0 {
					usage.InputTokens = int(start.Message.Usage.InputTokens)
				}

			case "content_block_start":
				blockStart := event.AsContentBlockStart()
				if blockStart.ContentBlock.Type == "tool_use" {
					toolUse := blockStart.ContentBlock.AsToolUse()
					currentTool = &ToolCall{ID: toolUse.ID, Name: toolUse.Name}
					currentInput.Reset()
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						events <- StreamEvent{Text: delta.Text}
					}
				case "input_json_delta":
					currentInput.WriteString(delta.PartialJSON)
				}

			case "content_block_stop":
				if currentTool != nil {
					input := currentInput.String()
					if input == "" {
						input = "{}"
					}
					currentTool.Input = json.RawMessage(input)
					events <- StreamEvent{ToolCall: currentTool}
					currentTool = nil
				}

			case "message_delta":
				messageDelta := event.AsMessageDelta()
				if messageDelta.Usage.OutputTokens > 0 {
					usage.OutputTokens = int(messageDelta.Usage.OutputTokens)
				}

			case "message_stop":
				events <- StreamEvent{Done: true, Usage: usage}
				return
			}
		}

		if err := stream.Err(); err != nil {
			log.Debug().Err(err).Str("model", c.model).Msg("Anthropic stream failed")
			events <- StreamEvent{Err: fmt.Errorf("anthropic stream: %w", err)}
			return
		}
		events <- StreamEvent{Done: true, Usage: usage}
	}()

	return events, nil
}

func (c *AnthropicClient) buildParams(req Request) (anthropic.MessageNewParams, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

func convertAnthropicMessages(messages []Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]interface{}
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertAnthropicTools(tools []ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}

		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}
