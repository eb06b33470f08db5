package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog/log"

	"github.com/harun/tiller/pkg/credentials"
)

// OpenAIClient streams turns through the Chat Completions API.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient builds a client from resolved credentials.
func NewOpenAIClient(res credentials.Resolved) (*OpenAIClient, error) {
	if res.APIKey == "" {
		return nil, credentials.ErrMissingAPIKey
	}

	opts := []option.RequestOption{option.WithAPIKey(res.APIKey)}
	if res.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(res.Endpoint))
	}

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  res.Model,
	}, nil
}

// Model returns the configured model identifier.
func (c *OpenAIClient) Model() string { return c.model }

// Provider returns the backend name.
func (c *OpenAIClient) Provider() string { return "openai" }

type toolCallAccumulator struct {
	id        string
	name      string
	arguments strings.Builder
}

// Stream sends one turn and emits response events as they arrive.
// Chat Completions delivers tool calls as indexed argument fragments,
// so calls are accumulated and emitted once the stream ends.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)

		stream := c.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		var (
			calls = make(map[int]*toolCallAccumulator)
			usage Usage
		)

		for stream.Next() {
			chunk := stream.Current()

			if chunk.Usage.TotalTokens > 0 {
				usage.InputTokens = int(chunk.Usage.PromptTokens)
				usage.OutputTokens = int(chunk.Usage.CompletionTokens)
			}

			for _, choice := range chunk.Choices {
				delta := choice.Delta

				if delta.Content != "" {
					events <- StreamEvent{Text: delta.Content}
				}

				for _, tc := range delta.ToolCalls {
					idx := int(tc.Index)
					acc, ok := calls[idx]
					if !ok {
						acc = &toolCallAccumulator{}
						calls[idx] = acc
					}
					if tc.ID != "" {
						acc.id = tc.ID
					}
					if tc.Function.Name != "" {
						acc.name = tc.Function.Name
					}
					acc.arguments.WriteString(tc.Function.Arguments)
				}
			}
		}

		if err := stream.Err(); err != nil {
			log.Debug().Err(err).Str("model", c.model).Msg("OpenAI stream failed")
			events <- StreamEvent{Err: fmt.Errorf("openai stream: %w", err)}
			return
		}

		indices := make([]int, 0, len(calls))
		for idx := range calls {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			acc := calls[idx]
			if acc.id == "" || acc.name == "" {
				continue
			}
			input := acc.arguments.String()
			if input == "" {
				input = "{}"
			}
			events <- StreamEvent{ToolCall: &ToolCall{
				ID:    acc.id,
				Name:  acc.name,
				Input: json.RawMessage(input),
			}}
		}

		events <- StreamEvent{Done: true, Usage: usage}
	}()

	return events, nil
}

func (c *OpenAIClient) buildParams(req Request) (openai.ChatCompletionNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(c.model),
		Messages:            convertOpenAIMessages(req.System, req.Messages),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if len(req.Tools) > 0 {
		params.Tools = convertOpenAITools(req.Tools)
	}
	return params, nil
}

func convertOpenAIMessages(system string, messages []Message) []openai.ChatCompletionMessageParamUnion {
	var result []openai.ChatCompletionMessageParamUnion
	if system != "" {
		result = append(result, openai.SystemMessage(system))
	}

	for _, msg := range messages {
		if msg.Role == RoleAssistant {
			result = append(result, buildOpenAIAssistantMessage(msg))
			continue
		}

		// Tool results ride as dedicated tool messages ahead of any
		// user text in the same history entry.
		for _, tr := range msg.ToolResults {
			result = append(result, openai.ToolMessage(tr.Content, tr.ToolCallID))
		}
		if msg.Content != "" {
			result = append(result, openai.UserMessage(msg.Content))
		}
	}
	return result
}

func buildOpenAIAssistantMessage(msg Message) openai.ChatCompletionMessageParamUnion {
	param := openai.ChatCompletionAssistantMessageParam{}

	if msg.Content != "" {
		param.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: openai.String(msg.Content),
		}
	}

	for _, tc := range msg.ToolCalls {
		param.ToolCalls = append(param.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: string(tc.Input),
			},
		})
	}

	return openai.ChatCompletionMessageParamUnion{OfAssistant: &param}
}

func convertOpenAITools(tools []ToolDefinition) []openai.ChatCompletionToolParam {
	var result []openai.ChatCompletionToolParam
	for _, def := range tools {
		var params shared.FunctionParameters
		if err := json.Unmarshal(def.InputSchema, &params); err != nil || len(params) == 0 {
			params = shared.FunctionParameters{"type": "object"}
		}

		result = append(result, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.Opt(def.Description),
				Parameters:  params,
			},
		})
	}
	return result
}
