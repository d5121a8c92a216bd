// Package anthropic adapts the Anthropic Messages API to the llm.Client
// interface.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"agentcore/pkg/llm"
	"agentcore/pkg/llm/llmerrors"
)

// Client wraps the Anthropic SDK client.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// New creates an Anthropic client. baseURL may be empty for the default
// endpoint.
func New(apiKey, baseURL, model string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

// ModelName returns the model this client completes with.
func (c *Client) ModelName() string { return string(c.model) }

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	params, err := buildParams(c.model, in)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "request conversion failed")
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classify(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Anthropic API")
	}

	out := llm.CompletionResponse{
		StopReason: string(resp.StopReason),
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			out.Content += block.AsText().Text
		case "thinking":
			out.Thinking += block.AsThinking().Thinking
		case "tool_use":
			toolUse := block.AsToolUse()
			var args map[string]any
			if err := json.Unmarshal(toolUse.Input, &args); err != nil {
				return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err,
					fmt.Sprintf("unparseable input for tool %s", toolUse.Name))
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        toolUse.ID,
				Name:      toolUse.Name,
				Arguments: args,
			})
		}
	}
	return out, nil
}

// buildParams converts a request into Anthropic message params. Tool results
// become tool_result blocks inside user messages, merged so the sequence
// strictly alternates user and assistant.
func buildParams(model anthropic.Model, in llm.CompletionRequest) (anthropic.MessageNewParams, error) {
	var (
		systemParts []string
		messages    []anthropic.MessageParam
		userBlocks  []anthropic.ContentBlockParamUnion
	)

	flushUser := func() {
		if len(userBlocks) > 0 {
			messages = append(messages, anthropic.NewUserMessage(userBlocks...))
			userBlocks = nil
		}
	}

	if in.System != "" {
		systemParts = append(systemParts, in.System)
	}

	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case llm.RoleUser:
			userBlocks = append(userBlocks, anthropic.NewTextBlock(msg.Content))

		case llm.RoleTool:
			if msg.ToolResult == nil {
				return anthropic.MessageNewParams{}, fmt.Errorf("tool message %d has no result", i)
			}
			userBlocks = append(userBlocks,
				anthropic.NewToolResultBlock(msg.ToolResult.ToolCallID, msg.ToolResult.Content, msg.ToolResult.IsError))

		case llm.RoleAssistant:
			flushUser()
			// Thinking is not replayed: without a signature the API
			// rejects reconstructed thinking blocks.
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: tc.Arguments,
					},
				})
			}
			if len(blocks) == 0 {
				continue
			}
			if n := len(messages); n > 0 && messages[n-1].Role == anthropic.MessageParamRoleAssistant {
				messages[n-1].Content = append(messages[n-1].Content, blocks...)
			} else {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}

		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}
	flushUser()

	if len(messages) == 0 {
		return anthropic.MessageNewParams{}, fmt.Errorf("message list cannot be empty")
	}
	if messages[0].Role != anthropic.MessageParamRoleUser {
		return anthropic.MessageNewParams{}, fmt.Errorf("first message must be user, got %s", messages[0].Role)
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       model,
		Messages:    messages,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}

	if system := strings.Join(systemParts, "\n\n"); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if len(in.Tools) > 0 {
		toolParams := make([]anthropic.ToolUnionParam, 0, len(in.Tools))
		for i := range in.Tools {
			def := &in.Tools[i]
			var properties any
			if len(def.InputSchema.Properties) > 0 {
				props := make(map[string]any, len(def.InputSchema.Properties))
				for name := range def.InputSchema.Properties {
					prop := def.InputSchema.Properties[name]
					props[name] = llm.PropertyMap(&prop)
				}
				properties = props
			}
			toolParams = append(toolParams, anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        def.Name,
					Description: anthropic.String(def.Description),
					InputSchema: anthropic.ToolInputSchemaParam{
						Properties: properties,
						Required:   def.InputSchema.Required,
					},
				},
			})
		}
		params.Tools = toolParams
	}

	return params, nil
}

// classify maps SDK failures onto the shared taxonomy, preferring the typed
// API error's status code over string parsing.
func classify(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return llmerrors.ClassifyStatus(apierr.StatusCode, err)
	}
	return llmerrors.Classify(err)
}
