// Package ollama adapts a local Ollama server to the llm.Client interface.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"

	"agentcore/pkg/llm"
	"agentcore/pkg/llm/llmerrors"
	"agentcore/pkg/tools"
)

const defaultHost = "http://localhost:11434"

// Client wraps the Ollama API client.
type Client struct {
	client *api.Client
	model  string
}

// New creates an Ollama client. hostURL may be empty for localhost:11434.
func New(hostURL, model string) *Client {
	if hostURL == "" {
		hostURL = defaultHost
	}
	parsed, err := url.Parse(hostURL)
	if err != nil {
		parsed, _ = url.Parse(defaultHost)
	}
	return &Client{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}
}

// ModelName returns the model this client completes with.
func (c *Client) ModelName() string { return c.model }

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages, err := buildMessages(in)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "request conversion failed")
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}

	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": maxTokens,
		},
	}
	if len(in.Tools) > 0 {
		req.Tools = buildTools(in.Tools)
	}

	var response api.ChatResponse
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classify(err)
	}

	out := llm.CompletionResponse{
		Content:    response.Message.Content,
		Thinking:   response.Message.Thinking,
		StopReason: normalizeFinish(&response),
		Usage: llm.Usage{
			InputTokens:  response.Metrics.PromptEvalCount,
			OutputTokens: response.Metrics.EvalCount,
		},
	}
	if len(response.Message.ToolCalls) > 0 {
		out.ToolCalls = convertCalls(response.Message.ToolCalls)
		out.StopReason = llm.StopToolUse
	}
	return out, nil
}

// buildMessages converts history to Ollama messages. Ollama matches tool
// results to calls positionally, so results keep their request order and no
// call IDs cross this boundary.
func buildMessages(in llm.CompletionRequest) ([]api.Message, error) {
	messages := make([]api.Message, 0, len(in.Messages)+1)
	if in.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: in.System})
	}

	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			messages = append(messages, api.Message{Role: "system", Content: msg.Content})

		case llm.RoleUser:
			messages = append(messages, api.Message{Role: "user", Content: msg.Content})

		case llm.RoleTool:
			if msg.ToolResult == nil {
				return nil, fmt.Errorf("tool message %d has no result", i)
			}
			messages = append(messages, api.Message{Role: "tool", Content: msg.ToolResult.Content})

		case llm.RoleAssistant:
			m := api.Message{Role: "assistant", Content: msg.Content}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				m.ToolCalls = append(m.ToolCalls, api.ToolCall{
					Function: api.ToolCallFunction{
						Name:      tc.Name,
						Arguments: api.ToolCallFunctionArguments(tc.Arguments),
					},
				})
			}
			messages = append(messages, m)

		default:
			return nil, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}

	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}
	return messages, nil
}

func buildTools(defs []tools.ToolDefinition) api.Tools {
	out := make(api.Tools, len(defs))
	for i := range defs {
		def := &defs[i]
		properties := make(map[string]api.ToolProperty, len(def.InputSchema.Properties))
		for name := range def.InputSchema.Properties {
			prop := def.InputSchema.Properties[name]
			properties[name] = buildProperty(&prop)
		}
		out[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       "object",
					Properties: properties,
					Required:   def.InputSchema.Required,
				},
			},
		}
	}
	return out
}

func buildProperty(prop *tools.Property) api.ToolProperty {
	out := api.ToolProperty{
		Type:        api.PropertyType{prop.Type},
		Description: prop.Description,
	}
	if len(prop.Enum) > 0 {
		enum := make([]any, len(prop.Enum))
		for i, v := range prop.Enum {
			enum[i] = v
		}
		out.Enum = enum
	}
	if prop.Items != nil {
		out.Items = buildProperty(prop.Items)
	}
	if len(prop.Properties) > 0 {
		nested := make(map[string]api.ToolProperty, len(prop.Properties))
		for name, child := range prop.Properties {
			if child != nil {
				nested[name] = buildProperty(child)
			}
		}
		out.Items = map[string]any{
			"type":       "object",
			"properties": nested,
		}
	}
	return out
}

func convertCalls(calls []api.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i := range calls {
		call := &calls[i]
		out[i] = llm.ToolCall{
			// Ollama does not assign call IDs; synthesize unique ones so
			// results stay matchable in the session log.
			ID:        "call_" + uuid.NewString(),
			Name:      call.Function.Name,
			Arguments: map[string]any(call.Function.Arguments),
		}
	}
	return out
}

func normalizeFinish(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "stop", "":
		return llm.StopEndTurn
	case "length":
		return llm.StopMaxTokens
	default:
		return resp.DoneReason
	}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "Ollama server not reachable")
	case strings.Contains(errStr, "not found"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "model not available on the Ollama server")
	default:
		return llmerrors.Classify(err)
	}
}
