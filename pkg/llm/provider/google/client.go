// Package google adapts the Gemini API to the llm.Client interface.
package google

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"agentcore/pkg/llm"
	"agentcore/pkg/llm/llmerrors"
	"agentcore/pkg/tools"
)

// Client wraps the Google GenAI client. The underlying client is created on
// first use because construction needs a context.
type Client struct {
	mu     sync.Mutex
	client *genai.Client
	apiKey string
	model  string

	// Gemini responses carry thought signatures that must be sent back
	// verbatim on later turns. Responses with function calls are cached
	// under the first call's ID so history rebuilds can reuse them even
	// after compaction shifts message positions.
	responses map[string]*genai.Content
}

// New creates a Gemini client.
func New(apiKey, model string) *Client {
	return &Client{
		apiKey:    apiKey,
		model:     model,
		responses: make(map[string]*genai.Content),
	}
}

// ModelName returns the model this client completes with.
func (c *Client) ModelName() string { return c.model }

func (c *Client) ensureClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "failed to create Gemini client")
	}
	c.client = client
	return client, nil
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	client, err := c.ensureClient(ctx)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	contents, system, err := c.buildContents(in)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "request conversion failed")
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	temperature := in.Temperature
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(maxTokens),
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if len(in.Tools) > 0 {
		config.Tools = []*genai.Tool{
			{FunctionDeclarations: buildDeclarations(in.Tools)},
		}
	}

	result, err := client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err)
	}
	if result == nil || len(result.Candidates) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	out := llm.CompletionResponse{
		Content:    result.Text(),
		StopReason: normalizeFinish(result.Candidates[0].FinishReason),
	}
	if meta := result.UsageMetadata; meta != nil {
		out.Usage = llm.Usage{
			InputTokens:  int(meta.PromptTokenCount),
			OutputTokens: int(meta.CandidatesTokenCount),
		}
	}
	if calls := result.FunctionCalls(); len(calls) > 0 {
		out.ToolCalls = convertCalls(calls)
		out.StopReason = llm.StopToolUse
		if content := result.Candidates[0].Content; content != nil {
			c.mu.Lock()
			c.responses[out.ToolCalls[0].ID] = content
			c.mu.Unlock()
		}
	}
	return out, nil
}

// buildContents converts history into Gemini contents. Assistant messages
// with tool calls are replaced by the cached original response when one
// exists, preserving thought signatures.
func (c *Client) buildContents(in llm.CompletionRequest) ([]*genai.Content, string, error) {
	system := in.System
	var contents []*genai.Content

	appendPart := func(role string, part *genai.Part) {
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, part)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{part}})
	}

	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content

		case llm.RoleUser:
			appendPart("user", &genai.Part{Text: msg.Content})

		case llm.RoleTool:
			if msg.ToolResult == nil {
				return nil, "", fmt.Errorf("tool message %d has no result", i)
			}
			appendPart("user", &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:   msg.ToolResult.ToolCallID,
					Name: msg.ToolResult.Name,
					Response: map[string]any{
						"content":  msg.ToolResult.Content,
						"is_error": msg.ToolResult.IsError,
					},
				},
			})

		case llm.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				c.mu.Lock()
				cached := c.responses[msg.ToolCalls[0].ID]
				c.mu.Unlock()
				if cached != nil {
					contents = append(contents, cached)
					continue
				}
			}
			if msg.Content != "" {
				appendPart("model", &genai.Part{Text: msg.Content})
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				appendPart("model", &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Name,
						Args: tc.Arguments,
					},
				})
			}

		default:
			return nil, "", fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}

	if len(contents) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}
	return contents, system, nil
}

func buildDeclarations(defs []tools.ToolDefinition) []*genai.FunctionDeclaration {
	declarations := make([]*genai.FunctionDeclaration, len(defs))
	for i := range defs {
		def := &defs[i]
		properties := make(map[string]*genai.Schema, len(def.InputSchema.Properties))
		for name := range def.InputSchema.Properties {
			prop := def.InputSchema.Properties[name]
			properties[name] = buildSchema(&prop)
		}
		declarations[i] = &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   def.InputSchema.Required,
			},
		}
	}
	return declarations
}

func buildSchema(prop *tools.Property) *genai.Schema {
	schema := &genai.Schema{Description: prop.Description}

	switch prop.Type {
	case "string":
		schema.Type = genai.TypeString
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
		if prop.Items != nil {
			schema.Items = buildSchema(prop.Items)
		}
	case "object":
		schema.Type = genai.TypeObject
		if len(prop.Properties) > 0 {
			properties := make(map[string]*genai.Schema, len(prop.Properties))
			for name, child := range prop.Properties {
				if child != nil {
					properties[name] = buildSchema(child)
				}
			}
			schema.Properties = properties
		}
	default:
		schema.Type = genai.TypeString
	}

	if len(prop.Enum) > 0 {
		schema.Enum = prop.Enum
	}
	return schema
}

func convertCalls(calls []*genai.FunctionCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i, call := range calls {
		id := call.ID
		if id == "" {
			// Gemini may omit call IDs; the name keeps results matchable.
			id = call.Name
		}
		out[i] = llm.ToolCall{
			ID:        id,
			Name:      call.Name,
			Arguments: call.Args,
		}
	}
	return out
}

func normalizeFinish(reason genai.FinishReason) string {
	switch reason {
	case genai.FinishReasonStop:
		return llm.StopEndTurn
	case genai.FinishReasonMaxTokens:
		return llm.StopMaxTokens
	default:
		return string(reason)
	}
}
