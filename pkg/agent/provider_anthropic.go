package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/kskip310/luminous/pkg/toolexecutor"
)

// AnthropicModel implements Model for Anthropic Claude
type AnthropicModel struct {
	client anthropic.Client
	cfg    ModelConfig
}

// NewAnthropicModel creates a new Anthropic model
func NewAnthropicModel(cfg ModelConfig) *AnthropicModel {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicModel{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
	}
}

// Provider returns the provider name
func (m *AnthropicModel) Provider() string {
	return "anthropic"
}

// Invoke makes an API call to Anthropic Claude
func (m *AnthropicModel) Invoke(ctx context.Context, req ModelRequest) (ModelResponse, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.History))

	for _, turn := range req.History {
		switch turn.Role {
		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Text)))
		case RoleModel:
			blocks := []anthropic.ContentBlockParamUnion{}
			if turn.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(turn.Text))
			}
			for _, tc := range turn.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Args, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		case RoleTool:
			// All results for one model turn travel in a single user message.
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(turn.ToolResults))
			for _, r := range turn.ToolResults {
				content, err := payloadJSON(r.Payload)
				if err != nil {
					return ModelResponse{}, err
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(r.CallID, content, r.IsError))
			}
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.cfg.Model),
		Messages:  messages,
		MaxTokens: int64(m.cfg.MaxTokens),
	}
	if req.SystemInstruction != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemInstruction}}
	}
	if m.cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(m.cfg.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, entry := range req.Tools {
			toolParam := anthropic.ToolParam{
				Name:        entry.Name,
				Description: anthropic.String(entry.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: entry.Parameters["properties"],
					Required:   requiredFields(entry.Parameters),
				},
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}

	response, err := m.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return ModelResponse{}, markRetryable(err, apiErr.StatusCode)
		}
		return ModelResponse{}, err
	}

	text := ""
	calls := []toolexecutor.Call{}
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += b.Text
		case anthropic.ToolUseBlock:
			var args map[string]any
			if err := json.Unmarshal([]byte(b.JSON.Input.Raw()), &args); err != nil {
				return ModelResponse{}, fmt.Errorf("failed to parse tool input: %w", err)
			}
			calls = append(calls, toolexecutor.Call{ID: b.ID, Name: b.Name, Args: args})
		}
	}

	blockReason := ""
	if string(response.StopReason) == "refusal" {
		blockReason = "refusal"
	}
	return classify(text, calls, blockReason, &TokenUsage{
		InputTokens:  int(response.Usage.InputTokens),
		OutputTokens: int(response.Usage.OutputTokens),
	}), nil
}

// requiredFields reads the required list of a catalog schema.
func requiredFields(schema map[string]any) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// payloadJSON renders a tool payload as the text a provider expects.
func payloadJSON(payload map[string]any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return string(data), nil
}
