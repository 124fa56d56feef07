package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kskip310/luminous/pkg/toolexecutor"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIModel implements Model for OpenAI chat completions
type OpenAIModel struct {
	client openai.Client
	cfg    ModelConfig
}

// NewOpenAIModel creates a new OpenAI model
func NewOpenAIModel(cfg ModelConfig) *OpenAIModel {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIModel{
		client: openai.NewClient(opts...),
		cfg:    cfg,
	}
}

// Provider returns the provider name
func (m *OpenAIModel) Provider() string {
	return "openai"
}

// Invoke makes an API call to OpenAI
func (m *OpenAIModel) Invoke(ctx context.Context, req ModelRequest) (ModelResponse, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.SystemInstruction != "" {
		messages = append(messages, openai.SystemMessage(req.SystemInstruction))
	}

	for _, turn := range req.History {
		switch turn.Role {
		case RoleUser:
			messages = append(messages, openai.UserMessage(turn.Text))
		case RoleModel:
			if len(turn.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(turn.Text))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(turn.ToolCalls))
			for _, tc := range turn.ToolCalls {
				args, err := json.Marshal(tc.Args)
				if err != nil {
					return ModelResponse{}, fmt.Errorf("failed to marshal tool arguments: %w", err)
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			assistant := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   turn.Text,
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistant.ToParam())
		case RoleTool:
			for _, r := range turn.ToolResults {
				content, err := payloadJSON(r.Payload)
				if err != nil {
					return ModelResponse{}, err
				}
				messages = append(messages, openai.ToolMessage(content, r.CallID))
			}
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(m.cfg.Model),
		Messages: messages,
	}
	if m.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(m.cfg.MaxTokens))
	}
	if m.cfg.Temperature > 0 {
		params.Temperature = openai.Float(m.cfg.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, entry := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        entry.Name,
					Description: openai.String(entry.Description),
					Parameters:  openai.FunctionParameters(entry.Parameters),
				},
			})
		}
		params.Tools = tools
	}

	response, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return ModelResponse{}, markRetryable(err, apiErr.StatusCode)
		}
		return ModelResponse{}, err
	}
	if len(response.Choices) == 0 {
		return ModelResponse{}, ErrNoChoices
	}

	choice := response.Choices[0]
	calls := make([]toolexecutor.Call, 0, len(choice.Message.ToolCalls))
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return ModelResponse{}, fmt.Errorf("failed to parse tool arguments: %w", err)
			}
		}
		calls = append(calls, toolexecutor.Call{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}

	blockReason := ""
	if choice.Message.Refusal != "" {
		blockReason = choice.Message.Refusal
	} else if choice.FinishReason == "content_filter" {
		blockReason = "content_filter"
	}
	return classify(choice.Message.Content, calls, blockReason, &TokenUsage{
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
	}), nil
}
