package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kskip310/luminous/pkg/toolexecutor"
	"google.golang.org/genai"
)

// GeminiModel implements Model for Google Gemini
type GeminiModel struct {
	client *genai.Client
	cfg    ModelConfig
}

// NewGeminiModel creates a new Gemini model
func NewGeminiModel(ctx context.Context, cfg ModelConfig) (*GeminiModel, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiModel{client: client, cfg: cfg}, nil
}

// Provider returns the provider name
func (m *GeminiModel) Provider() string {
	return "gemini"
}

// Invoke makes an API call to Google Gemini
func (m *GeminiModel) Invoke(ctx context.Context, req ModelRequest) (ModelResponse, error) {
	contents, err := geminiContents(req.History)
	if err != nil {
		return ModelResponse{}, err
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(m.cfg.MaxTokens),
	}
	if req.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if m.cfg.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(m.cfg.Temperature))
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, entry := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        entry.Name,
				Description: entry.Description,
				Parameters:  geminiSchema(entry.Parameters),
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.cfg.Model, contents, config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return ModelResponse{}, markRetryable(err, apiErr.Code)
		}
		return ModelResponse{}, err
	}

	var usage *TokenUsage
	if resp.UsageMetadata != nil {
		usage = &TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return classify("", nil, string(resp.PromptFeedback.BlockReason), usage), nil
	}
	if len(resp.Candidates) == 0 {
		return classify("", nil, "", usage), nil
	}

	candidate := resp.Candidates[0]
	blockReason := ""
	if candidate.FinishReason == genai.FinishReasonSafety {
		blockReason = string(candidate.FinishReason)
	}

	var text strings.Builder
	calls := []toolexecutor.Call{}
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.FunctionCall != nil {
				calls = append(calls, toolexecutor.Call{
					ID:   part.FunctionCall.ID,
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				})
				continue
			}
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
		}
	}
	return classify(text.String(), calls, blockReason, usage), nil
}

// geminiContents converts turns into Gemini contents. Tool results are sent
// as function responses in a user content.
func geminiContents(history []Turn) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case RoleUser:
			contents = append(contents, genai.NewContentFromText(turn.Text, genai.RoleUser))
		case RoleModel:
			var parts []*genai.Part
			if turn.Text != "" {
				parts = append(parts, genai.NewPartFromText(turn.Text))
			}
			for _, tc := range turn.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Name,
					Args: tc.Args,
				}})
			}
			if len(parts) == 0 {
				parts = append(parts, genai.NewPartFromText(" "))
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
		case RoleTool:
			parts := make([]*genai.Part, 0, len(turn.ToolResults))
			for _, r := range turn.ToolResults {
				response, err := payloadMap(r.Payload)
				if err != nil {
					return nil, err
				}
				part := genai.NewPartFromFunctionResponse(r.Name, response)
				part.FunctionResponse.ID = r.CallID
				parts = append(parts, part)
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
		}
	}
	return contents, nil
}

// geminiSchema converts a JSON schema map into a Gemini schema.
func geminiSchema(raw map[string]any) *genai.Schema {
	if raw == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := raw["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := raw["description"].(string); ok {
		s.Description = d
	}
	if items, ok := raw["items"].(map[string]any); ok {
		s.Items = geminiSchema(items)
	}
	switch enum := raw["enum"].(type) {
	case []string:
		s.Enum = enum
	case []any:
		for _, v := range enum {
			if str, ok := v.(string); ok {
				s.Enum = append(s.Enum, str)
			}
		}
	}
	if props, ok := raw["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = geminiSchema(pm)
			}
		}
	}
	s.Required = requiredFields(raw)
	return s
}

// payloadMap renders a tool payload as a plain JSON object.
func payloadMap(payload map[string]any) (map[string]any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool result: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tool result: %w", err)
	}
	return out, nil
}
