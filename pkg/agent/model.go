package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kskip310/luminous/pkg/toolexecutor"
)

// Role is the author of one model-context turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// Turn is one entry of the context handed to a model. Model turns may carry
// tool calls; tool turns carry the results for the preceding model turn.
type Turn struct {
	Role        Role
	Text        string
	ToolCalls   []toolexecutor.Call
	ToolResults []ToolResult
}

// ToolResult is the payload returned to the model for one call.
type ToolResult struct {
	CallID  string
	Name    string
	Payload map[string]any
	IsError bool
}

// ModelRequest is everything a model needs to pick its next step.
type ModelRequest struct {
	History           []Turn
	Tools             []toolexecutor.CatalogEntry
	SystemInstruction string
}

// ResponseKind classifies a model response.
type ResponseKind string

const (
	ResponseFinal     ResponseKind = "final"
	ResponseToolCalls ResponseKind = "tool_calls"
	ResponseEmpty     ResponseKind = "empty"
)

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ModelResponse is either final text, a batch of tool calls, or empty.
type ModelResponse struct {
	Kind      ResponseKind
	Text      string
	ToolCalls []toolexecutor.Call
	// BlockReason is set when the provider refused to answer.
	BlockReason string
	Usage       *TokenUsage
}

// Model is the language-model capability driving the conversation.
type Model interface {
	Invoke(ctx context.Context, req ModelRequest) (ModelResponse, error)
	// Provider returns the provider name
	Provider() string
}

// ModelConfig selects and configures a provider.
type ModelConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
}

// Default model names per provider.
const (
	DefaultAnthropicModel = "claude-sonnet-4-5"
	DefaultOpenAIModel    = "gpt-4o"
	DefaultGeminiModel    = "gemini-2.5-flash"
	DefaultMaxTokens      = 4096
)

// NewModel creates the provider named by cfg.Provider.
func NewModel(ctx context.Context, cfg ModelConfig) (Model, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		if cfg.Model == "" {
			cfg.Model = DefaultAnthropicModel
		}
		return NewAnthropicModel(cfg), nil
	case "openai":
		if cfg.Model == "" {
			cfg.Model = DefaultOpenAIModel
		}
		return NewOpenAIModel(cfg), nil
	case "gemini", "":
		if cfg.Model == "" {
			cfg.Model = DefaultGeminiModel
		}
		return NewGeminiModel(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// classify builds a response from extracted text and calls.
func classify(text string, calls []toolexecutor.Call, blockReason string, usage *TokenUsage) ModelResponse {
	resp := ModelResponse{Text: text, ToolCalls: calls, BlockReason: blockReason, Usage: usage}
	switch {
	case len(calls) > 0:
		resp.Kind = ResponseToolCalls
	case strings.TrimSpace(text) != "":
		resp.Kind = ResponseFinal
	default:
		resp.Kind = ResponseEmpty
	}
	return resp
}

// markRetryable flags provider errors worth another attempt: server errors
// and rate limits.
func markRetryable(err error, statusCode int) error {
	if statusCode >= 500 || statusCode == http.StatusTooManyRequests {
		return toolexecutor.Transient(err)
	}
	return err
}

// ErrNoChoices is returned when a provider answers without any candidate.
var ErrNoChoices = errors.New("no response choices returned")
