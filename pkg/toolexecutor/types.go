package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kskip310/luminous/pkg/state"
)

// ErrUnknownTool is wrapped by results for unregistered tool names.
var ErrUnknownTool = errors.New("unknown tool")

// Error codes carried by ToolError.
const (
	CodeUnknownTool     = "UnknownTool"
	CodeInvalidArgs     = "InvalidArguments"
	CodeExecutionFailed = "ExecutionFailed"
	CodeTimeout         = "Timeout"
)

// Call is one tool-call request issued by the model.
type Call struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolError is the structured failure shape returned to the model.
// Handlers may return one directly to control the suggestion shown.
type ToolError struct {
	Code        string         `json:"code,omitempty"`
	Message     string         `json:"message"`
	Details     string         `json:"details,omitempty"`
	Suggestion  string         `json:"suggestion,omitempty"`
	RequestArgs map[string]any `json:"requestArgs"`
}

func (e *ToolError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// NewToolError builds a ToolError with a hint the model can act on.
func NewToolError(message, suggestion string) *ToolError {
	return &ToolError{Code: CodeExecutionFailed, Message: message, Suggestion: suggestion}
}

// Result is the uniform outcome of a tool call: exactly one of Output or
// Error is meaningful, and Patch is an optional partial state.
type Result struct {
	CallID    string        `json:"-"`
	Name      string        `json:"-"`
	Output    any           `json:"result,omitempty"`
	Error     *ToolError    `json:"error,omitempty"`
	Patch     state.Patch   `json:"updatedState,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"-"`
}

// Failed reports whether the call ended in an error result.
func (r Result) Failed() bool {
	return r.Error != nil
}

// Payload is what the model sees for this call: {result} or {error}.
func (r Result) Payload() map[string]any {
	if r.Error != nil {
		return map[string]any{"error": r.Error}
	}
	return map[string]any{"result": r.Output}
}

// ToolParameter defines a parameter for a tool.
type ToolParameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Items       string   `json:"items,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// Invocation is everything a handler gets for one call.
type Invocation struct {
	Call     Call
	Identity string
	// Args is the decoded argument struct; GenericArgs when the tool has no
	// registered argument type.
	Args Args
	// State is a private copy of the snapshot the call runs against.
	State state.AgentState
}

// Output is a successful handler result.
type Output struct {
	Result any
	Patch  state.Patch
}

// Handler executes a tool.
type Handler func(ctx context.Context, inv Invocation) (Output, error)

// ToolDefinition defines a tool's metadata and handler.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	// Args, when set, builds the typed argument struct for this tool.
	Args    func() Args   `json:"-"`
	Handler Handler       `json:"-"`
	Timeout time.Duration `json:"-"`
	// Mutates marks tools whose patches are derived from the state they read.
	// Within a batch they run in call order on the accumulated state.
	Mutates bool `json:"-"`
}

// CatalogEntry describes one tool to the model.
type CatalogEntry struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func (c Call) String() string {
	return fmt.Sprintf("%s(%s)", c.Name, c.ID)
}
