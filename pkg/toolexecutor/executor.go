package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kskip310/luminous/internal/observability"
	"github.com/kskip310/luminous/internal/tracing"
	"github.com/kskip310/luminous/pkg/state"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultTimeout bounds a single tool call.
	DefaultTimeout = 30 * time.Second
	// MaxOutputBytes is the largest serialized result handed back to the model.
	MaxOutputBytes = 16 * 1024
)

// Config configures an Executor.
type Config struct {
	Logger  zerolog.Logger
	Timeout time.Duration
	// MaxParallel caps concurrent calls in one batch; 0 means unlimited.
	MaxParallel int
}

// Executor manages and executes tools.
type Executor struct {
	logger      zerolog.Logger
	timeout     time.Duration
	maxParallel int

	mu      sync.RWMutex
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	raw     map[string]map[string]any
	args    map[string]func() Args
}

// New creates an empty Executor.
func New(cfg Config) *Executor {
	observability.EnsureRegistered()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{
		logger:      cfg.Logger,
		timeout:     timeout,
		maxParallel: cfg.MaxParallel,
		tools:       make(map[string]*ToolDefinition),
		schemas:     make(map[string]*gojsonschema.Schema),
		raw:         make(map[string]map[string]any),
		args:        make(map[string]func() Args),
	}
}

// Register adds a tool. Names must be unique.
func (e *Executor) Register(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schemaMap := buildSchema(def)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		return fmt.Errorf("failed to generate schema for %s: %w", def.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.tools[def.Name]; exists {
		return fmt.Errorf("tool %s is already registered", def.Name)
	}
	e.tools[def.Name] = &def
	e.schemas[def.Name] = schema
	e.raw[def.Name] = schemaMap
	if def.Args != nil {
		e.args[def.Name] = def.Args
	}

	e.logger.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// RegisterArgs sets the typed argument factory for a tool name.
func (e *Executor) RegisterArgs(name string, factory func() Args) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if factory == nil {
		delete(e.args, name)
		return
	}
	e.args[name] = factory
}

// Unregister removes a tool.
func (e *Executor) Unregister(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.tools, name)
	delete(e.schemas, name)
	delete(e.raw, name)
	delete(e.args, name)
}

// Get returns a tool definition by name.
func (e *Executor) Get(name string) *ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tools[name]
}

// Names returns registered tool names, sorted.
func (e *Executor) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog describes every tool for the model, sorted by name.
func (e *Executor) Catalog() []CatalogEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entries := make([]CatalogEntry, 0, len(e.tools))
	for name, def := range e.tools {
		entries = append(entries, CatalogEntry{
			Name:        name,
			Description: def.Description,
			Parameters:  e.raw[name],
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// Execute runs one call against snapshot. It never panics and never returns
// an error: every failure path is folded into the result.
func (e *Executor) Execute(ctx context.Context, identity string, call Call, snapshot state.AgentState) Result {
	start := time.Now()
	if call.Args == nil {
		call.Args = map[string]any{}
	}

	ctx, span := tracing.StartSpan(ctx, "luminous.tools", "tool.execute",
		attribute.String("tool", call.Name),
		attribute.String("call_id", call.ID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, e.logger).With().
		Str("tool", call.Name).
		Str("call_id", call.ID).
		Logger()

	result := e.execute(ctx, identity, call, snapshot)
	result.CallID = call.ID
	result.Name = call.Name
	result.Duration = time.Since(start)

	if result.Error != nil {
		result.Error.RequestArgs = call.Args
		if result.Error.Code == "" {
			result.Error.Code = CodeExecutionFailed
		}
		tracing.Fail(span, result.Error)
		logger.Warn().
			Str("code", result.Error.Code).
			Str("error", result.Error.Message).
			Dur("duration", result.Duration).
			Msg("Tool execution failed")
	} else {
		logger.Debug().
			Bool("patch", len(result.Patch) > 0).
			Bool("truncated", result.Truncated).
			Dur("duration", result.Duration).
			Msg("Tool execution completed")
	}
	observability.RecordToolExecution(call.Name, result.Duration, result.Error == nil)
	return result
}

func (e *Executor) execute(ctx context.Context, identity string, call Call, snapshot state.AgentState) Result {
	e.mu.RLock()
	def := e.tools[call.Name]
	schema := e.schemas[call.Name]
	factory := e.args[call.Name]
	e.mu.RUnlock()

	if def == nil {
		return Result{Error: &ToolError{
			Code:       CodeUnknownTool,
			Message:    fmt.Sprintf("%v: %s", ErrUnknownTool, call.Name),
			Suggestion: "Use one of the tools listed in the catalog.",
		}}
	}

	if err := validateParameters(schema, call.Args); err != nil {
		return Result{Error: &ToolError{
			Code:       CodeInvalidArgs,
			Message:    "parameter validation failed",
			Details:    err.Error(),
			Suggestion: "Check the argument names and types against the tool's parameter schema.",
		}}
	}

	args, err := DecodeArgs(call.Name, factory, call.Args)
	if err != nil {
		return Result{Error: &ToolError{
			Code:       CodeInvalidArgs,
			Message:    "argument decoding failed",
			Details:    err.Error(),
			Suggestion: "Check the argument names and types against the tool's parameter schema.",
		}}
	}

	timeout := e.timeout
	if def.Timeout > 0 {
		timeout = def.Timeout
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	inv := Invocation{Call: call, Identity: identity, Args: args, State: snapshot.Clone()}
	type outcome struct {
		out Output
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		out, err := def.Handler(timeoutCtx, inv)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return Result{Error: toToolError(o.err)}
		}
		patch, err := state.NormalizePatch(o.out.Patch)
		if err != nil {
			return Result{Error: &ToolError{Message: "tool returned an unusable state patch", Details: err.Error()}}
		}
		output, truncated := truncateOutput(o.out.Result)
		res := Result{Output: output, Truncated: truncated}
		if len(patch) > 0 {
			res.Patch = patch
		}
		return res
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return Result{Error: &ToolError{Code: CodeExecutionFailed, Message: "tool execution cancelled", Details: ctx.Err().Error()}}
		}
		return Result{Error: &ToolError{
			Code:       CodeTimeout,
			Message:    fmt.Sprintf("tool execution timeout after %v", timeout),
			Suggestion: "Try a smaller request.",
		}}
	}
}

func toToolError(err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		c := *te
		return &c
	}
	return &ToolError{Code: CodeExecutionFailed, Message: err.Error()}
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
		if param.Items != "" && !validTypes[param.Items] {
			return fmt.Errorf("invalid item type %q for %s", param.Items, param.Name)
		}
	}
	return nil
}

// buildSchema generates a JSON Schema object from tool parameters.
func buildSchema(def ToolDefinition) map[string]any {
	properties := make(map[string]any, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		p := map[string]any{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Type == "array" {
			items := param.Items
			if items == "" {
				items = "string"
			}
			p["items"] = map[string]any{"type": items}
		}
		if len(param.Enum) > 0 {
			enum := make([]any, len(param.Enum))
			for i, v := range param.Enum {
				enum[i] = v
			}
			p["enum"] = enum
		}
		if param.Default != nil {
			p["default"] = param.Default
		}
		properties[param.Name] = p
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func validateParameters(schema *gojsonschema.Schema, params map[string]any) error {
	if schema == nil {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

// truncateOutput replaces outputs that serialize past MaxOutputBytes with a
// truncated string.
func truncateOutput(output any) (any, bool) {
	if output == nil {
		return nil, false
	}
	var text string
	switch v := output.(type) {
	case string:
		text = v
	case []byte:
		text = string(v)
		output = text
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v), false
		}
		text = string(data)
	}
	if len(text) <= MaxOutputBytes {
		return output, false
	}
	return state.TruncateUTF8(text, MaxOutputBytes) + "\n... [output truncated]", true
}
