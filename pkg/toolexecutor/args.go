package toolexecutor

import (
	"context"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Args is a decoded, typed tool argument set.
type Args interface {
	ToolName() string
}

// GenericArgs carries the raw argument map for tools without a registered
// argument type.
type GenericArgs struct {
	Name   string
	Values map[string]any
}

func (g GenericArgs) ToolName() string { return g.Name }

// DecodeArgs decodes raw into the struct built by factory using the
// struct's json tags. A nil factory yields GenericArgs.
func DecodeArgs(name string, factory func() Args, raw map[string]any) (Args, error) {
	if factory == nil {
		values := make(map[string]any, len(raw))
		for k, v := range raw {
			values[k] = v
		}
		return GenericArgs{Name: name, Values: values}, nil
	}

	target := factory()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode arguments: %w", err)
	}
	return target, nil
}

// Typed adapts a handler taking a concrete argument type. The tool must be
// registered with an Args factory returning A.
func Typed[A Args](fn func(ctx context.Context, args A, inv Invocation) (Output, error)) Handler {
	return func(ctx context.Context, inv Invocation) (Output, error) {
		args, ok := inv.Args.(A)
		if !ok {
			return Output{}, fmt.Errorf("tool %s received %T arguments", inv.Call.Name, inv.Args)
		}
		return fn(ctx, args, inv)
	}
}
