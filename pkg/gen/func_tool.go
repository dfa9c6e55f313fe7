package gen

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// InvokeFunc executes a tool call with already-decoded arguments.
type InvokeFunc[T any] func(ctx context.Context, arg T) (any, error)

// FuncTool is a callable capability advertised to the model. Argument is the
// JSON schema of the argument object.
type FuncTool struct {
	Name        string
	Description string
	Argument    *jsonschema.Schema

	Invoke func(ctx context.Context, rawArgs string) (any, error)
}

// NewFuncTool builds a tool whose argument schema is derived from ArgType.
// When fn is nil the tool decodes arguments and returns them as-is.
func NewFuncTool[ArgType any](name, description string, fn InvokeFunc[ArgType]) (*FuncTool, error) {
	arg, err := jsonschema.For[ArgType](nil)
	if err != nil {
		return nil, err
	}
	tool := &FuncTool{
		Name:        name,
		Description: description,
		Argument:    arg,
	}
	tool.Invoke = func(ctx context.Context, rawArgs string) (any, error) {
		var v ArgType
		if err := unmarshalJSON([]byte(rawArgs), &v); err != nil {
			return nil, fmt.Errorf("unmarshal %q error: %w", rawArgs, err)
		}
		if fn == nil {
			return &v, nil
		}
		return fn(ctx, v)
	}
	return tool, nil
}

// MustNewFuncTool is NewFuncTool panicking on schema derivation failure.
func MustNewFuncTool[ArgType any](name, description string, fn InvokeFunc[ArgType]) *FuncTool {
	tool, err := NewFuncTool(name, description, fn)
	if err != nil {
		panic(err)
	}
	return tool
}
