package tools

import (
	"errors"
	"fmt"
)

// UnknownToolError reports a tool name that is not in the catalog.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return "unknown tool: " + e.Name
}

// MissingParameterError reports a required argument that is absent or null.
type MissingParameterError struct {
	Param string
}

func (e *MissingParameterError) Error() string {
	return "missing required parameter: " + e.Param
}

// InvalidParameterError reports an argument that cannot be coerced to its
// declared kind.
type InvalidParameterError struct {
	Param string
	Value any
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid number format for parameter '%s': %v", e.Param, e.Value)
}

// InternalToolError wraps a failure raised while executing a tool.
type InternalToolError struct {
	Tool string
	Err  error
}

func (e *InternalToolError) Error() string {
	return fmt.Sprintf("error executing tool '%s': %v", e.Tool, e.Err)
}

func (e *InternalToolError) Unwrap() error { return e.Err }

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	var (
		unknown *UnknownToolError
		missing *MissingParameterError
		invalid *InvalidParameterError
	)
	return errors.As(err, &unknown) || errors.As(err, &missing) || errors.As(err, &invalid)
}
