// Package tools holds the actions the agent can take. Each tool is a thin
// wrapper over one vendor call; its output is plain text the model reads back.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	xerrors "EventSync-Agent/internal/errors"
	"EventSync-Agent/internal/upstream"
)

const (
	CodeToolNotFound     xerrors.Code = "TOOL_NOT_FOUND"
	CodeInvalidArguments xerrors.Code = "TOOL_INVALID_ARGUMENTS"
)

func init() {
	xerrors.Register(CodeToolNotFound, xerrors.Attributes{Message: "tool not found", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeInvalidArguments, xerrors.Attributes{Message: "invalid tool arguments", Severity: xerrors.SeverityInfo})
}

// Property is one JSON schema property.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Example     any    `json:"example,omitempty"`
}

// Schema is the JSON schema of a tool's arguments.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Object builds an object schema.
func Object(props map[string]Property, required ...string) Schema {
	if props == nil {
		props = map[string]Property{}
	}
	return Schema{Type: "object", Properties: props, Required: required}
}

// Tool is an action exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() Schema
	// Invoke runs the tool. A vendor rejection is reported in the returned
	// text. When the failure is retryable the error is returned alongside it.
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

type funcTool[T any] struct {
	name        string
	description string
	params      Schema
	fn          func(ctx context.Context, args T) (string, error)
}

// New wraps fn as a Tool whose arguments decode into T.
func New[T any](name, description string, params Schema, fn func(ctx context.Context, args T) (string, error)) Tool {
	return &funcTool[T]{name: name, description: description, params: params, fn: fn}
}

func (t *funcTool[T]) Name() string        { return t.name }
func (t *funcTool[T]) Description() string { return t.description }
func (t *funcTool[T]) Parameters() Schema  { return t.params }

func (t *funcTool[T]) Invoke(ctx context.Context, raw json.RawMessage) (string, error) {
	var args T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", xerrors.Wrap(CodeInvalidArguments, err, fmt.Sprintf("decode %s arguments", t.name))
		}
	}
	return t.fn(ctx, args)
}

// failure renders a vendor rejection the way the model expects:
// "Failed to <action>. Status Code: N. Error: <detail>". useBody selects the
// raw response over the extracted error text. Errors without a vendor status
// are returned unchanged.
func failure(action string, err error, useBody bool) (string, error) {
	se, ok := upstream.AsStatusError(err)
	if !ok {
		return "", err
	}
	detail := se.Detail
	if useBody && se.Body != "" {
		detail = se.Body
	}
	text := fmt.Sprintf("Failed to %s. Status Code: %d. Error: %s", action, se.StatusCode, detail)
	if xerrors.RetryableError(err) {
		return text, err
	}
	return text, nil
}

// compact trims insignificant whitespace from a vendor JSON body.
func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return buf.String()
}
