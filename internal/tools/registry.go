package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "EventSync-Agent/internal/errors"
	"EventSync-Agent/internal/llm"
	"EventSync-Agent/internal/observability/metrics"
	"EventSync-Agent/pkg/logger"
)

// Registry is the set of tools offered to the model.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	if err := r.Register(tools...); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds tools. Names must be unique.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		if t == nil {
			continue
		}
		name := strings.TrimSpace(t.Name())
		if name == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "tool name is empty")
		}
		if _, exists := r.tools[name]; exists {
			return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("tool %s already registered", name))
		}
		r.tools[name] = t
	}
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names lists registered tool names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs describes every tool for the model, ordered by name.
func (r *Registry) Specs() []llm.ToolSpec {
	names := r.Names()
	specs := make([]llm.ToolSpec, 0, len(names))
	for _, name := range names {
		t, _ := r.Lookup(name)
		params, err := json.Marshal(t.Parameters())
		if err != nil {
			continue
		}
		specs = append(specs, llm.ToolSpec{Name: name, Description: strings.TrimSpace(t.Description()), Parameters: params})
	}
	return specs
}

// Invoke validates args against the tool's required fields and runs it.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (string, error) {
	t, ok := r.Lookup(name)
	if !ok {
		metrics.ObserveTool(name, "not_found")
		return "", xerrors.New(CodeToolNotFound, fmt.Sprintf("tool %s is not available", name))
	}

	args, err := normalizeArgs(t, args)
	if err != nil {
		metrics.ObserveTool(name, "invalid")
		return "", err
	}

	started := time.Now()
	out, err := t.Invoke(ctx, args)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case strings.HasPrefix(out, "Failed to "):
		outcome = "rejected"
	}
	metrics.ObserveTool(name, outcome)

	attrs := []any{
		slog.String("tool", name),
		slog.String("outcome", outcome),
		slog.Duration("duration", time.Since(started)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()), slog.String("code", string(xerrors.CodeOf(err))))
	}
	logger.Audit().Info("tool invocation", attrs...)
	return out, err
}

// normalizeArgs turns empty input into {} and checks required fields.
func normalizeArgs(t Tool, args json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}
	// Some models double-encode the arguments object as a JSON string.
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err == nil {
			trimmed = bytes.TrimSpace([]byte(inner))
		}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, xerrors.Wrap(CodeInvalidArguments, err, fmt.Sprintf("%s arguments must be a JSON object", t.Name()))
	}
	var missing []string
	for _, req := range t.Parameters().Required {
		v, ok := fields[req]
		if !ok || isBlank(v) {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return nil, xerrors.New(CodeInvalidArguments,
			fmt.Sprintf("%s is missing required arguments: %s", t.Name(), strings.Join(missing, ", ")))
	}
	return trimmed, nil
}

func isBlank(v json.RawMessage) bool {
	s := string(bytes.TrimSpace(v))
	return s == "" || s == "null" || s == `""`
}
