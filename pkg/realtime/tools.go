package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInvalidTool indicates a tool without a name or handler.
	ErrInvalidTool = errors.New("realtime: tool needs a name and a handler")

	// ErrUnknownTool indicates the model called a tool that is not registered.
	ErrUnknownTool = errors.New("realtime: unknown tool")
)

// Tool is a function the model may call during a response.
type Tool struct {
	Name        string
	Description string

	// Parameters are the JSON Schema properties of the arguments object.
	Parameters map[string]any
	Required   []string

	// Handler runs the call and returns the text handed back to the model.
	Handler func(args map[string]any) (string, error)
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments string
}

// Tools is a registry of callable tools. The zero value is ready to use.
type Tools struct {
	mu     sync.RWMutex
	byName map[string]Tool
	order  []string
}

// Register adds tool, replacing any tool with the same name.
func (t *Tools) Register(tool Tool) error {
	if tool.Name == "" || tool.Handler == nil {
		return ErrInvalidTool
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byName == nil {
		t.byName = make(map[string]Tool)
	}
	if _, ok := t.byName[tool.Name]; !ok {
		t.order = append(t.order, tool.Name)
	}
	t.byName[tool.Name] = tool
	return nil
}

// Get returns the tool registered under name.
func (t *Tools) Get(name string) (Tool, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tool, ok := t.byName[name]
	return tool, ok
}

// List returns the tools in registration order.
func (t *Tools) List() []Tool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Tool, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.byName[name])
	}
	return out
}

// Len returns the number of registered tools.
func (t *Tools) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

// Call runs a tool call. The output is always something the model can read:
// a failure becomes an error message so the conversation can carry on, and
// is also returned as err.
func (t *Tools) Call(call ToolCall) (output string, err error) {
	tool, ok := t.Get(call.Name)
	if !ok {
		err = fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
		return toolError(err), err
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			err = fmt.Errorf("realtime: tool %s: bad arguments: %w", call.Name, err)
			return toolError(err), err
		}
	}

	out, err := tool.Handler(args)
	if err != nil {
		err = fmt.Errorf("realtime: tool %s: %w", call.Name, err)
		return toolError(err), err
	}
	return out, nil
}

func toolError(err error) string {
	return "Error: " + err.Error()
}

// toolConfigs renders tools for session.update.
func toolConfigs(tools []Tool) []toolConfig {
	if len(tools) == 0 {
		return nil
	}
	out := make([]toolConfig, 0, len(tools))
	for _, tool := range tools {
		props := tool.Parameters
		if props == nil {
			props = map[string]any{}
		}
		out = append(out, toolConfig{
			Type:        "function",
			Name:        tool.Name,
			Description: tool.Description,
			Parameters: toolParameters{
				Type:       "object",
				Properties: props,
				Required:   tool.Required,
			},
		})
	}
	return out
}
