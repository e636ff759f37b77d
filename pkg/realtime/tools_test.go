package realtime

import (
	"errors"
	"strings"
	"testing"
)

func echoTool() Tool {
	return Tool{
		Name:        "get_weather",
		Description: "Weather for a city.",
		Parameters: map[string]any{
			"city": map[string]any{"type": "string"},
		},
		Required: []string{"city"},
		Handler: func(args map[string]any) (string, error) {
			city, _ := args["city"].(string)
			return "sunny in " + city, nil
		},
	}
}

func TestTools_Register(t *testing.T) {
	var tools Tools

	if err := tools.Register(Tool{Name: "nohandler"}); !errors.Is(err, ErrInvalidTool) {
		t.Errorf("missing handler: %v", err)
	}
	if err := tools.Register(Tool{Handler: echoTool().Handler}); !errors.Is(err, ErrInvalidTool) {
		t.Errorf("missing name: %v", err)
	}

	if err := tools.Register(echoTool()); err != nil {
		t.Fatal(err)
	}
	clock := Tool{Name: "get_current_time", Handler: func(map[string]any) (string, error) { return "noon", nil }}
	if err := tools.Register(clock); err != nil {
		t.Fatal(err)
	}

	// Re-registering replaces in place.
	replaced := echoTool()
	replaced.Description = "v2"
	_ = tools.Register(replaced)

	list := tools.List()
	if tools.Len() != 2 || len(list) != 2 {
		t.Fatalf("Len() = %d, List() = %d", tools.Len(), len(list))
	}
	if list[0].Name != "get_weather" || list[0].Description != "v2" || list[1].Name != "get_current_time" {
		t.Errorf("List() = %+v", list)
	}
}

func TestTools_Call(t *testing.T) {
	var tools Tools
	_ = tools.Register(echoTool())
	_ = tools.Register(Tool{Name: "broken", Handler: func(map[string]any) (string, error) {
		return "", errors.New("backend down")
	}})

	tests := []struct {
		name    string
		call    ToolCall
		want    string
		wantErr error
	}{
		{"ok", ToolCall{Name: "get_weather", Arguments: `{"city":"Paris"}`}, "sunny in Paris", nil},
		{"no arguments", ToolCall{Name: "get_weather"}, "sunny in ", nil},
		{"unknown", ToolCall{Name: "launch"}, "Error: ", ErrUnknownTool},
		{"bad json", ToolCall{Name: "get_weather", Arguments: `{"city":`}, "Error: ", nil},
		{"handler error", ToolCall{Name: "broken", Arguments: `{}`}, "Error: ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tools.Call(tt.call)
			if !strings.HasPrefix(out, tt.want) {
				t.Errorf("output = %q, want prefix %q", out, tt.want)
			}
			if strings.HasPrefix(tt.want, "Error: ") && err == nil {
				t.Error("expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestToolConfigs(t *testing.T) {
	if toolConfigs(nil) != nil {
		t.Error("no tools should render as nil")
	}

	cfgs := toolConfigs([]Tool{echoTool(), {Name: "get_current_time"}})
	if len(cfgs) != 2 {
		t.Fatalf("len = %d", len(cfgs))
	}
	if cfgs[0].Type != "function" || cfgs[0].Parameters.Type != "object" || cfgs[0].Parameters.Required[0] != "city" {
		t.Errorf("weather = %+v", cfgs[0])
	}
	if cfgs[1].Parameters.Properties == nil {
		t.Error("properties must be an empty object, not null")
	}
}
