package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/go-callbridge/pkg/realtime"
)

// builtinTools are the functions every agent can call.
func builtinTools(now func() time.Time) []realtime.Tool {
	return []realtime.Tool{
		{
			Name:        "get_weather",
			Description: "Get the current weather for a city.",
			Parameters: map[string]any{
				"city": map[string]any{"type": "string", "description": "City name"},
			},
			Required: []string{"city"},
			Handler: func(args map[string]any) (string, error) {
				city, _ := args["city"].(string)
				if city == "" {
					return "", errors.New("city is required")
				}
				return fmt.Sprintf("The weather in %s is sunny.", city), nil
			},
		},
		{
			Name:        "get_current_time",
			Description: "Get the current local time.",
			Handler: func(map[string]any) (string, error) {
				return "The current time is " + now().Format("15:04:05"), nil
			},
		},
	}
}
