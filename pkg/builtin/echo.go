package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/pluginhost/pkg/plugin"
)

// EchoTool returns its input, optionally prefixed and uppercased
type EchoTool struct {
	prefix    string
	uppercase bool
}

func (e *EchoTool) Initialize(ctx context.Context, host plugin.HostContext) error {
	cfg := host.Config()
	e.prefix = stringValue(cfg, "prefix", "")
	e.uppercase = boolValue(cfg, "uppercase", false)
	return nil
}

func (e *EchoTool) Shutdown(ctx context.Context) error { return nil }

func (e *EchoTool) Tools() []plugin.ToolDefinition {
	return []plugin.ToolDefinition{{
		Name:        "echo",
		Description: "Echo the given text back",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string", "description": "Text to echo"},
			},
			"required": []any{"text"},
		},
	}}
}

func (e *EchoTool) ExecuteTool(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	if name != "echo" {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	text, ok := params["text"].(string)
	if !ok {
		return nil, fmt.Errorf("text parameter is required")
	}
	if e.uppercase {
		text = strings.ToUpper(text)
	}
	return map[string]any{"text": e.prefix + text}, nil
}
