package builtin

import (
	"context"
	"fmt"
	"slices"

	"github.com/harun/pluginhost/pkg/plugin"
)

// ShellTool runs allow-listed commands through the host's command executor.
// With an empty allow-list every command is refused.
type ShellTool struct {
	host    plugin.HostContext
	allowed []string
	dir     string
}

func (s *ShellTool) Initialize(ctx context.Context, host plugin.HostContext) error {
	cfg := host.Config()
	s.host = host
	s.allowed = stringsValue(cfg, "allowed_commands")
	s.dir = stringValue(cfg, "working_dir", "")
	return nil
}

func (s *ShellTool) Shutdown(ctx context.Context) error { return nil }

func (s *ShellTool) Tools() []plugin.ToolDefinition {
	return []plugin.ToolDefinition{{
		Name:        "shell.run",
		Description: "Run an allow-listed command",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string"},
				"args":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []any{"command"},
		},
	}}
}

func (s *ShellTool) ExecuteTool(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	if name != "shell.run" {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	command, _ := params["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("command parameter is required")
	}
	if !slices.Contains(s.allowed, command) {
		return nil, fmt.Errorf("command not allowed: %s", command)
	}

	executor, err := s.host.CommandExecutor()
	if err != nil {
		return nil, err
	}

	res, err := executor.Execute(ctx, plugin.CommandRequest{
		Command: command,
		Args:    stringsValue(params, "args"),
		Dir:     s.dir,
	})
	if err != nil {
		return nil, fmt.Errorf("command failed: %w", err)
	}

	logger := s.host.Logger()
	logger.Debug().
		Str("command", command).
		Int("exit_code", res.ExitCode).
		Msg("Command executed")

	return map[string]any{
		"stdout":    res.Stdout,
		"stderr":    res.Stderr,
		"exit_code": res.ExitCode,
	}, nil
}
