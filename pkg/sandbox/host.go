package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/pluginhost/pkg/plugin"
	"github.com/rs/zerolog/log"
)

// HostSandbox runs commands directly on the host with a timeout, a minimal
// environment and working directory rules. It is the plugin.CommandExecutor
// handed to command_exec plugins.
type HostSandbox struct {
	config  Config
	running bool
	mu      sync.RWMutex
}

var _ plugin.CommandExecutor = (*HostSandbox)(nil)

// NewHostSandbox creates a new host-based sandbox
func NewHostSandbox(config Config) (*HostSandbox, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &HostSandbox{
		config:  config,
		running: false,
	}, nil
}

// Start initializes the sandbox
func (h *HostSandbox) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrSandboxAlreadyRunning
	}

	log.Info().
		Dur("timeout", h.config.Timeout).
		Strs("allowed_paths", h.config.FilesystemAccess.AllowedPaths).
		Msg("Starting host sandbox")

	h.running = true
	return nil
}

// Stop cleans up the sandbox
func (h *HostSandbox) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrSandboxNotRunning
	}

	log.Info().Msg("Stopping host sandbox")

	h.running = false
	return nil
}

// IsRunning returns whether the sandbox is running
func (h *HostSandbox) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// GetConfig returns the sandbox configuration
func (h *HostSandbox) GetConfig() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Execute runs a command in the sandbox. A non-zero exit is reported in the
// result, not as an error.
func (h *HostSandbox) Execute(ctx context.Context, req plugin.CommandRequest) (*plugin.CommandResult, error) {
	h.mu.RLock()
	running, cfg := h.running, h.config
	h.mu.RUnlock()
	if !running {
		return nil, ErrSandboxNotRunning
	}
	if req.Command == "" {
		return nil, ErrEmptyCommand
	}

	if err := checkFilesystemAccess(cfg.FilesystemAccess, req.Dir); err != nil {
		return nil, err
	}

	execCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, req.Command, req.Args...)
	if req.Dir != "" {
		cmd.Dir = req.Dir
	}
	cmd.Env = buildEnvironment(cfg.PassEnv, req.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", ErrExecutionTimeout, cfg.Timeout)
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, err
		}
		exitCode = exitErr.ExitCode()
	}

	log.Debug().
		Str("command", req.Command).
		Strs("args", req.Args).
		Int("exit_code", exitCode).
		Dur("duration", duration).
		Msg("Command executed in sandbox")

	return &plugin.CommandResult{
		Stdout:   truncate(stdout.String(), cfg.MaxOutputBytes),
		Stderr:   truncate(stderr.String(), cfg.MaxOutputBytes),
		ExitCode: exitCode,
	}, nil
}

// checkFilesystemAccess checks if a working directory is allowed
func checkFilesystemAccess(access FilesystemAccess, path string) error {
	if path == "" {
		return nil
	}

	cleanPath := filepath.Clean(path)

	// Denied paths win over allowed ones
	for _, denied := range access.DeniedPaths {
		if within(cleanPath, denied) {
			return fmt.Errorf("%w: %s", ErrFilesystemAccessDenied, path)
		}
	}

	if len(access.AllowedPaths) == 0 {
		return nil
	}

	for _, allowed := range access.AllowedPaths {
		if within(cleanPath, allowed) {
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrFilesystemAccessDenied, path)
}

func within(path, root string) bool {
	root = filepath.Clean(root)
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

// buildEnvironment builds the environment variables for the command
func buildEnvironment(pass []string, env map[string]string) []string {
	result := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + os.TempDir(),
	}

	for _, key := range pass {
		if value, ok := os.LookupEnv(key); ok {
			result = append(result, key+"="+value)
		}
	}

	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		result = append(result, fmt.Sprintf("%s=%s", key, env[key]))
	}

	return result
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit]
}
