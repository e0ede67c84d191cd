package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/harun/pluginhost/internal/config"
	"github.com/harun/pluginhost/internal/host"
	"github.com/harun/pluginhost/internal/logger"
	"github.com/harun/pluginhost/internal/tracing"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile       string
	logLevel      string
	workspacePath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pluginhost",
	Short: "Pluginhost - tiered plugin discovery and lifecycle host",
	Long: `Pluginhost discovers plugins across the builtin, system, user and workspace
tiers, validates their manifests and configuration, and manages their lifecycle.`,
	Version:      version,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pluginhost/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error), overrides the config file")
	rootCmd.PersistentFlags().StringVar(&workspacePath, "workspace", "", "workspace directory whose plugins/ folder is the workspace tier")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads the config file and applies the global flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if workspacePath != "" {
		abs, err := filepath.Abs(workspacePath)
		if err != nil {
			return nil, fmt.Errorf("invalid workspace path: %w", err)
		}
		cfg.WorkspacePath = abs
		cfg.Tiers.Workspace = filepath.Join(abs, "plugins")
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger. One-shot commands keep the console
// quiet unless a log level was asked for.
func newLogger(cfg *config.Config, console bool, out io.Writer) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console && console,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
		Output:    out,
		Service:   "pluginhost",
	})
}

// withHost loads the registry once, runs fn and shuts every plugin down again
func withHost(cmd *cobra.Command, fn func(h *host.Host) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Watch.Enabled = false
	cfg.RescanSchedule = ""
	cfg.Metrics.Enabled = false

	log, err := newLogger(cfg, logLevel != "", cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer log.Close()

	h, err := host.New(cfg, log)
	if err != nil {
		return err
	}

	ctx := tracing.NewOperationContext(cmd.Context(), tracing.TriggerCLI)
	if _, err := h.Load(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}

	runErr := fn(h)
	if err := h.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
