package cli

import (
	"fmt"

	"github.com/harun/pluginhost/internal/host"
	"github.com/spf13/cobra"
)

var (
	serveNoWatch     bool
	serveMetricsAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the plugin host in the foreground",
	Long: `Run the plugin host in the foreground until SIGINT or SIGTERM.
Plugins are discovered and activated at startup, then kept in sync with the
tier roots through file watching and the periodic rescan schedule.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "disable file watching")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveNoWatch {
		cfg.Watch.Enabled = false
	}
	if serveMetricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = serveMetricsAddr
	}

	pidFile := host.PIDFilePath(cfg.DataDir)
	if isRunning(pidFile) {
		return fmt.Errorf("plugin host is already running (PID file: %s)", pidFile)
	}

	log, err := newLogger(cfg, true, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer log.Close()

	h, err := host.New(cfg, log)
	if err != nil {
		return err
	}
	if err := h.Start(); err != nil {
		_ = h.Close()
		return err
	}

	status := h.Status()
	fmt.Fprintf(cmd.OutOrStdout(), "Plugin host running: %d of %d plugins active\n", status.Plugins.Active, status.Plugins.Total)
	if addr := h.MetricsAddr(); addr != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Metrics: http://%s/metrics\n", addr)
	}

	h.Wait()
	return nil
}

// isRunning reports whether the PID file names a live process
func isRunning(pidFile string) bool {
	pid, err := host.ReadPID(pidFile)
	if err != nil {
		return false
	}
	return host.ProcessAlive(pid)
}
