package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/harun/pluginhost/internal/host"
	"github.com/harun/pluginhost/internal/logger"
	"github.com/harun/pluginhost/internal/tracing"
	"github.com/harun/pluginhost/pkg/plugin"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	listJSON       bool
	listStatus     string
	listType       string
	listTier       string
	listCapability string
	configFile     string
)

var pluginsCmd = &cobra.Command{
	Use:     "plugins",
	Aliases: []string{"plugin"},
	Short:   "Inspect and manage plugins",
	Long: `Inspect and manage plugins. Each command runs one discovery pass over the
configured tiers, acts on the resulting registry and shuts the plugins down again.
Enable flags and saved configs persist in the settings store.`,
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered plugins with their state",
	Args:  cobra.NoArgs,
	RunE:  runPluginsList,
}

var pluginsInfoCmd = &cobra.Command{
	Use:   "info <id>",
	Short: "Show one plugin's manifest, state and config",
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginsInfo,
}

var pluginsEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Activate a plugin and keep it enabled",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runPluginsSetEnabled(cmd, args[0], true) },
}

var pluginsDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Deactivate a plugin and keep it disabled",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runPluginsSetEnabled(cmd, args[0], false) },
}

var pluginsConfigCmd = &cobra.Command{
	Use:   "config <id> [key=value...]",
	Short: "Show or update a plugin's saved config",
	Long: `Without assignments, print the plugin's effective config and schema.
With key=value assignments or --file, merge them onto the effective config,
validate the result against the schema, save it and reload the plugin.
Values are parsed as YAML scalars, so 3, true and [a, b] keep their types.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPluginsConfig,
}

var pluginsCallCmd = &cobra.Command{
	Use:   "call <id> <tool> [key=value...]",
	Short: "Execute a tool provided by a plugin",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runPluginsCall,
}

var pluginsUninstallCmd = &cobra.Command{
	Use:   "uninstall <id>",
	Short: "Stop a plugin and delete its directory",
	Long: `Stop a plugin and delete its directory. Builtin plugins and plugins served
from an embedded filesystem cannot be uninstalled. Active plugins that depend on
it are stopped and reported as failed until the dependency is installed again.`,
	Args: cobra.ExactArgs(1),
	RunE: runPluginsUninstall,
}

func init() {
	pluginsListCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON")
	pluginsListCmd.Flags().StringVar(&listStatus, "status", "", "only plugins in this state")
	pluginsListCmd.Flags().StringVar(&listType, "type", "", "only plugins of this type")
	pluginsListCmd.Flags().StringVar(&listTier, "tier", "", "only plugins from this tier")
	pluginsListCmd.Flags().StringVar(&listCapability, "capability", "", "only plugins declaring this capability")
	pluginsConfigCmd.Flags().StringVarP(&configFile, "file", "f", "", "JSON or YAML file with config values")

	pluginsCmd.AddCommand(pluginsListCmd)
	pluginsCmd.AddCommand(pluginsInfoCmd)
	pluginsCmd.AddCommand(pluginsEnableCmd)
	pluginsCmd.AddCommand(pluginsDisableCmd)
	pluginsCmd.AddCommand(pluginsConfigCmd)
	pluginsCmd.AddCommand(pluginsCallCmd)
	pluginsCmd.AddCommand(pluginsUninstallCmd)
	rootCmd.AddCommand(pluginsCmd)
}

// pluginView is the printed form of a registry record
type pluginView struct {
	ID           string         `json:"id"`
	Name         string         `json:"name,omitempty"`
	Version      string         `json:"version,omitempty"`
	Type         string         `json:"type,omitempty"`
	Tier         string         `json:"tier"`
	Status       string         `json:"status"`
	EntryPoint   string         `json:"entry_point,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Description  string         `json:"description,omitempty"`
	ManifestPath string         `json:"manifest_path,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	Error        string         `json:"error,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func newPluginView(rec plugin.Record) pluginView {
	v := pluginView{
		ID:           rec.ID,
		Tier:         rec.Tier.String(),
		Status:       string(rec.Status),
		ManifestPath: rec.ManifestPath,
		Config:       logger.RedactConfig(rec.Config),
		Error:        rec.ErrorMessage(),
		UpdatedAt:    rec.UpdatedAt,
	}
	if m := rec.Manifest; m != nil {
		v.Name = m.Name
		v.Version = m.Version
		v.Type = string(m.Type)
		v.EntryPoint = m.EntryPoint
		v.Description = m.Description
		for _, c := range m.Capabilities {
			v.Capabilities = append(v.Capabilities, string(c))
		}
	}
	return v
}

func runPluginsList(cmd *cobra.Command, args []string) error {
	filter := plugin.ListFilter{
		Type:       plugin.PluginType(listType),
		Status:     plugin.State(listStatus),
		Capability: plugin.Capability(listCapability),
	}
	var tier *plugin.Tier
	if listTier != "" {
		t, err := plugin.ParseTier(listTier)
		if err != nil {
			return err
		}
		tier = &t
	}

	return withHost(cmd, func(h *host.Host) error {
		var views []pluginView
		for _, rec := range h.Manager().ListPlugins(filter) {
			if tier != nil && rec.Tier != *tier {
				continue
			}
			views = append(views, newPluginView(rec))
		}
		diag := h.Manager().Diagnostics()

		out := cmd.OutOrStdout()
		if listJSON {
			return writeJSON(out, map[string]any{
				"plugins":  views,
				"shadowed": diag.Shadowed,
				"invalid":  invalidViews(diag.Invalid),
			})
		}

		if len(views) == 0 {
			fmt.Fprintln(out, "No plugins found.")
		} else {
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tVERSION\tTYPE\tTIER\tSTATUS\tERROR")
			for _, v := range views {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", v.ID, v.Version, v.Type, v.Tier, v.Status, v.Error)
			}
			w.Flush()
		}

		for _, s := range diag.Shadowed {
			fmt.Fprintf(out, "shadowed: %s (%s) by %s\n", s.ID, s.Tier, s.ShadowedBy)
		}
		for _, inv := range diag.Invalid {
			fmt.Fprintf(out, "invalid: %s (%s) %s\n", inv.ID, inv.Tier, errString(inv.Err))
		}
		return nil
	})
}

func invalidViews(invalid []plugin.InvalidPlugin) []map[string]any {
	out := make([]map[string]any, 0, len(invalid))
	for _, inv := range invalid {
		out = append(out, map[string]any{
			"id":            inv.ID,
			"tier":          inv.Tier.String(),
			"manifest_path": inv.ManifestPath,
			"error":         errString(inv.Err),
		})
	}
	return out
}

func runPluginsInfo(cmd *cobra.Command, args []string) error {
	id := args[0]
	return withHost(cmd, func(h *host.Host) error {
		rec, ok := h.Manager().GetPlugin(id)
		if !ok {
			return fmt.Errorf("plugin not found: %s", id)
		}
		view := newPluginView(rec)

		var tools []plugin.ToolDefinition
		for _, t := range h.Manager().Tools() {
			if t.PluginID == id {
				tools = append(tools, t.Tool)
			}
		}

		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"plugin": view,
			"tools":  tools,
		})
	})
}

func runPluginsSetEnabled(cmd *cobra.Command, id string, enabled bool) error {
	return withHost(cmd, func(h *host.Host) error {
		ctx := tracing.NewOperationContext(cmd.Context(), tracing.TriggerCLI)
		if err := h.SetEnabled(ctx, id, enabled); err != nil {
			return err
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Plugin %s %s.\n", id, state)
		return nil
	})
}

func runPluginsConfig(cmd *cobra.Command, args []string) error {
	id := args[0]
	updates, err := parseAssignments(args[1:])
	if err != nil {
		return err
	}
	if configFile != "" {
		fromFile, err := readValuesFile(configFile)
		if err != nil {
			return err
		}
		for k, v := range updates {
			fromFile[k] = v
		}
		updates = fromFile
	}

	return withHost(cmd, func(h *host.Host) error {
		rec, ok := h.Manager().GetPlugin(id)
		if !ok {
			return fmt.Errorf("plugin not found: %s", id)
		}
		out := cmd.OutOrStdout()

		if len(updates) == 0 {
			schema, err := h.Manager().ConfigSchema(id)
			if err != nil {
				return err
			}
			return writeJSON(out, map[string]any{
				"config": logger.RedactConfig(rec.Config),
				"schema": schema,
			})
		}

		merged := make(map[string]any, len(rec.Config)+len(updates))
		for k, v := range rec.Config {
			merged[k] = v
		}
		for k, v := range updates {
			merged[k] = v
		}

		ctx := tracing.NewOperationContext(cmd.Context(), tracing.TriggerCLI)
		if _, err := h.SaveConfig(ctx, id, merged); err != nil {
			return err
		}
		rec, _ = h.Manager().GetPlugin(id)
		fmt.Fprintf(out, "Saved config for %s (%s).\n", id, rec.Status)
		return nil
	})
}

func runPluginsCall(cmd *cobra.Command, args []string) error {
	id, tool := args[0], args[1]
	params, err := parseAssignments(args[2:])
	if err != nil {
		return err
	}

	return withHost(cmd, func(h *host.Host) error {
		ctx := tracing.NewOperationContext(cmd.Context(), tracing.TriggerCLI)
		result, err := h.Manager().ExecuteTool(ctx, id, tool, params)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), result)
	})
}

func runPluginsUninstall(cmd *cobra.Command, args []string) error {
	id := args[0]
	return withHost(cmd, func(h *host.Host) error {
		rec, ok := h.Manager().GetPlugin(id)
		if !ok {
			return fmt.Errorf("plugin not found: %s", id)
		}
		ctx := tracing.NewOperationContext(cmd.Context(), tracing.TriggerCLI)
		if err := h.Uninstall(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Plugin %s uninstalled from %s.\n", id, rec.Dir)
		return nil
	})
}

// parseAssignments turns key=value arguments into a map, parsing each value
// as a YAML scalar or flow collection
func parseAssignments(args []string) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q, want key=value", arg)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		if value == nil && raw != "null" && raw != "~" {
			value = raw
		}
		out[key] = value
	}
	return out, nil
}

func readValuesFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	values := map[string]any{}
	// YAML is a superset of JSON
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return values, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
