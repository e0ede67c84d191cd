package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/harun/pluginhost/pkg/builtin"
	"github.com/harun/pluginhost/pkg/plugin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <plugin-dir>...",
	Short: "Validate plugin directories without loading them",
	Long: `Validate the manifest in each plugin directory: structure, semantics, the
entry point and the config schema, normalized against any config the host
configuration supplies for the plugin. No plugin code is run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// errInvalidPlugins is returned when at least one directory failed validation
var errInvalidPlugins = errors.New("one or more plugins are invalid")

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	engine, err := plugin.NewConfigSchemaEngine(0)
	if err != nil {
		return err
	}
	validator, err := plugin.NewManifestValidator(zerolog.Nop(), engine)
	if err != nil {
		return err
	}
	table := plugin.NewFactoryTable()
	if err := builtin.Register(table); err != nil {
		return err
	}
	loader := plugin.NewManifestLoader(zerolog.Nop())

	out := cmd.OutOrStdout()
	failed := 0
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return err
		}
		manifest, issues := validateDir(loader, validator, engine, table, abs, cfg.Plugins)
		if len(issues) == 0 {
			fmt.Fprintf(out, "ok   %s (%s %s)\n", arg, manifest.ID, manifest.Version)
			continue
		}
		failed++
		fmt.Fprintf(out, "FAIL %s\n", arg)
		for _, issue := range issues {
			fmt.Fprintf(out, "  - %s\n", issue)
		}
	}

	if failed > 0 {
		return errInvalidPlugins
	}
	return nil
}

// validateDir returns the parsed manifest and the problems found in one
// plugin directory; no problems means the plugin is valid
func validateDir(loader *plugin.ManifestLoader, validator *plugin.ManifestValidator, engine *plugin.ConfigSchemaEngine,
	table *plugin.FactoryTable, dir string, inputs map[string]map[string]any) (*plugin.PluginManifest, []string) {
	fsys := os.DirFS(filepath.Dir(dir))
	name, _, err := plugin.FindManifest(fsys, filepath.Base(dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, []string{"no manifest file found"}
		}
		return nil, []string{err.Error()}
	}

	cand := loader.LoadManifest(fsys, filepath.Base(dir), name)
	validator.Validate(cand)
	if !cand.Valid() {
		var me *plugin.ManifestError
		if errors.As(cand.Err, &me) && len(me.Fields) > 0 {
			issues := make([]string, 0, len(me.Fields))
			for _, f := range me.Fields {
				issues = append(issues, f.String())
			}
			return cand.Manifest, issues
		}
		return cand.Manifest, []string{errString(cand.Err)}
	}

	manifest := cand.Manifest
	var issues []string
	unit, class, err := plugin.ParseEntryPoint(manifest.EntryPoint)
	if err != nil {
		issues = append(issues, err.Error())
	} else if !plugin.IsProcessUnit(unit) {
		if _, err := table.Lookup(unit, class); err != nil {
			issues = append(issues, err.Error())
		}
	}

	if _, err := engine.Normalize(manifest.ID, manifest.ConfigSchema, inputs[manifest.ID]); err != nil {
		issues = append(issues, err.Error())
	}
	return manifest, issues
}
