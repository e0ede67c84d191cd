package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// manifestFiles are tried in order; the first one present wins
var manifestFiles = []string{
	"manifest.json",
	"manifest.yaml",
	"manifest.yml",
	"plugin.json",
	"plugin.yaml",
}

// Candidate is one manifest found during discovery
type Candidate struct {
	Tier         Tier
	Root         string
	Dir          string // directory relative to the tier root
	ManifestPath string
	ModTime      time.Time
	Size         int64

	Raw      map[string]any
	Manifest *PluginManifest
	Digest   string // sha256 of the canonical manifest document

	Issues []FieldError
	Err    error // *ManifestError or *DuplicateIDError when the candidate is invalid

	fsys     fs.FS
	diskRoot string
	sources  []string // files the candidate was built from, relative to fsys
}

// ID returns the declared id, falling back to the directory name
func (c *Candidate) ID() string {
	if c.Manifest != nil && c.Manifest.ID != "" {
		return c.Manifest.ID
	}
	if id, ok := c.Raw["id"].(string); ok && id != "" {
		return id
	}
	return path.Base(c.Dir)
}

// Valid reports whether the candidate passed validation
func (c *Candidate) Valid() bool {
	return c.Err == nil && c.Manifest != nil
}

// OSDir returns the plugin directory on disk, or "" for tiers read through an fs.FS
func (c *Candidate) OSDir() string {
	if c.diskRoot == "" {
		return ""
	}
	return filepath.Join(c.diskRoot, filepath.FromSlash(c.Dir))
}

// ManifestLoader reads manifest files without executing any plugin code
type ManifestLoader struct {
	logger zerolog.Logger
}

// NewManifestLoader creates a new manifest loader
func NewManifestLoader(logger zerolog.Logger) *ManifestLoader {
	return &ManifestLoader{
		logger: logger.With().Str("component", "manifest-loader").Logger(),
	}
}

// FindManifest returns the manifest file name inside dir, or fs.ErrNotExist
func FindManifest(fsys fs.FS, dir string) (string, fs.FileInfo, error) {
	for _, name := range manifestFiles {
		info, err := fs.Stat(fsys, path.Join(dir, name))
		if err == nil && !info.IsDir() {
			return name, info, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", nil, err
		}
	}
	return "", nil, fs.ErrNotExist
}

// LoadManifest parses the manifest file name in dir. Parse failures are
// returned as a *ManifestError; the returned candidate is never nil.
func (m *ManifestLoader) LoadManifest(fsys fs.FS, dir, name string) *Candidate {
	file := path.Join(dir, name)
	cand := &Candidate{Dir: dir, fsys: fsys, sources: []string{file}}

	data, err := fs.ReadFile(fsys, file)
	if err != nil {
		cand.Err = &ManifestError{Path: file, Err: fmt.Errorf("failed to read manifest file: %w", err)}
		return cand
	}

	raw, err := parseManifestDocument(data, name)
	if err != nil {
		cand.Err = &ManifestError{Path: file, Err: err}
		return cand
	}

	if ref, ok := raw["config_schema"].(string); ok {
		schema, schemaFile, err := loadSchemaFile(fsys, dir, ref)
		if schemaFile != "" {
			cand.sources = append(cand.sources, schemaFile)
		}
		if err != nil {
			cand.Issues = append(cand.Issues, FieldError{Field: "config_schema", Reason: err.Error()})
		} else {
			raw["config_schema"] = schema
		}
	}

	_, canon, err := canonicalize(raw)
	if err != nil {
		cand.Err = &ManifestError{Path: file, Err: err}
		return cand
	}
	cand.Raw = raw
	cand.Digest = hashParts(canon)
	cand.Manifest = decodeManifest(canon)

	m.logger.Debug().
		Str("id", cand.ID()).
		Str("file", file).
		Msg("Parsed manifest")

	return cand
}

func parseManifestDocument(data []byte, name string) (map[string]any, error) {
	var doc any
	switch path.Ext(name) {
	case ".yaml", ".yml":
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
		}
		// YAML scalars are normalized to their JSON form
		normalized, _, err := canonicalize(v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
		}
		doc = normalized
	default:
		v, err := decodeJSON(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse manifest JSON: %w", err)
		}
		doc = v
	}

	raw, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("manifest must be an object")
	}
	return raw, nil
}

// loadSchemaFile resolves a config_schema given as a path relative to the plugin directory
func loadSchemaFile(fsys fs.FS, dir, ref string) (map[string]any, string, error) {
	if ref == "" || path.IsAbs(ref) || strings.Contains(ref, "\\") {
		return nil, "", fmt.Errorf("invalid schema path %q", ref)
	}
	file := path.Join(dir, ref)
	if !strings.HasPrefix(file, dir+"/") {
		return nil, "", fmt.Errorf("schema path %q escapes the plugin directory", ref)
	}
	data, err := fs.ReadFile(fsys, file)
	if err != nil {
		return nil, file, fmt.Errorf("failed to read schema file: %w", err)
	}
	v, err := decodeJSON(data)
	if err != nil {
		return nil, file, fmt.Errorf("failed to parse schema file: %w", err)
	}
	schema, ok := v.(map[string]any)
	if !ok {
		return nil, file, fmt.Errorf("schema file must contain an object")
	}
	return schema, file, nil
}

// decodeManifest decodes as much of the document as matches the manifest
// types. Type mismatches are reported by the structural schema.
func decodeManifest(canon []byte) *PluginManifest {
	var manifest PluginManifest
	var typeErr *json.UnmarshalTypeError
	if err := json.Unmarshal(canon, &manifest); err != nil && !errors.As(err, &typeErr) {
		return nil
	}
	return &manifest
}

// ParseManifest parses a manifest from JSON bytes (for testing)
func ParseManifest(data []byte) (*PluginManifest, error) {
	var manifest PluginManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest JSON: %w", err)
	}
	return &manifest, nil
}
