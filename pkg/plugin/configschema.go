package plugin

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultSchemaCacheSize bounds the compiled config schema cache
const DefaultSchemaCacheSize = 128

// NormalizedConfig is a validated configuration with defaults applied
type NormalizedConfig struct {
	Values    map[string]any
	Canonical []byte // canonical JSON encoding of Values
	Hash      string
}

// ConfigSchemaEngine validates and normalizes plugin configuration against
// the draft-7 schema a plugin declares.
type ConfigSchemaEngine struct {
	cache *lru.Cache[string, *gojsonschema.Schema]
}

// NewConfigSchemaEngine creates an engine caching up to size compiled schemas
func NewConfigSchemaEngine(size int) (*ConfigSchemaEngine, error) {
	if size <= 0 {
		size = DefaultSchemaCacheSize
	}
	cache, err := lru.New[string, *gojsonschema.Schema](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema cache: %w", err)
	}
	return &ConfigSchemaEngine{cache: cache}, nil
}

// Compile returns the compiled schema and its content hash
func (e *ConfigSchemaEngine) Compile(schema map[string]any) (*gojsonschema.Schema, string, error) {
	_, canon, err := canonicalize(schema)
	if err != nil {
		return nil, "", err
	}
	key := hashParts(canon)
	if compiled, ok := e.cache.Get(key); ok {
		return compiled, key, nil
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(canon))
	if err != nil {
		return nil, "", fmt.Errorf("failed to compile config schema: %w", err)
	}
	e.cache.Add(key, compiled)
	return compiled, key, nil
}

// Normalize merges input over the schema defaults, validates the result and
// returns its canonical form. Normalizing an already normalized config
// returns the same bytes.
func (e *ConfigSchemaEngine) Normalize(pluginID string, schema, input map[string]any) (*NormalizedConfig, error) {
	if input == nil {
		input = map[string]any{}
	}
	decoded, _, err := canonicalize(input)
	if err != nil {
		return nil, &ConfigValidationError{PluginID: pluginID, Err: err}
	}
	values, ok := decoded.(map[string]any)
	if !ok {
		return nil, &ConfigValidationError{PluginID: pluginID, Err: fmt.Errorf("config must be an object")}
	}

	if len(schema) > 0 {
		normalizedSchema, _, err := canonicalize(schema)
		if err != nil {
			return nil, &ConfigValidationError{PluginID: pluginID, Err: err}
		}
		if s, ok := normalizedSchema.(map[string]any); ok {
			applyDefaults(s, values)
		}
	}

	decoded, canon, err := canonicalize(values)
	if err != nil {
		return nil, &ConfigValidationError{PluginID: pluginID, Err: err}
	}
	values = decoded.(map[string]any)

	if len(schema) > 0 {
		compiled, _, err := e.Compile(schema)
		if err != nil {
			return nil, &ConfigValidationError{PluginID: pluginID, Err: err}
		}
		result, err := compiled.Validate(gojsonschema.NewBytesLoader(canon))
		if err != nil {
			return nil, &ConfigValidationError{PluginID: pluginID, Err: err}
		}
		if fields := resultFieldErrors(result); len(fields) > 0 {
			sortFieldErrors(fields)
			return nil, &ConfigValidationError{PluginID: pluginID, Fields: fields}
		}
	}

	return &NormalizedConfig{
		Values:    values,
		Canonical: canon,
		Hash:      hashParts(canon),
	}, nil
}

// applyDefaults fills missing properties from their schema default and
// recurses into present object values.
func applyDefaults(schema map[string]any, values map[string]any) {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return
	}
	for name, rawProp := range props {
		prop, ok := rawProp.(map[string]any)
		if !ok {
			continue
		}
		current, present := values[name]
		if !present {
			if def, ok := prop["default"]; ok {
				copied, _, err := canonicalize(def)
				if err == nil {
					values[name] = copied
				}
			}
			continue
		}
		if nested, ok := current.(map[string]any); ok {
			applyDefaults(prop, nested)
		}
	}
}
