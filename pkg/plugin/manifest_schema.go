package plugin

// ManifestSchema is the structural JSON Schema for plugin manifests.
// Identifier formats, semver and capability sets are checked by ManifestValidator.
const ManifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "version", "type", "entry_point"],
  "properties": {
    "id": {
      "type": "string",
      "minLength": 1,
      "description": "Unique plugin identifier"
    },
    "name": {
      "type": "string",
      "description": "Human-readable plugin name"
    },
    "version": {
      "type": "string",
      "minLength": 1,
      "description": "Semver version"
    },
    "type": {
      "type": "string",
      "minLength": 1,
      "description": "Plugin type: tool, service, channel or memory"
    },
    "entry_point": {
      "type": "string",
      "minLength": 1,
      "description": "unit:ClassName"
    },
    "capabilities": {
      "type": "array",
      "items": { "type": "string" },
      "uniqueItems": true
    },
    "dependencies": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": { "type": "string", "minLength": 1 },
          "version": { "type": "string", "description": "Semver constraint (e.g., ^1.0.0)" }
        }
      }
    },
    "config_schema": {
      "type": ["object", "string"],
      "description": "JSON Schema for plugin configuration, or a path relative to the plugin directory"
    },
    "settings": {
      "type": "object",
      "properties": {
        "enabled": { "type": "boolean" },
        "auto_activate": { "type": "boolean" },
        "priority": { "type": "integer", "minimum": 0, "maximum": 100 },
        "hook_timeout": { "type": "string" }
      }
    },
    "hooks": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 }
    },
    "author": { "type": "string" },
    "description": { "type": "string" },
    "license": { "type": "string" },
    "tags": {
      "type": "array",
      "items": { "type": "string" }
    }
  }
}`
