package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/c360/runtimeworker/errors"
)

// Supported file formats, selected by extension
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// Loader reads configuration files and merges them in order. Later layers
// override earlier ones key by key.
type Loader struct {
	layers []string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// Load reads and merges every layer. The result is a nested map with
// sections as sub-maps.
func (l *Loader) Load() (map[string]any, error) {
	merged := make(map[string]any)
	for _, path := range l.layers {
		raw, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		merged = deepMergeMaps(merged, raw)
	}
	return merged, nil
}

// FormatOf returns the format for path's extension
func FormatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: unsupported config file extension %q", errors.ErrInvalidConfig, filepath.Ext(path)),
			"config", "FormatOf", "detect format")
	}
}

// LoadFile reads a single configuration file into a map
func LoadFile(path string) (map[string]any, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := readSettingsFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"config", "LoadFile", "read "+path)
	}

	raw, err := decode(format, data)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"config", "LoadFile", "decode "+path)
	}
	return raw, nil
}

func decode(format string, data []byte) (map[string]any, error) {
	raw := make(map[string]any)

	switch format {
	case FormatJSON:
		if err := checkJSONNesting(data); err != nil {
			return nil, err
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	case FormatTOML:
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}

	return raw, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// Flatten turns sections into dash-joined keys:
//
//	prometheus:
//	  push-interval: 5s
//
// becomes "prometheus-push-interval" = "5s". Lists are joined with commas.
func Flatten(raw map[string]any) map[string]string {
	out := make(map[string]string)
	flatten("", raw, out)
	return out
}

func flatten(prefix string, raw map[string]any, out map[string]string) {
	for k, v := range raw {
		key := k
		if prefix != "" {
			key = prefix + "-" + k
		}
		key = strings.ReplaceAll(key, "_", "-")

		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprint(item))
			}
			out[key] = strings.Join(parts, ",")
		case nil:
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}
