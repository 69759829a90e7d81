package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a profile from the given file path.
//
// The file format is determined by extension: .yaml/.yml for YAML, .json
// for JSON. An unrecognized extension tries YAML first, then JSON. The raw
// document is validated against the embedded schema before parsing, so
// unknown fields are rejected rather than silently dropped.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("profile file not found: %s", path)
		}
		return nil, fmt.Errorf("read profile file: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes parses and validates a profile from raw bytes. The path is
// used for format detection and error messages.
func LoadFromBytes(data []byte, path string) (*Profile, error) {
	if len(data) == 0 {
		return nil, errors.New("profile file is empty")
	}

	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, err
	}
	if err := ValidateRaw(jsonData); err != nil {
		return nil, err
	}

	var p Profile
	if err := json.Unmarshal(jsonData, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	p.ApplyDefaults()
	return &p, nil
}

// LoadDir loads every profile under dir (non-recursive), keyed by name.
// Files that fail to parse are reported together.
func LoadDir(dir string) (map[string]*Profile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Profile{}, nil
		}
		return nil, fmt.Errorf("read profile directory: %w", err)
	}

	profiles := make(map[string]*Profile)
	var loadErrs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}

		p, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			loadErrs = append(loadErrs, fmt.Sprintf("%s: %v", entry.Name(), err))
			continue
		}
		if _, dup := profiles[p.Name]; dup {
			loadErrs = append(loadErrs, fmt.Sprintf("%s: duplicate profile name %q", entry.Name(), p.Name))
			continue
		}
		profiles[p.Name] = p
	}

	if len(loadErrs) > 0 {
		return profiles, fmt.Errorf("failed to load %d profile(s):\n  %s",
			len(loadErrs), strings.Join(loadErrs, "\n  "))
	}
	return profiles, nil
}

func toJSON(data []byte, path string) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json":
		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON in profile: %w", err)
		}
		return data, nil
	case ".yaml", ".yml":
		return yamlToJSON(data)
	default:
		jsonData, err := yamlToJSON(data)
		if err == nil {
			return jsonData, nil
		}
		var raw any
		if jsonErr := json.Unmarshal(data, &raw); jsonErr == nil {
			return data, nil
		}
		return nil, fmt.Errorf("failed to parse profile (tried YAML and JSON): %w", err)
	}
}

func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML in profile: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert profile to JSON: %w", err)
	}
	return jsonData, nil
}
