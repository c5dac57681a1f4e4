package targets

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a target list from path.
//
// The format is determined by extension: .yaml/.yml for YAML, .json for
// JSON. Anything else is tried as YAML, then JSON. Unknown fields are
// rejected.
func Load(path string) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("target file not found: %s", path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading target file: %s", path)
		}
		return nil, fmt.Errorf("failed to read target file: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromReader reads a target list from r. path is only used for format
// detection and may be empty.
func LoadFromReader(r io.Reader, path string) (*List, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read target list: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes parses and validates a target list.
func LoadFromBytes(data []byte, path string) (*List, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("target file is empty")
	}

	list, err := parseList(data, path)
	if err != nil {
		return nil, err
	}
	if err := list.Validate(); err != nil {
		return nil, err
	}
	return list, nil
}

func parseList(data []byte, path string) (*List, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return parseJSON(data)
	case ".yaml", ".yml":
		return parseYAML(data)
	default:
		list, yamlErr := parseYAML(data)
		if yamlErr == nil {
			return list, nil
		}
		list, jsonErr := parseJSON(data)
		if jsonErr == nil {
			return list, nil
		}
		return nil, fmt.Errorf("failed to parse target list (tried YAML and JSON): %w", yamlErr)
	}
}

func parseJSON(data []byte) (*List, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var list List
	if err := dec.Decode(&list); err != nil {
		return nil, fmt.Errorf("invalid JSON in target list: %w", err)
	}
	return &list, nil
}

func parseYAML(data []byte) (*List, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var list List
	if err := dec.Decode(&list); err != nil {
		return nil, fmt.Errorf("invalid YAML in target list: %w", err)
	}
	return &list, nil
}
