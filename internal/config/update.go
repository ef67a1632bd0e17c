package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/rileyhilliard/meshctl/internal/errors"
)

var sectionComments = map[string]string{
	"log":      "Rotating log file. Copies beyond 'keep' are deleted.",
	"cache":    "How long status lookups are reused.",
	"runner":   "Defaults for every external command: per-attempt timeout and retry backoff.",
	"services": "Managed services. Every command is an argument list, never a shell string.",
	"backup":   "Snapshots of the mesh configuration directories.",
}

// durationKeys hold time.Duration values, which yaml.v3 encodes as
// integer nanoseconds.
var durationKeys = map[string]bool{
	"ttl":           true,
	"version_ttl":   true,
	"timeout":       true,
	"backoff_base":  true,
	"backoff_cap":   true,
	"poll_interval": true,
	"max_wait":      true,
	"lock_timeout":  true,
	"lock_stale":    true,
}

// Marshal renders cfg as commented YAML.
func Marshal(cfg *Config) ([]byte, error) {
	var root yaml.Node
	if err := root.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	humanizeDurations(&root)
	for key, comment := range sectionComments {
		if k := findMapKey(&root, key); k != nil {
			k.HeadComment = comment
		}
	}

	var buf bytes.Buffer
	buf.WriteString("# meshctl configuration\n")
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&root); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	encoder.Close()
	return buf.Bytes(), nil
}

// WriteFile writes cfg to path atomically. An existing file is only
// replaced when force is set.
func WriteFile(path string, cfg *Config, force bool) error {
	if !force && fileExists(path) {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("%s already exists", path),
			"Use --force to overwrite it.")
	}

	data, err := Marshal(cfg)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Couldn't render config", "")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WrapWithCode(err, errors.ErrResource,
			"Couldn't create "+filepath.Dir(path), "Check your permissions.")
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapWithCode(err, errors.ErrResource,
			"Couldn't write "+path, "Check your permissions.")
	}
	return nil
}

// humanizeDurations rewrites duration values as strings like "30s".
func humanizeDurations(node *yaml.Node) {
	if node.Kind == yaml.MappingNode {
		for i := 0; i < len(node.Content)-1; i += 2 {
			k, v := node.Content[i], node.Content[i+1]
			if durationKeys[k.Value] && v.Kind == yaml.ScalarNode {
				if n, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
					v.Value = time.Duration(n).String()
					v.Tag = "!!str"
				}
			}
		}
	}
	for _, c := range node.Content {
		humanizeDurations(c)
	}
}

// findMapKey finds a key node in the top-level mapping of a document or
// mapping node.
func findMapKey(node *yaml.Node, key string) *yaml.Node {
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i < len(node.Content)-1; i += 2 {
		keyNode := node.Content[i]
		if keyNode.Kind == yaml.ScalarNode && keyNode.Value == key {
			return keyNode
		}
	}

	return nil
}
