package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// backend is where Load reads and SetKey writes non-secret keys, addressed
// by dotted name ("server.port"). Values are whatever the store decoded;
// keyType.coerce turns them into Go values.
type backend interface {
	Get(key string) (any, bool)
	Set(key string, v any) error
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "docintel")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "docintel")
	}
	return "docintel-data"
}

// configFilePath is DOCINTEL_CONFIG when set. Otherwise it is config.yaml
// in the docintel config directory if that file exists, else config.json.
func configFilePath() string {
	if p := os.Getenv("DOCINTEL_CONFIG"); p != "" {
		return p
	}
	dir := "."
	if d := os.Getenv("XDG_CONFIG_HOME"); d != "" {
		dir = d
	} else if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".config")
	}
	dir = filepath.Join(dir, "docintel")
	for _, name := range []string{"config.yaml", "config.yml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return filepath.Join(dir, name)
		}
	}
	return filepath.Join(dir, "config.json")
}

// fileBackend keeps a JSON or YAML config file as a flat map of dotted keys.
// Nested objects are flattened on read. YAML is written back nested and
// JSON flat.
type fileBackend struct {
	path   string
	isYAML bool
	values map[string]any
}

func newFileBackend(path string) *fileBackend {
	ext := strings.ToLower(filepath.Ext(path))
	b := &fileBackend{path: path, isYAML: ext == ".yaml" || ext == ".yml", values: map[string]any{}}
	if err := b.read(); err != nil {
		slog.Warn("ignoring config file", "path", path, "error", err)
	}
	return b
}

func (b *fileBackend) read() error {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var doc map[string]any
	if b.isYAML {
		err = yaml.Unmarshal(data, &doc)
	} else {
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return fmt.Errorf("parsing: %w", err)
	}
	flattenInto(b.values, "", doc)
	return nil
}

func flattenInto(dst map[string]any, prefix string, doc map[string]any) {
	for k, v := range doc {
		if prefix != "" {
			k = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flattenInto(dst, k, sub)
		} else {
			dst[k] = v
		}
	}
}

// unflatten rebuilds the nested document, visiting keys in sorted order so
// the output is stable.
func unflatten(values map[string]any) map[string]any {
	doc := map[string]any{}
	for _, key := range slices.Sorted(maps.Keys(values)) {
		parts := strings.Split(key, ".")
		node := doc
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = values[key]
	}
	return doc
}

func (b *fileBackend) Get(key string) (any, bool) {
	v, ok := b.values[key]
	return v, ok
}

// Set stores v and rewrites the whole file.
func (b *fileBackend) Set(key string, v any) error {
	b.values[key] = v
	return b.write()
}

func (b *fileBackend) write() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	var (
		data []byte
		err  error
	)
	if b.isYAML {
		data, err = yaml.Marshal(unflatten(b.values))
	} else {
		data, err = json.MarshalIndent(b.values, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encoding %s: %w", b.path, err)
	}
	return os.WriteFile(b.path, data, 0o600)
}
