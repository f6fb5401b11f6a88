package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Bundle is the content of one or more catalog source files.
type Bundle struct {
	Templates []*Template `json:"templates,omitempty" yaml:"templates,omitempty"`
	Overlays  []*Overlay  `json:"overlays,omitempty" yaml:"overlays,omitempty"`
}

// Merge appends other's templates and overlays to b.
func (b *Bundle) Merge(other *Bundle) {
	b.Templates = append(b.Templates, other.Templates...)
	b.Overlays = append(b.Overlays, other.Overlays...)
}

// LoadDir reads every .yaml, .yml and .json file under dir in lexical order.
func LoadDir(dir string) (*Bundle, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk catalog dir %s: %w", dir, err)
	}
	sort.Strings(paths)

	bundle := &Bundle{}
	for _, path := range paths {
		b, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		bundle.Merge(b)
	}
	return bundle, nil
}

// LoadFile parses a single catalog file. Unknown fields are rejected so that
// authoring typos fail the import instead of silently dropping content.
func LoadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file %s: %w", path, err)
	}

	var bundle *Bundle
	if strings.EqualFold(filepath.Ext(path), ".json") {
		bundle, err = DecodeJSON(bytes.NewReader(data))
	} else {
		bundle, err = DecodeYAML(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("parse catalog file %s: %w", path, err)
	}
	return bundle, nil
}

// DecodeYAML decodes a YAML bundle.
func DecodeYAML(r io.Reader) (*Bundle, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var bundle Bundle
	if err := dec.Decode(&bundle); err != nil && err != io.EOF {
		return nil, err
	}
	return &bundle, nil
}

// DecodeJSON decodes a JSON bundle.
func DecodeJSON(r io.Reader) (*Bundle, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var bundle Bundle
	if err := dec.Decode(&bundle); err != nil {
		return nil, err
	}
	return &bundle, nil
}
